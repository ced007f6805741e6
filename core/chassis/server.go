package chassis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"inferno/core/data"
	"inferno/jobstore"
	"inferno/progress"
)

// Service is a registrable HTTP endpoint group (jobs, admin, etc).
type Service interface {
	RegisterHTTP(r chi.Router)
}

// Server is the worker's admin/health HTTP surface: plain net/http, no
// transport beyond what the operator's reverse proxy terminates.
type Server struct {
	addr       string
	useTLS     bool
	logger     *slog.Logger
	services   map[string]Service
	httpRouter *chi.Mux
	httpServer *http.Server
	mu         sync.RWMutex
}

// NewServer builds a Server with /healthz, /jobs/{job_id}, and
// /progress/{job_token} wired against store and hub. When useTLS is set,
// Start serves over a self-signed development certificate instead of
// plaintext HTTP, for deployments where the admin surface is reachable
// outside a private network segment.
func NewServer(logger *slog.Logger, addr string, useTLS bool, store *jobstore.Store, hub *progress.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", handleHealthz)
	r.Get("/jobs/{job_id}", handleGetJob(store))
	r.Get("/progress/{job_token}", handleProgress(hub))

	return &Server{
		addr:       addr,
		useTLS:     useTLS,
		logger:     logger,
		services:   make(map[string]Service),
		httpRouter: r,
	}
}

// RegisterService mounts an additional service's routes onto the router.
func (s *Server) RegisterService(name string, svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}

	s.logger.Info("registering service", "name", name)
	svc.RegisterHTTP(s.httpRouter)
	s.services[name] = svc
	return nil
}

// Start blocks serving HTTP (or HTTPS, if useTLS) until the listener is closed.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting admin server", "addr", s.addr, "tls", s.useTLS)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.httpRouter,
	}
	s.mu.Unlock()

	if !s.useTLS {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	}

	tlsConfig, err := NewDevelopmentTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to generate TLS config: %w", err)
	}
	s.mu.Lock()
	s.httpServer.TLSConfig = tlsConfig
	s.mu.Unlock()

	if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping admin server")

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop admin server: %w", err)
		}
	}

	s.logger.Info("admin server stopped")
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func handleGetJob(store *jobstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "job_id")
		id, err := data.ParseUUID(idParam)
		if err != nil {
			http.Error(w, "invalid job id", http.StatusBadRequest)
			return
		}

		job, err := store.Get(id)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load job", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func handleProgress(hub *progress.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "job_token")
		hub.ServeTail(w, r, token)
	}
}
