package subprocess

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCLIRunner_SuccessCapturesNoError(t *testing.T) {
	r := NewCLIRunner("echo", "true", nil, time.Second, 50*time.Millisecond, nil)
	res := r.Run(context.Background(), Request{})
	if res.Status != Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestCLIRunner_NonZeroExitIsFailure(t *testing.T) {
	r := NewCLIRunner("false", "false", nil, time.Second, 50*time.Millisecond, nil)
	res := r.Run(context.Background(), Request{})
	if res.Status != Failure {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestCLIRunner_TimeoutIsReported(t *testing.T) {
	r := NewCLIRunner("sleep", "sleep", []string{"5"}, 100*time.Millisecond, 50*time.Millisecond, nil)
	res := r.Run(context.Background(), Request{Timeout: 100 * time.Millisecond})
	if res.Status != Timeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestCLIRunner_PreviewFramesAreReported(t *testing.T) {
	dir := t.TempDir()
	frames := make(chan string, 10)

	r := NewCLIRunner("sleep", "sleep", []string{"1"}, time.Second, 20*time.Millisecond, nil)
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "frame_0001.png"), []byte("x"), 0o644)
	}()

	r.Run(context.Background(), Request{
		PreviewDir:     dir,
		OnPreviewFrame: func(path string) { frames <- path },
	})

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one preview frame callback")
	}
}

func TestHTTPRunner_SuccessParsesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var parsed string
	runner := NewHTTPRunner("test-sidecar", srv.URL, "/infer", time.Second,
		func(req Request) (interface{}, error) { return map[string]string{"x": "y"}, nil },
		func(body []byte) error { parsed = string(body); return nil },
		nil,
	)

	res := runner.Run(context.Background(), Request{})
	if res.Status != Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if parsed == "" {
		t.Fatal("expected parseReply to observe response body")
	}
}

func TestHTTPRunner_NonOKStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	runner := NewHTTPRunner("test-sidecar", srv.URL, "/infer", time.Second,
		func(req Request) (interface{}, error) { return map[string]string{}, nil },
		nil, nil,
	)

	res := runner.Run(context.Background(), Request{})
	if res.Status != Failure {
		t.Fatalf("expected failure, got %+v", res)
	}
}
