// Package progress implements the keyed pub/sub progress stream (C6): a
// per-job handle publishes status text and preview frames, fanned out to any
// attached subscribers (including a remote websocket tail).
package progress

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// MessageKind distinguishes a coarse phase marker from a preview frame.
type MessageKind string

const (
	KindStatus MessageKind = "status"
	KindFrame  MessageKind = "frame"
)

// Message is one unit published to a job's progress stream.
type Message struct {
	Kind  MessageKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Frame []byte      `json:"frame,omitempty"`
}

// streamCapacity bounds each job's buffered channel; beyond this, the oldest
// unread message is dropped rather than blocking the reporting job.
const streamCapacity = 500

// Hub fans messages out to subscribers, keyed by job token.
type Hub struct {
	mu     sync.Mutex
	logger *slog.Logger
	topics map[string]*topic
}

type topic struct {
	mu          sync.Mutex
	subscribers map[chan Message]struct{}
}

// NewHub creates an empty progress hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, topics: make(map[string]*topic)}
}

// Reporter is a per-job handle bound to one job token.
type Reporter struct {
	hub      *Hub
	jobToken string
}

// For returns a Reporter scoped to jobToken.
func (h *Hub) For(jobToken string) *Reporter {
	return &Reporter{hub: h, jobToken: jobToken}
}

// LogStatus emits a coarse phase marker, e.g. "running inference".
func (r *Reporter) LogStatus(text string) {
	r.hub.publish(r.jobToken, Message{Kind: KindStatus, Text: text})
}

// PublishPreviewFrame emits an intermediate preview frame for video jobs.
func (r *Reporter) PublishPreviewFrame(frame []byte) {
	r.hub.publish(r.jobToken, Message{Kind: KindFrame, Frame: frame})
}

func (h *Hub) publish(jobToken string, msg Message) {
	h.mu.Lock()
	t, ok := h.topics[jobToken]
	h.mu.Unlock()
	if !ok {
		// No subscriber has ever attached; publishing is best-effort, so
		// there is nothing to do.
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subscribers {
		select {
		case sub <- msg:
		default:
			// Overflow: drop the oldest buffered message to make room,
			// rather than block the job or lose the newest update.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- msg:
			default:
				h.logger.Warn("progress: subscriber channel still full after drop", "job_token", jobToken)
			}
		}
	}
}

// Subscribe attaches a new listener for jobToken, reading only messages
// emitted from this point forward. The returned cancel func detaches it.
func (h *Hub) Subscribe(jobToken string) (ch <-chan Message, cancel func()) {
	h.mu.Lock()
	t, ok := h.topics[jobToken]
	if !ok {
		t = &topic{subscribers: make(map[chan Message]struct{})}
		h.topics[jobToken] = t
	}
	h.mu.Unlock()

	sub := make(chan Message, streamCapacity)
	t.mu.Lock()
	t.subscribers[sub] = struct{}{}
	t.mu.Unlock()

	return sub, func() {
		t.mu.Lock()
		delete(t.subscribers, sub)
		t.mu.Unlock()
		close(sub)
	}
}

// marshal encodes a Message as JSON for the websocket tail.
func (m Message) marshal() ([]byte, error) {
	return json.Marshal(m)
}
