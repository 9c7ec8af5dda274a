// Package audit defines the event contract between the governance kernel
// and the external audit sink. Every gate decision emits an event before
// the outcome is returned, so "was this blocked" stays verifiable from the
// trail alone even if the caller's own logging is lost.
//
// Events never carry the raw approval token or raw params payloads.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the kernel's audit vocabulary.
type EventType string

const (
	EventValidatedPass     EventType = "validated_pass"
	EventValidatedEscalate EventType = "validated_escalate"
	EventValidatedReject   EventType = "validated_reject"
	EventApprovalCreated   EventType = "approval_created"
	EventApprovalConsumed  EventType = "approval_consumed"
	EventApprovalExpired   EventType = "approval_expired"
	EventApprovalInvalid   EventType = "approval_invalid"
	EventDAGDiffOK         EventType = "dag_diff_ok"
	EventDAGDiffFailed     EventType = "dag_diff_failed"
	EventExecutionBlocked  EventType = "execution_blocked"
)

// Event is one structured audit record.
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	TenantID      string                 `json:"tenant_id"`
	IRHash        string                 `json:"ir_hash"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Recorder delivers events to the external sink. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// writerRecorder writes one JSON line per event to a configurable Writer.
type writerRecorder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewRecorder creates a Recorder writing to os.Stdout.
func NewRecorder() Recorder {
	return NewRecorderWithWriter(os.Stdout)
}

// NewRecorderWithWriter creates a Recorder writing to the given writer.
// This allows injection for testing and custom sinks.
func NewRecorderWithWriter(w io.Writer) Recorder {
	if w == nil {
		w = os.Stdout
	}
	return &writerRecorder{writer: w}
}

func (r *writerRecorder) Record(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = r.writer.Write(append([]byte("AUDIT: "), append(line, '\n')...))
	return err
}

// multiRecorder fans out to several sinks, returning the first error after
// attempting all of them.
type multiRecorder struct {
	recorders []Recorder
}

// Multi combines recorders into one. Every sink receives every event.
func Multi(recorders ...Recorder) Recorder {
	return &multiRecorder{recorders: recorders}
}

func (m *multiRecorder) Record(ctx context.Context, event Event) error {
	var firstErr error
	for _, r := range m.recorders {
		if err := r.Record(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Capture is an in-memory Recorder for tests.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// NewCapture creates an empty capturing recorder.
func NewCapture() *Capture { return &Capture{} }

func (c *Capture) Record(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Types returns the recorded event types in order.
func (c *Capture) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}
