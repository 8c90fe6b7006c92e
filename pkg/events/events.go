package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the session engine. They double as routing keys.
const (
	TypeSessionCreated    = "session.created"
	TypeSessionCompleted  = "session.completed"
	TypeSessionSkipped    = "session.skipped"
	TypeExecutionRecorded = "execution.recorded"
	TypeExecutionReset    = "execution.reset"
)

// Event is a session lifecycle notification.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ProjectID  int64     `json:"project_id"`
	SessionID  int64     `json:"test_session_id"`
	TestCaseID int64     `json:"test_case_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Count      int64     `json:"count,omitempty"` // Affected executions for bulk operations
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event with a fresh id.
func New(eventType string, projectID, sessionID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ProjectID:  projectID,
		SessionID:  sessionID,
		OccurredAt: at.UTC(),
	}
}

// AckNacker settles a consumed message.
type AckNacker interface {
	Ack() error              // Acknowledge successful processing.
	Nack(requeue bool) error // Reject processing. requeue=true puts back in queue.
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error

	// Close releases any resources held by the publisher (e.g., connections).
	Close() error
}

// Subscriber pulls events from a named queue.
type Subscriber interface {
	// Next returns the next event on the queue, or nil when the queue is empty.
	// The caller must settle the returned AckNacker.
	Next(ctx context.Context, queue string) (*Event, AckNacker, error)
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends the event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
