package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Publisher is the seam for publishing call events. Implementations may
// be no-op, logging, in-memory (for testing), or a broker client.
type Publisher interface {
	// Publish sends an event. Returns error only for transport
	// failures, not for invalid events.
	Publish(ctx context.Context, event Event) error

	// Close releases resources
	Close() error
}

// NoopPublisher discards all events. Used when no event sink is configured.
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher
func (NoopPublisher) Close() error { return nil }

// LogPublisher writes events to the structured log. Useful in
// development and as a last-resort audit trail.
type LogPublisher struct{}

// Publish implements Publisher
func (LogPublisher) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	slog.Info("[Events] Published", "subject", event.Subject(), "event", string(data))
	return nil
}

// Close implements Publisher
func (LogPublisher) Close() error { return nil }

// MemoryPublisher collects events in memory for tests
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close implements Publisher
func (p *MemoryPublisher) Close() error { return nil }
