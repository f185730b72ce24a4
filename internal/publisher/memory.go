package publisher

import (
	"context"
	"fmt"
	"sync"
)

// Memory records published events in process. Used in tests and when no
// broker is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Event is one recorded publication.
type Event struct {
	Topic   string
	Payload []byte
}

// NewMemory returns an empty recording publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event and returns a sequence-number ID.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Topic: topic, Payload: append([]byte(nil), payload...)})
	return fmt.Sprintf("mem-%d", len(m.events)), nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
