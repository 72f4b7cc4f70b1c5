package notify

import (
	"context"
	"sync"
)

// Memory keeps every event it receives. Useful for tests and the chat
// demo, which echoes notifications back to the operator.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (m *Memory) Notify(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the received events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds returns how many events of each kind were received.
func (m *Memory) Kinds() map[Kind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Kind]int)
	for _, ev := range m.events {
		out[ev.Kind]++
	}
	return out
}
