// Package bus fans change notifications out to in-process subscribers.
// Delivery is fire-and-forget: events are published after commit, a slow
// subscriber drops events rather than blocking the writer, and a missed
// event is recovered by the next read-through anyway.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veyra/stronghold/internal/types"
)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev types.ChangeEvent)
}

// Nop discards events. Used in tests and the one-shot CLI commands.
type Nop struct{}

func (Nop) Publish(context.Context, types.ChangeEvent) {}

// Memory is an in-process bus with buffered per-subscriber channels.
type Memory struct {
	mu   sync.RWMutex
	subs map[int]chan types.ChangeEvent
	next int
	log  *slog.Logger
}

// DefaultBufferSize bounds each subscriber channel.
const DefaultBufferSize = 64

// NewMemory builds an empty bus.
func NewMemory(log *slog.Logger) *Memory {
	return &Memory{
		subs: make(map[int]chan types.ChangeEvent),
		log:  log,
	}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the channel; the channel is closed on cancel.
func (m *Memory) Subscribe() (<-chan types.ChangeEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	ch := make(chan types.ChangeEvent, DefaultBufferSize)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Full
// subscriber buffers drop the event with a warning.
func (m *Memory) Publish(ctx context.Context, ev types.ChangeEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.WarnContext(ctx, "dropping change event for slow subscriber",
				"subscriber", id,
				"entity_type", ev.EntityType,
				"entity_id", ev.EntityID,
				"version", ev.Version,
			)
		}
	}
}
