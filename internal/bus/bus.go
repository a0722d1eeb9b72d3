// Package bus carries messages between the panel channel and the agent
// loop inside one process.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus. User turns flow in
// toward the agent; agent events fan out to every subscriber.
type InMemoryBus struct {
	turns  chan domain.UserTurn
	mu     sync.RWMutex
	subs   map[int]func(domain.AgentEvent)
	nextID int
	closed bool
	logger *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		turns:  make(chan domain.UserTurn, bufferSize),
		subs:   make(map[int]func(domain.AgentEvent)),
		logger: logger,
	}
}

// Publish delivers a user turn to the agent consumer. Blocks up to 10
// seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(turn domain.UserTurn) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.turns <- turn:
	default:
		b.logger.Warn("inbound bus full, waiting...", "session", turn.SessionKey)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.turns <- turn:
			b.logger.Info("turn delivered after wait", "session", turn.SessionKey)
		case <-timer.C:
			b.logger.Error("turn dropped: bus full for 10s", "session", turn.SessionKey)
		}
	}
}

// Turns is the inbound stream consumed by the agent loop.
func (b *InMemoryBus) Turns() <-chan domain.UserTurn {
	return b.turns
}

// Emit fans an agent event out to every subscriber. Handlers run on
// the caller's goroutine and must not block.
func (b *InMemoryBus) Emit(ev domain.AgentEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.subs) == 0 {
		b.logger.Debug("agent event with no subscribers", "type", ev.Type)
		return
	}
	for _, handler := range b.subs {
		handler(ev)
	}
}

// Subscribe registers an event handler and returns its removal func.
func (b *InMemoryBus) Subscribe(handler func(domain.AgentEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.turns)
	}
}
