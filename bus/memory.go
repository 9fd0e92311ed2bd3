package bus

import (
	"context"
	"errors"
	"sync"
)

var _ IBus = &InMemoryBus{}

// InMemoryBus hands every published message synchronously to all subscribers.
// A subscriber error fails the publish, so the outbox row stays unprocessed.
type InMemoryBus struct {
	mu       sync.RWMutex
	seq      int
	handlers map[int]Handler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: map[int]Handler{}}
}

func (b *InMemoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Register adds handler and returns the function removing it.
func (b *InMemoryBus) Register(handler Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := b.seq
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *InMemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	cancel := b.Register(handler)
	defer cancel()
	<-ctx.Done()
	return nil
}
