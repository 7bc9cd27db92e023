package event

import (
	"sync"
)

type Handler[Key, Event any] interface {
	OnEvent(key Key, e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Key, Event any] func(Key, Event)

// OnEvent calls f(key, e).
func (f HandlerFunc[Key, Event]) OnEvent(key Key, e Event) {
	f(key, e)
}

// Bus fans events out to its handlers. Each handler is invoked on its own
// goroutine, so a slow handler never holds up the publisher. Events are not
// guaranteed to reach a handler in the order they were raised.
type Bus[Key, Event any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler[Key, Event]
}

func NewBus[Key, Event any]() *Bus[Key, Event] {
	return &Bus[Key, Event]{
		handlers: map[uint64]Handler[Key, Event]{},
	}
}

// AddHandler registers h and returns a func that removes it again.
func (b *Bus[Key, Event]) AddHandler(h Handler[Key, Event]) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Handlers returns the number of registered handlers.
func (b *Bus[Key, Event]) Handlers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers)
}

func (b *Bus[Key, Event]) OnEvent(key Key, e Event) error {
	b.mu.RLock()
	handlers := make([]Handler[Key, Event], 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h.OnEvent(key, e)
	}

	return nil
}
