// Package events carries coordinator and agent notifications to any number of
// independent observers (transports, tests).
package events

import "sync"

// Handler is a callback function for events.
type Handler[T any] func(T)

type subscriber[T any] struct {
	id int
	h  Handler[T]
}

// Bus is a typed event bus. Handlers run synchronously on the publishing
// goroutine in subscription order, so they must not block.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	nextID int
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus[T]) Subscribe(h Handler[T]) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber[T]{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Channel subscribes a buffered channel. Events are dropped for this
// subscriber while its buffer is full; dropped reports how many.
func (b *Bus[T]) Channel(size int) (ch <-chan T, unsubscribe func(), dropped func() int) {
	c := make(chan T, size)
	var mu sync.Mutex
	var n int
	closed := false
	unsub := b.Subscribe(func(ev T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case c <- ev:
		default:
			n++
		}
	})
	stop := func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(c)
		}
		mu.Unlock()
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
	return c, stop, count
}

// Publish sends an event to all registered handlers.
func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	snapshot := make([]Handler[T], len(b.subs))
	for i, s := range b.subs {
		snapshot[i] = s.h
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(ev)
	}
}

// Count returns the number of registered handlers.
func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
