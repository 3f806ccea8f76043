package notifications

import "sync"

// Bus is a synchronous registry of zero-argument callbacks. Every
// externally visible state change publishes once; subscribers must be fast
// or defer their own heavy work. No ordering is guaranteed across
// callbacks.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	callbacks map[int]func()
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{callbacks: map[int]func(){}}
}

// Subscribe registers a callback and returns a function that removes it.
func (b *Bus) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.callbacks[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.callbacks, id)
		b.mu.Unlock()
	}
}

// Publish invokes every registered callback synchronously.
func (b *Bus) Publish() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.callbacks))
	for _, fn := range b.callbacks {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
