// Package pubsub is the observer primitive shared by the connection
// supervisor, the dispatcher and the stores.
package pubsub

import (
	"sync"

	"go.uber.org/zap"
)

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Registry is an ordered set of listeners for one channel. Listeners
// may unsubscribe (themselves or others) from inside a callback; the
// change applies to the next Notify.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
	log    *zap.Logger
}

func NewRegistry[T any](log *zap.Logger) *Registry[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry[T]{log: log}
}

// Add registers fn and returns its unsubscribe func. Calling the
// returned func more than once is harmless.
func (r *Registry[T]) Add(fn func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			// copy so a Notify iterating the old slice is unaffected
			next := make([]subscriber[T], 0, len(r.subs)-1)
			next = append(next, r.subs[:i]...)
			r.subs = append(next, r.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry[T]) snapshot() []subscriber[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs
}

// Freeze captures the current listeners. The returned func notifies
// exactly those, whatever registrations happen in between; stores use it
// to pair a value change with the listener set that must see it.
func (r *Registry[T]) Freeze() func(T) {
	subs := r.snapshot()
	return func(v T) { r.deliver(subs, v) }
}

// Notify calls every listener registered at the time of the call, in
// registration order. A panicking listener is logged and skipped.
func (r *Registry[T]) Notify(v T) {
	r.deliver(r.snapshot(), v)
}

func (r *Registry[T]) deliver(subs []subscriber[T], v T) {
	for _, s := range subs {
		r.call(s, v)
	}
}

func (r *Registry[T]) call(s subscriber[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("listener panicked", zap.Uint64("listener", s.id), zap.Any("panic", p))
		}
	}()
	s.fn(v)
}

// Bus is a set of registries keyed by channel.
type Bus[K comparable, T any] struct {
	mu     sync.Mutex
	topics map[K]*Registry[T]
	log    *zap.Logger
}

func NewBus[K comparable, T any](log *zap.Logger) *Bus[K, T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus[K, T]{topics: make(map[K]*Registry[T]), log: log}
}

func (b *Bus[K, T]) topic(k K) *Registry[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.topics[k]
	if !ok {
		r = NewRegistry[T](b.log)
		b.topics[k] = r
	}
	return r
}

func (b *Bus[K, T]) Subscribe(k K, fn func(T)) func() {
	return b.topic(k).Add(fn)
}

func (b *Bus[K, T]) Publish(k K, v T) {
	b.topic(k).Notify(v)
}

// Listeners returns the number of listeners on channel k.
func (b *Bus[K, T]) Listeners(k K) int {
	return b.topic(k).Len()
}
