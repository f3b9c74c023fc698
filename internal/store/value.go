// Package store holds the last-writer-wins snapshot caches fed by the
// backend: registry, guard (fuse) config, automation config and status,
// and game state. Stores never talk to the network; whoever mutates a
// store locally is responsible for sending the matching edit.
package store

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/shanten-tools/companion/internal/pubsub"
)

var ErrStaleRevision = errors.New("store changed since it was read")

// Value is an observable cell. Values handed to Store or returned from
// an Update func are treated as immutable: build a new map/slice instead
// of editing the one you loaded.
//
// Subscribers see changes one at a time in revision order, even with
// writers on several goroutines. A subscriber must not write to the
// Value that is notifying it.
type Value[T any] struct {
	// held across delivery; taken before mu
	notifyMu sync.Mutex

	mu   sync.RWMutex
	v    T
	rev  uint64
	subs *pubsub.Registry[T]
}

func NewValue[T any](initial T, log *zap.Logger) *Value[T] {
	return &Value[T]{v: initial, subs: pubsub.NewRegistry[T](log)}
}

func (s *Value[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// LoadRev returns the value with its revision, for index-based edits
// that must apply to the version the caller looked at.
func (s *Value[T]) LoadRev() (T, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, s.rev
}

// Store replaces the value and notifies subscribers.
func (s *Value[T]) Store(v T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	s.v = v
	s.rev++
	notify := s.subs.Freeze()
	s.mu.Unlock()
	notify(v)
}

// Update replaces the value with fn(current) atomically.
func (s *Value[T]) Update(fn func(T) T) T {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	next := fn(s.v)
	s.v = next
	s.rev++
	notify := s.subs.Freeze()
	s.mu.Unlock()
	notify(next)
	return next
}

// UpdateAt is Update guarded by a revision check. fn may refuse the
// change by returning an error; nothing is stored or notified then.
func (s *Value[T]) UpdateAt(rev uint64, fn func(T) (T, error)) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if rev != s.rev {
		s.mu.Unlock()
		return ErrStaleRevision
	}
	next, err := fn(s.v)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.v = next
	s.rev++
	notify := s.subs.Freeze()
	s.mu.Unlock()
	notify(next)
	return nil
}

// Subscribe returns the current value and registers fn for every later
// change. The returned value is never delivered to fn again, and no
// change after it is missed.
func (s *Value[T]) Subscribe(fn func(T)) (T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.subs.Add(fn)
}
