// Package pubsub is a small fan-out registry used for index-level and
// session-level change notifications.
package pubsub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrSubscriberPanic wraps a panic recovered from a callback.
	ErrSubscriberPanic = errors.New("subscriber panicked")
	// ErrStop may be returned by a callback to unsubscribe itself quietly.
	ErrStop = errors.New("stop subscription")
)

// Handle identifies one subscription. The zero Handle is invalid.
type Handle struct {
	id string
}

// String returns the handle's id.
func (h Handle) String() string { return h.id }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.id == "" }

// Callback receives one published value. A non-nil error marks the
// subscriber dead and removes it.
type Callback[T any] func(T) error

type subscription[T any] struct {
	handle Handle
	fn     Callback[T]

	mu     sync.Mutex // serialises invocations
	active atomic.Bool
}

// Registry delivers each published value to every live subscriber.
type Registry[T any] struct {
	name   string
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscription[T]
}

// NewRegistry creates an empty registry. name is used in log output.
func NewRegistry[T any](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry[T]{
		name:   name,
		logger: logger,
		subs:   make(map[string]*subscription[T]),
	}
}

// Subscribe registers fn and returns its handle.
func (r *Registry[T]) Subscribe(fn Callback[T]) Handle {
	sub := &subscription[T]{
		handle: Handle{id: uuid.New().String()},
		fn:     fn,
	}
	sub.active.Store(true)
	r.mu.Lock()
	r.subs[sub.handle.id] = sub
	r.mu.Unlock()
	return sub.handle
}

// Unsubscribe removes the subscription and reports whether h was live.
// No invocation starts after it returns; one already running finishes.
// It may be called from inside the callback itself.
func (r *Registry[T]) Unsubscribe(h Handle) bool {
	r.mu.Lock()
	sub, ok := r.subs[h.id]
	delete(r.subs, h.id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sub.active.Store(false)
	return true
}

// Len returns the number of live subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish delivers v to every subscriber registered at the time of the call.
// Delivery is synchronous; a failing or panicking subscriber is removed and
// does not affect the others. It returns the number of successful deliveries.
func (r *Registry[T]) Publish(v T) int {
	r.mu.RLock()
	subs := make([]*subscription[T], 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		err := r.deliver(sub, v)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, errInactive):
		case errors.Is(err, ErrStop):
			r.remove(sub)
		default:
			r.logger.Warn("removing dead subscriber", "registry", r.name, "handle", sub.handle.id, "err", err)
			r.remove(sub)
		}
	}
	return delivered
}

var errInactive = errors.New("inactive")

func (r *Registry[T]) deliver(sub *subscription[T], v T) (err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.active.Load() {
		return errInactive
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanic, p)
		}
	}()
	return sub.fn(v)
}

func (r *Registry[T]) remove(sub *subscription[T]) {
	r.mu.Lock()
	if cur, ok := r.subs[sub.handle.id]; ok && cur == sub {
		delete(r.subs, sub.handle.id)
	}
	r.mu.Unlock()
	sub.active.Store(false)
}
