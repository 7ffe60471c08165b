// Package signal provides the typed event fan-out used by endpoints to
// publish lifecycle and data events. Handlers run on the dispatcher, in
// registration order. Signals are fire-and-forget; handlers must not block.
package signal

import (
	"sync"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
)

// Signal is a list of subscriber callbacks invoked on the dispatcher thread.
type Signal[T any] struct {
	d        *dispatcher.Dispatcher
	mu       sync.Mutex
	handlers []func(T)
}

// New creates a Signal that dispatches through d.
func New[T any](d *dispatcher.Dispatcher) *Signal[T] {
	return &Signal[T]{d: d}
}

// Connect registers a handler. Handlers are invoked in registration order.
func (s *Signal[T]) Connect(fn func(T)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Emit schedules all connected handlers to run on the dispatcher with v.
// Handlers registered after Emit returns do not observe this emission.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	handlers := make([]func(T), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	s.d.Enqueue(func() {
		for _, fn := range handlers {
			fn(v)
		}
	})
}
