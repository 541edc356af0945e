package bus

import (
	"context"
	"reflect"
	"sync"
)

// Handler is a local synchronous callback invoked during fan-out.
type Handler func(ctx context.Context, evt Event) error

// handlerRegistry maps event types to ordered handler lists, with a separate
// list for wildcard registrations. Invocation order is registration order:
// type handlers first, then wildcard handlers.
type handlerRegistry struct {
	mu       sync.RWMutex
	byType   map[string][]Handler
	wildcard []Handler
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{byType: make(map[string][]Handler)}
}

// add registers a handler for eventType (or Wildcard) in arrival order.
func (r *handlerRegistry) add(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if eventType == Wildcard {
		r.wildcard = append(r.wildcard, h)
		return
	}
	r.byType[eventType] = append(r.byType[eventType], h)
}

// remove drops the first registration of h for eventType. Handlers are
// matched by function identity, so the same value passed to add must be
// passed to remove.
func (r *handlerRegistry) remove(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := reflect.ValueOf(h).Pointer()
	if eventType == Wildcard {
		r.wildcard = removeHandler(r.wildcard, target)
		return
	}
	handlers := removeHandler(r.byType[eventType], target)
	if len(handlers) == 0 {
		delete(r.byType, eventType)
		return
	}
	r.byType[eventType] = handlers
}

// handlersFor returns a snapshot of the handlers to invoke for eventType, in
// deterministic order. The snapshot is safe to iterate without the lock.
func (r *handlerRegistry) handlersFor(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	typed := r.byType[eventType]
	snapshot := make([]Handler, 0, len(typed)+len(r.wildcard))
	snapshot = append(snapshot, typed...)
	snapshot = append(snapshot, r.wildcard...)
	return snapshot
}

func removeHandler(handlers []Handler, target uintptr) []Handler {
	for i, h := range handlers {
		if reflect.ValueOf(h).Pointer() == target {
			return append(handlers[:i:i], handlers[i+1:]...)
		}
	}
	return handlers
}
