package ipc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
)

// Handler receives events on the dispatcher goroutine. It must not block:
// mutate thread-safe state and wake the UI side, nothing more.
type Handler func(Event)

// Handle identifies one subscription. The zero Handle identifies nothing.
type Handle struct {
	id uuid.UUID
}

func (h Handle) String() string { return h.id.String() }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

type subscription struct {
	handle Handle
	kind   EventKind
	fn     Handler
	// calls in progress
	running sync.WaitGroup
}

// Registry is the list of (event kind, handler) subscriptions of one
// connection. It is independent of the mirror lock.
type Registry struct {
	mu     sync.Mutex
	byID   map[Handle]*subscription
	byKind map[EventKind][]*subscription
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[Handle]*subscription),
		byKind: make(map[EventKind][]*subscription),
	}
}

// Register appends a subscription. Several subscriptions may share a kind;
// they run in registration order.
func (r *Registry) Register(kind EventKind, fn Handler) Handle {
	if fn == nil {
		return Handle{}
	}
	s := &subscription{handle: Handle{id: uuid.New()}, kind: kind, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.handle] = s
	r.byKind[kind] = append(r.byKind[kind], s)
	return s.handle
}

// Unregister removes the subscription behind h. It may run concurrently
// with Dispatch, including from inside a handler. A call of the handler
// that already started may still be running when Unregister returns; use
// UnregisterAndWait outside handlers when that matters.
func (r *Registry) Unregister(h Handle) bool {
	return r.remove(h) != nil
}

// UnregisterAndWait removes the subscription behind h and waits until no
// call of its handler is running. Calling it from that handler deadlocks.
func (r *Registry) UnregisterAndWait(h Handle) bool {
	s := r.remove(h)
	if s == nil {
		return false
	}
	s.running.Wait()
	return true
}

func (r *Registry) remove(h Handle) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[h]
	if !ok {
		return nil
	}
	delete(r.byID, h)
	subs := r.byKind[s.kind]
	for i, other := range subs {
		if other == s {
			// copy-on-write: Dispatch may hold the old slice
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.byKind, s.kind)
			} else {
				r.byKind[s.kind] = next
			}
			break
		}
	}
	return s
}

// Dispatch invokes every handler subscribed to ev.Kind and returns how
// many ran. Handlers run outside the registry lock. A panicking handler
// does not stop the others; its panic is returned as an error.
func (r *Registry) Dispatch(ev Event) (int, error) {
	r.mu.Lock()
	subs := r.byKind[ev.Kind]
	r.mu.Unlock()

	var errs []error
	n := 0
	for _, s := range subs {
		r.mu.Lock()
		_, live := r.byID[s.handle]
		if live {
			s.running.Add(1)
		}
		r.mu.Unlock()
		if !live {
			continue
		}
		rec := panics.Try(func() { s.fn(ev) })
		s.running.Done()
		if rec != nil {
			errs = append(errs, fmt.Errorf("handler %s for %s: %w", s.handle, ev.Name, rec.AsError()))
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
