package hsms

import (
	"sync"
	"sync/atomic"

	"github.com/fablink/go-hsms/internal/util"
)

// ListenerID identifies a registered listener. IDs are unique process wide, so an
// ID never matches a listener of another registry.
type ListenerID uint64

var listenerIDs atomic.Uint64

func nextListenerID() ListenerID {
	return ListenerID(listenerIDs.Add(1))
}

type listenerEntry[L any] struct {
	id ListenerID
	fn L
}

// ListenerRegistry is a copy-on-write set of listeners.
//
// Readers take a snapshot without locking, so Add and Remove may run while a
// dispatch is iterating an older snapshot.
type ListenerRegistry[L any] struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]listenerEntry[L]]
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry[L any]() *ListenerRegistry[L] {
	r := &ListenerRegistry[L]{}
	r.entries.Store(&[]listenerEntry[L]{})

	return r
}

// Add registers fn and returns the ID used to remove it.
func (r *ListenerRegistry[L]) Add(fn L) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := nextListenerID()
	old := *r.entries.Load()
	entries := util.CloneSlice(old, len(old)+1)
	entries = append(entries, listenerEntry[L]{id: id, fn: fn})
	r.entries.Store(&entries)

	return id
}

// Remove unregisters the listener with the given ID. Removing an unknown or
// already removed ID is a no-op that returns false.
func (r *ListenerRegistry[L]) Remove(id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.entries.Load()
	for i, e := range old {
		if e.id != id {
			continue
		}

		entries := util.RemoveAt(old, i)
		r.entries.Store(&entries)

		return true
	}

	return false
}

// Len returns the number of registered listeners.
func (r *ListenerRegistry[L]) Len() int {
	return len(*r.entries.Load())
}

// snapshot returns the current immutable entry slice.
func (r *ListenerRegistry[L]) snapshot() []listenerEntry[L] {
	return *r.entries.Load()
}

// Listeners returns the registered listeners in registration order.
func (r *ListenerRegistry[L]) Listeners() []L {
	entries := r.snapshot()
	result := make([]L, len(entries))
	for i, e := range entries {
		result[i] = e.fn
	}

	return result
}
