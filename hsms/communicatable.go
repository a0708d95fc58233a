package hsms

import (
	"context"
	"fmt"
	"sync"

	"github.com/fablink/go-hsms/logger"
)

// CommunicatableState is an observable boolean telling whether the session is
// selected and usable for data messages.
//
// Change listeners are called from the state's own dispatcher, in the order of
// the changes. A listener added with AddChangeListener first receives the value
// current at registration time.
type CommunicatableState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   bool
	closed  bool
	changes *Dispatcher[bool]
}

// NewCommunicatableState creates a state holding false.
func NewCommunicatableState(l logger.Logger) *CommunicatableState {
	s := &CommunicatableState{changes: NewDispatcher[bool]("communicatable", l)}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Start starts delivery of change notifications on mgr.
func (s *CommunicatableState) Start(mgr *TaskManager) error {
	return s.changes.Start(mgr)
}

// Get returns the current value.
func (s *CommunicatableState) Get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value
}

// Set updates the value. Listeners and waiters are notified only when the value
// changes. It returns true if the value changed.
func (s *CommunicatableState) Set(value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == value || (value && s.closed) {
		return false
	}

	s.value = value
	s.changes.Notify(value)
	s.cond.Broadcast()

	return true
}

// WaitUntilTrue blocks until the value is true.
//
// It returns an error wrapping ErrCancelled when ctx is done or the state is closed
// before the value becomes true.
func (s *CommunicatableState) WaitUntilTrue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	for !s.value {
		if s.closed {
			return ErrCommunicatorClosed
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		s.cond.Wait()
	}

	return nil
}

// AddChangeListener registers fn and queues the current value for it.
func (s *CommunicatableState) AddChangeListener(fn func(communicatable bool)) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.changes.AddListener(fn)
	s.changes.NotifyOne(id, s.value)

	return id
}

// RemoveChangeListener unregisters a change listener.
func (s *CommunicatableState) RemoveChangeListener(id ListenerID) bool {
	return s.changes.RemoveListener(id)
}

// Close forces the value to false and fails every current and future wait.
func (s *CommunicatableState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.value {
		s.value = false
		s.changes.Notify(false)
	}
	s.cond.Broadcast()
}
