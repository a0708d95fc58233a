package hsms

import (
	"context"
	"fmt"
	"time"

	"github.com/fablink/go-hsms/internal/queue"
	"github.com/fablink/go-hsms/logger"
)

// drainPollTimeout bounds each wait of the drain performed when a dispatcher stops.
const drainPollTimeout = 100 * time.Millisecond

type envelope[T any] struct {
	event  T
	target ListenerID
}

// Dispatcher delivers events of one category to its listeners.
//
// Notify enqueues without blocking. A single consumer task started by Start takes
// events in FIFO order and calls every listener of the current snapshot in turn.
// A panicking listener is logged and skipped; delivery goes on with the next
// listener and the next event.
type Dispatcher[T any] struct {
	name      string
	queue     *queue.BlockingQueue[envelope[T]]
	listeners *ListenerRegistry[func(T)]
	logger    logger.Logger
}

// NewDispatcher creates a dispatcher. name identifies the category in logs.
func NewDispatcher[T any](name string, l logger.Logger) *Dispatcher[T] {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Dispatcher[T]{
		name:      name,
		queue:     queue.NewBlockingQueue[envelope[T]](),
		listeners: NewListenerRegistry[func(T)](),
		logger:    l,
	}
}

// Name returns the dispatcher name.
func (d *Dispatcher[T]) Name() string { return d.name }

// AddListener registers fn.
func (d *Dispatcher[T]) AddListener(fn func(T)) ListenerID {
	return d.listeners.Add(fn)
}

// RemoveListener unregisters the listener with the given ID.
func (d *Dispatcher[T]) RemoveListener(id ListenerID) bool {
	return d.listeners.Remove(id)
}

// ListenerCount returns the number of registered listeners.
func (d *Dispatcher[T]) ListenerCount() int {
	return d.listeners.Len()
}

// Notify enqueues event for all listeners. It returns false if the dispatcher was stopped.
func (d *Dispatcher[T]) Notify(event T) bool {
	return d.queue.Put(envelope[T]{event: event})
}

// NotifyOne enqueues event for the listener with the given ID only.
func (d *Dispatcher[T]) NotifyOne(id ListenerID, event T) bool {
	return d.queue.Put(envelope[T]{event: event, target: id})
}

// Pending returns the number of queued events.
func (d *Dispatcher[T]) Pending() int {
	return d.queue.Len()
}

// Start starts the consumer task on mgr. When mgr stops, the queue is closed and
// the events still queued are delivered before the task exits.
func (d *Dispatcher[T]) Start(mgr *TaskManager) error {
	return mgr.Go(d.name+"-dispatcher", func(ctx context.Context) {
		for {
			env, ok := d.queue.Take(ctx)
			if !ok {
				d.drain()
				return
			}
			d.deliver(env)
		}
	})
}

func (d *Dispatcher[T]) drain() {
	d.queue.Close()
	for {
		env, ok := d.queue.Poll(drainPollTimeout)
		if !ok {
			return
		}
		d.deliver(env)
	}
}

func (d *Dispatcher[T]) deliver(env envelope[T]) {
	for _, e := range d.listeners.snapshot() {
		if env.target != 0 && e.id != env.target {
			continue
		}
		d.call(e.id, e.fn, env.event)
	}
}

func (d *Dispatcher[T]) call(id ListenerID, fn func(T), event T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in listener",
				"dispatcher", d.name,
				"listener_id", uint64(id),
				"panic", fmt.Sprint(r),
			)
		}
	}()

	fn(event)
}
