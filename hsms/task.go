package hsms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fablink/go-hsms/logger"
)

// ErrTaskManagerStopped is returned when a task is started on a stopped TaskManager.
var ErrTaskManagerStopped = errors.New("task manager already stopped")

// TaskFunc represents a function that performs one iteration of a task within a goroutine
// managed by the TaskManager. It should return true to continue running the task, or false
// to stop the goroutine.
type TaskFunc func() bool

// TaskManager manages the lifecycle of goroutines (tasks).
//
// All tasks share a context derived from the parent context given to NewTaskManager.
// Stop cancels that context, and Wait blocks until every task returned.
//
// Example Usage:
//
//	taskMgr := hsms.NewTaskManager(ctx, logger)
//
//	taskMgr.Start("myTask", func() bool {
//	    // ... task logic ...
//	    return true // Return true to continue running, false to stop
//	})
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type TaskManager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    logger.Logger
	count     atomic.Int32
	intervals sync.Map // map[string]*intervalTask
	mu        sync.Mutex
	stopped   bool
}

type intervalTask struct {
	ticker *time.Ticker
	cancel context.CancelFunc
}

// NewTaskManager creates a new TaskManager with the given context as the parent context and logger.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &TaskManager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all tasks. It is cancelled by Stop.
func (mgr *TaskManager) Context() context.Context {
	return mgr.ctx
}

// Start starts a new goroutine that calls taskFunc repeatedly until it returns
// false or the manager is stopped.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	return mgr.Go(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})
}

// Go starts fn once in a new goroutine. fn must return when ctx is done.
func (mgr *TaskManager) Go(name string, fn func(ctx context.Context)) error {
	if err := mgr.add(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	mgr.logger.Debug("start task", "name", name)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		mgr.callWithRecover(name, func() { fn(mgr.ctx) })
	}()

	return nil
}

// StartInterval starts a new goroutine that executes taskFunc at the specified interval
// until it returns false, StopInterval is called with the same name, or the manager stops.
// If runNow is true, taskFunc is executed once before the first tick.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	ctx, cancel := context.WithCancel(mgr.ctx)
	task := &intervalTask{ticker: time.NewTicker(interval), cancel: cancel}

	if _, loaded := mgr.intervals.LoadOrStore(name, task); loaded {
		task.ticker.Stop()
		cancel()

		return fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		task.ticker.Stop()
		cancel()
		mgr.intervals.CompareAndDelete(name, task)
	}

	err := mgr.Go(name, func(_ context.Context) {
		defer cleanup()

		if runNow && !mgr.callWithRecoverBool(name, taskFunc) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-task.ticker.C:
				if ctx.Err() != nil {
					return
				}
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
		return err
	}

	return nil
}

// StopInterval stops the interval task with the given name.
func (mgr *TaskManager) StopInterval(name string) error {
	val, ok := mgr.intervals.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("interval task %s not found", name)
	}

	task, _ := val.(*intervalTask)
	task.ticker.Stop()
	task.cancel()

	return nil
}

// Stop signals all running goroutines to terminate. New tasks are refused afterwards.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	mgr.stopped = true
	mgr.mu.Unlock()

	mgr.intervals.Range(func(_, value any) bool {
		if task, ok := value.(*intervalTask); ok {
			task.ticker.Stop()
		}

		return true
	})

	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *TaskManager) add() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.stopped || mgr.ctx.Err() != nil {
		return ErrTaskManagerStopped
	}
	mgr.wg.Add(1)

	return nil
}

// callWithRecover calls a function with panic protection
func (mgr *TaskManager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// callWithRecoverBool calls a function that returns bool with panic protection.
// A panic stops the task.
func (mgr *TaskManager) callWithRecoverBool(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
