// Package pool holds sync.Pool backed helpers for hot paths of the send and
// receive loops.
package pool

import (
	"context"
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer firing after d. Timers in the pool are always stopped
// with an empty channel, so a reused timer never delivers an earlier expiry.
//
// Return it with PutTimer once the wait it guards is over.
func GetTimer(d time.Duration) *time.Timer {
	if t, ok := timerPool.Get().(*time.Timer); ok {
		t.Reset(d)
		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t, drains an expiry the caller didn't receive and returns t to
// the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Sleep waits d on a pooled timer. It returns ctx.Err() if ctx is done first.
// A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
