package hsms

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fablink/go-hsms/internal/pool"
	"github.com/puzpuzpuz/xsync/v3"
)

type pendingResult struct {
	msg *Message
	err error
}

// PendingTransaction is a request waiting for its reply.
type PendingTransaction struct {
	id        uint32
	submitted time.Time
	timeout   time.Duration
	// written exactly once by whoever removes the entry from the table.
	result chan pendingResult
}

// SystemBytes returns the transaction key.
func (p *PendingTransaction) SystemBytes() uint32 { return p.id }

// Submitted returns when the transaction was registered.
func (p *PendingTransaction) Submitted() time.Time { return p.submitted }

// Deadline returns when the transaction times out.
func (p *PendingTransaction) Deadline() time.Time { return p.submitted.Add(p.timeout) }

// ReplyCorrelator matches replies to outstanding requests by system bytes.
//
// Every pending transaction leaves the table exactly once: by Resolve, Fail,
// expiry in Await, Cancel or CancelAll. The goroutine that removes an entry is the
// only one that writes its result.
type ReplyCorrelator struct {
	pending *xsync.MapOf[uint32, *PendingTransaction]
	closed  atomic.Bool
	// cause is returned to waiters cancelled by CancelAll.
	cause atomic.Pointer[error]
}

// NewReplyCorrelator creates an empty correlator.
func NewReplyCorrelator() *ReplyCorrelator {
	return &ReplyCorrelator{pending: xsync.NewMapOf[uint32, *PendingTransaction]()}
}

// Submit registers a pending transaction for id that expires after timeout.
//
// It fails with ErrDuplicateTransaction when id is already pending, and with the
// CancelAll cause once the correlator has been cancelled.
func (c *ReplyCorrelator) Submit(id uint32, timeout time.Duration) (*PendingTransaction, error) {
	if c.closed.Load() {
		return nil, c.closeCause()
	}

	p := &PendingTransaction{
		id:        id,
		submitted: time.Now(),
		timeout:   timeout,
		result:    make(chan pendingResult, 1),
	}

	if _, loaded := c.pending.LoadOrStore(id, p); loaded {
		return nil, fmt.Errorf("%w: system bytes %d", ErrDuplicateTransaction, id)
	}

	// CancelAll may have swept the table between the closed check and the store.
	if c.closed.Load() && c.remove(p) {
		return nil, c.closeCause()
	}

	return p, nil
}

// Resolve fulfils the transaction whose key equals the system bytes of msg.
// It returns false if no such transaction is pending.
func (c *ReplyCorrelator) Resolve(msg *Message) bool {
	p, ok := c.pending.LoadAndDelete(msg.SystemBytes())
	if !ok {
		return false
	}
	p.result <- pendingResult{msg: msg}

	return true
}

// Fail completes the transaction with the given key with err.
// It returns false if no such transaction is pending.
func (c *ReplyCorrelator) Fail(id uint32, err error) bool {
	p, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	p.result <- pendingResult{err: err}

	return true
}

// Cancel drops p without completing it, e.g. after its request failed to send.
func (c *ReplyCorrelator) Cancel(p *PendingTransaction) bool {
	return c.remove(p)
}

// Await blocks until p is completed, its timeout elapses or ctx is done.
//
// On expiry the entry is removed and timeoutErr is returned. If a reply wins the
// race against expiry, the reply is returned instead.
func (c *ReplyCorrelator) Await(ctx context.Context, p *PendingTransaction, timeoutErr error) (*Message, error) {
	timer := pool.GetTimer(time.Until(p.Deadline()))
	defer pool.PutTimer(timer)

	select {
	case r := <-p.result:
		return r.msg, r.err

	case <-timer.C:
		if c.remove(p) {
			return nil, timeoutErr
		}

	case <-ctx.Done():
		if c.remove(p) {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}

	// another goroutine removed the entry first and is delivering its result.
	r := <-p.result

	return r.msg, r.err
}

// CancelAll completes every pending transaction with cause and refuses further
// submissions. A nil cause means ErrConnClosed.
func (c *ReplyCorrelator) CancelAll(cause error) int {
	if cause == nil {
		cause = ErrConnClosed
	}
	c.cause.CompareAndSwap(nil, &cause)
	c.closed.Store(true)

	count := 0
	c.pending.Range(func(id uint32, _ *PendingTransaction) bool {
		if c.Fail(id, cause) {
			count++
		}

		return true
	})

	return count
}

// Len returns the number of pending transactions.
func (c *ReplyCorrelator) Len() int {
	return c.pending.Size()
}

// remove deletes p only if it is still the entry stored under its key.
func (c *ReplyCorrelator) remove(p *PendingTransaction) bool {
	removed := false
	c.pending.Compute(p.id, func(old *PendingTransaction, loaded bool) (*PendingTransaction, bool) {
		if loaded && old == p {
			removed = true
			return nil, true
		}

		return old, !loaded
	})

	return removed
}

func (c *ReplyCorrelator) closeCause() error {
	if cause := c.cause.Load(); cause != nil {
		return *cause
	}

	return ErrConnClosed
}
