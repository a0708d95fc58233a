package hsms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplyCorrelator_Resolve(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	p, err := c.Submit(2, time.Second)
	require.NoError(err)
	require.Equal(uint32(2), p.SystemBytes())
	require.Equal(1, c.Len())

	primary, err := NewDataMessage(1, 1, true, 0, 2, nil)
	require.NoError(err)
	reply, err := NewReplyDataMessage(primary, nil)
	require.NoError(err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Resolve(reply)
	}()

	got, err := c.Await(context.Background(), p, ErrT3Timeout)
	require.NoError(err)
	require.Same(reply, got)
	require.Zero(c.Len())

	require.False(c.Resolve(reply), "a resolved transaction can not be resolved twice")
}

func TestReplyCorrelator_Duplicate(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	_, err := c.Submit(5, time.Second)
	require.NoError(err)

	start := time.Now()
	_, err = c.Submit(5, time.Second)
	require.ErrorIs(err, ErrDuplicateTransaction)
	require.Less(time.Since(start), 50*time.Millisecond)
}

func TestReplyCorrelator_Timeout(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	p, err := c.Submit(9, 30*time.Millisecond)
	require.NoError(err)

	start := time.Now()
	_, err = c.Await(context.Background(), p, ErrT6Timeout)
	require.ErrorIs(err, ErrWaitReplyTimeout)
	require.InDelta(30*time.Millisecond, time.Since(start), float64(40*time.Millisecond))
	require.Zero(c.Len())

	// the key is free again after expiry
	_, err = c.Submit(9, time.Second)
	require.NoError(err)
}

func TestReplyCorrelator_Fail(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	p, err := c.Submit(3, time.Second)
	require.NoError(err)

	rejErr := &RejectError{Reason: RejectTransactionNotOpen}
	require.True(c.Fail(3, rejErr))
	require.False(c.Fail(3, rejErr))

	_, err = c.Await(context.Background(), p, ErrT6Timeout)
	require.ErrorIs(err, ErrRejected)
}

func TestReplyCorrelator_ContextCancel(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	p, err := c.Submit(1, time.Minute)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.Await(ctx, p, ErrT3Timeout)
	require.ErrorIs(err, ErrCancelled)
	require.ErrorIs(err, context.Canceled)
	require.Zero(c.Len())
}

func TestReplyCorrelator_CancelAll(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := uint32(1); i <= 10; i++ {
		p, err := c.Submit(i, time.Minute)
		require.NoError(err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Await(context.Background(), p, ErrT3Timeout)
			errs <- err
		}()
	}

	require.Equal(10, c.CancelAll(nil))
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(err, ErrCancelled)
	}

	_, err := c.Submit(11, time.Second)
	require.ErrorIs(err, ErrConnClosed)
}

func TestReplyCorrelator_CancelAllCause(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	p, err := c.Submit(1, time.Minute)
	require.NoError(err)

	cause := errors.New("peer closed")
	c.CancelAll(cause)

	_, err = c.Await(context.Background(), p, ErrT3Timeout)
	require.ErrorIs(err, cause)

	_, err = c.Submit(2, time.Second)
	require.ErrorIs(err, cause)
}

func TestReplyCorrelator_NoCrossFulfillment(t *testing.T) {
	require := require.New(t)

	c := NewReplyCorrelator()
	const n = 200

	pending := make([]*PendingTransaction, n)
	for i := range pending {
		p, err := c.Submit(uint32(i+1), time.Second) //nolint:gosec
		require.NoError(err)
		pending[i] = p
	}

	var wg sync.WaitGroup
	for i := n; i >= 1; i-- {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			msg, _ := NewDataMessage(1, 2, false, 0, id, nil)
			c.Resolve(msg)
		}(uint32(i)) //nolint:gosec
	}

	for i, p := range pending {
		msg, err := c.Await(context.Background(), p, ErrT3Timeout)
		require.NoError(err)
		require.Equal(uint32(i+1), msg.SystemBytes()) //nolint:gosec
	}
	wg.Wait()
}

func TestReplyCorrelator_ResolveExpireRace(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 200; i++ {
		c := NewReplyCorrelator()
		p, err := c.Submit(1, time.Millisecond)
		require.NoError(err)

		msg, _ := NewDataMessage(1, 2, false, 0, 1, nil)
		go func() {
			time.Sleep(time.Millisecond)
			c.Resolve(msg)
		}()

		got, err := c.Await(context.Background(), p, ErrT3Timeout)
		if err != nil {
			require.ErrorIs(err, ErrWaitReplyTimeout)
			require.Nil(got)
		} else {
			require.Same(msg, got)
		}
		require.Zero(c.Len())
	}
}
