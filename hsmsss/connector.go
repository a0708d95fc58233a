package hsmsss

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fablink/go-hsms/internal/pool"
)

// connector acquires TCP connections for a Connection, one at a time.
type connector interface {
	// prepare runs synchronously from Open. Passive connectors bind here so that a
	// bind failure is reported to the caller of Open.
	prepare() error
	// acquire blocks until a connection is available or ctx is done.
	acquire(ctx context.Context) (net.Conn, error)
	// released runs after a session built on an acquired connection has ended.
	released(ctx context.Context)
	// close releases every resource held by the connector and unblocks acquire.
	close() error
}

func newConnector(c *Connection) connector {
	switch c.cfg.Role() {
	case RolePassive:
		return &passiveConnector{conn: c}
	case RolePassiveRebind:
		return &passiveConnector{conn: c, rebind: true}
	default:
		return newActiveConnector(c)
	}
}

// activeConnector dials the remote entity. Failed attempts are retried with an
// exponential backoff capped at T5.
type activeConnector struct {
	conn    *Connection
	backoff *backoff.ExponentialBackOff
}

func newActiveConnector(c *Connection) *activeConnector {
	b := backoff.NewExponentialBackOff()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	return &activeConnector{conn: c, backoff: b}
}

func (a *activeConnector) prepare() error { return nil }

func (a *activeConnector) resetBackoff() {
	t5 := a.conn.cfg.T5Timeout()
	a.backoff.InitialInterval = min(100*time.Millisecond, t5)
	a.backoff.MaxInterval = t5
	a.backoff.Reset()
}

func (a *activeConnector) acquire(ctx context.Context) (net.Conn, error) {
	cfg := a.conn.cfg
	a.resetBackoff()

	for {
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout()}
		a.conn.logInfo(subjectConnect, "connecting", "address", cfg.Address())

		netConn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
		if err == nil {
			a.conn.metrics.resetConnRetryGauge()
			a.conn.logInfo(subjectConnect, "connected",
				"local", netConn.LocalAddr().String(), "remote", netConn.RemoteAddr().String())

			return netConn, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a.conn.metrics.incConnRetryGauge()
		delay := a.backoff.NextBackOff()
		a.conn.logWarn(subjectConnect, "connect failed",
			"address", cfg.Address(), "retry_in", delay, "error", err)

		if err := pool.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// released waits T5 before the next connect attempt.
func (a *activeConnector) released(ctx context.Context) {
	_ = pool.Sleep(ctx, a.conn.cfg.T5Timeout())
}

func (a *activeConnector) close() error { return nil }

// passiveConnector accepts connections from the remote entity.
//
// Without rebind the listener stays bound for the life of the Connection. With
// rebind the listener is closed once a session ends and bound again after the
// rebind interval.
type passiveConnector struct {
	conn   *Connection
	rebind bool

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func (p *passiveConnector) prepare() error {
	return p.listen()
}

func (p *passiveConnector) listen() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return net.ErrClosed
	}

	if p.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", p.conn.cfg.Address())
	if err != nil {
		p.conn.logError(subjectConnect, "failed to bind", "address", p.conn.cfg.Address(), "error", err)
		return err
	}

	p.listener = ln
	p.conn.logInfo(subjectConnect, "listening", "address", ln.Addr().String())

	return nil
}

func (p *passiveConnector) closeListener() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listener == nil {
		return
	}

	_ = p.listener.Close()
	p.conn.logInfo(subjectConnect, "listener closed", "address", p.listener.Addr().String())
	p.listener = nil
}

func (p *passiveConnector) currentListener() net.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.listener
}

// addr returns the bound address, nil while unbound.
func (p *passiveConnector) addr() net.Addr {
	if ln := p.currentListener(); ln != nil {
		return ln.Addr()
	}

	return nil
}

func (p *passiveConnector) acquire(ctx context.Context) (net.Conn, error) {
	stop := context.AfterFunc(ctx, p.closeListener)
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if err := p.listen(); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}

			if err := pool.Sleep(ctx, max(p.conn.cfg.RebindInterval(), minTimer)); err != nil {
				return nil, err
			}

			continue
		}

		ln := p.currentListener()
		if ln == nil {
			continue
		}

		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if errors.Is(err, net.ErrClosed) {
				continue
			}

			p.conn.logWarn(subjectConnect, "accept failed", "error", err)
			if err := pool.Sleep(ctx, 100*time.Millisecond); err != nil {
				return nil, err
			}

			continue
		}

		p.conn.logInfo(subjectConnect, "accepted",
			"local", netConn.LocalAddr().String(), "remote", netConn.RemoteAddr().String())

		return netConn, nil
	}
}

func (p *passiveConnector) released(ctx context.Context) {
	if !p.rebind {
		return
	}

	p.closeListener()
	_ = pool.Sleep(ctx, p.conn.cfg.RebindInterval())
}

func (p *passiveConnector) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeListener()

	return nil
}
