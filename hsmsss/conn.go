package hsmsss

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/fablink/go-hsms/hsms"
	"github.com/fablink/go-hsms/logger"
	"github.com/google/uuid"
)

// Connection is an HSMS-SS communicator: it owns the connection acquisition loop,
// the current session and the listener dispatchers.
//
// A Connection is opened once and closed once; it can't be reopened after Close.
type Connection struct {
	id      string
	cfg     *ConnectionConfig
	logger  logger.Logger
	factory *hsms.MessageFactory
	metrics ConnectionMetrics

	communicatable    *hsms.CommunicatableState
	logDispatcher     *hsms.Dispatcher[hsms.LogEvent]
	msgRecvDispatcher *hsms.Dispatcher[*hsms.Message]
	trySendDispatcher *hsms.Dispatcher[*hsms.Message]
	sentDispatcher    *hsms.Dispatcher[*hsms.Message]
	recvDispatcher    *hsms.Dispatcher[*hsms.Message]

	taskMgr   *hsms.TaskManager
	connector connector

	mu      sync.Mutex
	session *session
	opened  bool
	closed  bool
}

// NewConnection creates a new HSMS-SS communicator. It doesn't connect until Open is called.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, hsms.ErrConnConfigNil
	}

	id := uuid.NewString()
	l := cfg.Logger().With("comm_id", id, "name", cfg.Name(), "role", cfg.Role().String())

	c := &Connection{
		id:                id,
		cfg:               cfg,
		logger:            l,
		factory:           hsms.NewMessageFactory(cfg.SessionID(), hsms.NewSystemBytesGenerator(0)),
		communicatable:    hsms.NewCommunicatableState(l),
		logDispatcher:     hsms.NewDispatcher[hsms.LogEvent]("log", l),
		msgRecvDispatcher: hsms.NewDispatcher[*hsms.Message]("message-received", l),
		trySendDispatcher: hsms.NewDispatcher[*hsms.Message]("try-send", l),
		sentDispatcher:    hsms.NewDispatcher[*hsms.Message]("sent", l),
		recvDispatcher:    hsms.NewDispatcher[*hsms.Message]("received", l),
		taskMgr:           hsms.NewTaskManager(ctx, l),
	}
	c.connector = newConnector(c)

	return c, nil
}

// ID returns the unique id of the communicator.
func (c *Connection) ID() string { return c.id }

// Config returns the configuration of the communicator.
func (c *Connection) Config() *ConnectionConfig { return c.cfg }

// GetMetrics returns the live metrics of the communicator.
func (c *Connection) GetMetrics() *ConnectionMetrics { return &c.metrics }

// UpdateConfigOptions applies runtime options (timers and linktest) to the configuration.
// Linktest changes apply to the current session at once, timer changes to the next
// timer started.
func (c *Connection) UpdateConfigOptions(opts ...ConnOption) error {
	if err := c.cfg.applyRuntime(opts...); err != nil {
		return err
	}

	if s := c.currentSession(); s != nil {
		s.restartLinktest()
	}

	return nil
}

// Open starts the communicator.
//
// For the passive roles the listener is bound before Open returns and a bind failure
// is returned. For the active role Open returns once the connect loop runs; connect
// failures are published to the log listeners.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return hsms.ErrCommunicatorClosed
	}

	if c.opened {
		return hsms.ErrAlreadyOpened
	}

	if err := c.connector.prepare(); err != nil {
		return err
	}

	dispatchers := []interface{ Start(*hsms.TaskManager) error }{
		c.logDispatcher,
		c.msgRecvDispatcher,
		c.trySendDispatcher,
		c.sentDispatcher,
		c.recvDispatcher,
		c.communicatable,
	}
	for _, d := range dispatchers {
		if err := d.Start(c.taskMgr); err != nil {
			return err
		}
	}

	if err := c.taskMgr.Go("connect-loop", c.connectLoop); err != nil {
		return err
	}

	c.opened = true
	c.logInfo(subjectState, "communicator opened", "address", c.cfg.Address())

	return nil
}

// OpenAndWaitUntilCommunicating opens the communicator if needed and blocks until it is
// communicatable, ctx is done or the communicator is closed.
func (c *Connection) OpenAndWaitUntilCommunicating(ctx context.Context) error {
	if err := c.Open(); err != nil && !errors.Is(err, hsms.ErrAlreadyOpened) {
		return err
	}

	return c.communicatable.WaitUntilTrue(ctx)
}

// Close closes the communicator. It closes the current session, cancels every pending
// transaction and stops all listeners after the queued events were delivered.
// Close is idempotent. It must not be called from a listener.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.session
	c.mu.Unlock()

	_ = c.connector.close()
	if sess != nil {
		sess.close(hsms.ErrCommunicatorClosed)
	}
	c.communicatable.Close()
	c.logInfo(subjectState, "communicator closed")

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	return nil
}

// IsOpen reports whether Open succeeded and Close was not called.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opened && !c.closed
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// IsCommunicatable reports whether the session is selected.
func (c *Connection) IsCommunicatable() bool {
	return c.communicatable.Get()
}

// State returns the state of the current session.
func (c *Connection) State() ConnState {
	if s := c.currentSession(); s != nil {
		return s.state()
	}

	return NotConnectedState
}

// ListenAddr returns the bound listener address of the passive roles, nil otherwise.
func (c *Connection) ListenAddr() net.Addr {
	if p, ok := c.connector.(*passiveConnector); ok {
		return p.addr()
	}

	return nil
}

func (c *Connection) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session
}

func (c *Connection) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// activeSession returns the current session or the error to report without one.
func (c *Connection) activeSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, hsms.ErrCommunicatorClosed
	}

	if c.session == nil {
		return nil, hsms.ErrNotConnected
	}

	return c.session, nil
}

// connectLoop acquires connections and runs one session on each until ctx is done.
func (c *Connection) connectLoop(ctx context.Context) {
	for {
		netConn, err := c.connector.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil || c.IsClosed() {
				return
			}

			c.logError(subjectConnect, "failed to acquire connection", "error", err)

			continue
		}

		c.metrics.incConnectCount()
		s := newSession(c, netConn)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = netConn.Close()

			return
		}
		c.session = s
		c.mu.Unlock()

		if err := s.start(); err != nil {
			s.close(err)
		}

		select {
		case <-s.Done():
		case <-ctx.Done():
			s.close(hsms.ErrCommunicatorClosed)
		}
		s.wait()
		c.setSession(nil)

		if ctx.Err() != nil {
			return
		}

		c.connector.released(ctx)
	}
}

// Send sends msg on the current session. When msg expects a reply, Send waits for it and
// returns it; otherwise the returned message is nil.
func (c *Connection) Send(ctx context.Context, msg *hsms.Message) (*hsms.Message, error) {
	s, err := c.activeSession()
	if err != nil {
		return nil, err
	}

	return s.send(ctx, msg)
}

// SendDataMessage builds a data message with the next system bytes and sends it.
func (c *Connection) SendDataMessage(ctx context.Context, stream byte, function byte, waitBit bool, body hsms.Body) (*hsms.Message, error) {
	msg, err := c.factory.DataMessage(stream, function, waitBit, body)
	if err != nil {
		return nil, err
	}

	return c.Send(ctx, msg)
}

// ReplyDataMessage sends the reply of primary with function code plus one.
func (c *Connection) ReplyDataMessage(ctx context.Context, primary *hsms.Message, body hsms.Body) error {
	msg, err := c.factory.ReplyMessage(primary, body)
	if err != nil {
		return err
	}

	_, err = c.Send(ctx, msg)

	return err
}

// Linktest sends linktest.req and waits for linktest.rsp within T6.
func (c *Connection) Linktest(ctx context.Context) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}

	return s.linktest(ctx)
}

// Deselect sends deselect.req and returns to the not selected state on success.
func (c *Connection) Deselect(ctx context.Context) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}

	return s.deselect(ctx)
}

// Separate sends separate.req and closes the current connection. The communicator
// stays open and acquires a new connection.
func (c *Connection) Separate(ctx context.Context) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}

	_, err = s.send(ctx, c.factory.SeparateRequest())

	return err
}

// CreateDataMessage builds a data message with the next system bytes.
func (c *Connection) CreateDataMessage(stream byte, function byte, waitBit bool, body hsms.Body) (*hsms.Message, error) {
	return c.factory.DataMessage(stream, function, waitBit, body)
}

// CreateMessage builds a message from a raw 10-byte header.
func (c *Connection) CreateMessage(header []byte, body hsms.Body) (*hsms.Message, error) {
	return c.factory.Message(header, body)
}

// CreateSelectRequest builds a select.req with the next system bytes.
func (c *Connection) CreateSelectRequest() *hsms.Message { return c.factory.SelectRequest() }

// CreateSelectResponse builds the select.rsp of primary with the given status.
func (c *Connection) CreateSelectResponse(primary *hsms.Message, status hsms.SelectStatus) (*hsms.Message, error) {
	return c.factory.SelectResponse(primary, status)
}

// CreateDeselectRequest builds a deselect.req with the next system bytes.
func (c *Connection) CreateDeselectRequest() *hsms.Message { return c.factory.DeselectRequest() }

// CreateDeselectResponse builds the deselect.rsp of primary with the given status.
func (c *Connection) CreateDeselectResponse(primary *hsms.Message, status hsms.SelectStatus) (*hsms.Message, error) {
	return c.factory.DeselectResponse(primary, status)
}

// CreateLinktestRequest builds a linktest.req with the next system bytes.
func (c *Connection) CreateLinktestRequest() *hsms.Message { return c.factory.LinktestRequest() }

// CreateLinktestResponse builds the linktest.rsp of primary.
func (c *Connection) CreateLinktestResponse(primary *hsms.Message) (*hsms.Message, error) {
	return c.factory.LinktestResponse(primary)
}

// CreateRejectRequest builds a reject.req referring to ref.
func (c *Connection) CreateRejectRequest(ref *hsms.Message, reason hsms.RejectReason) *hsms.Message {
	return c.factory.RejectRequest(ref, reason)
}

// CreateSeparateRequest builds a separate.req with the next system bytes.
func (c *Connection) CreateSeparateRequest() *hsms.Message { return c.factory.SeparateRequest() }
