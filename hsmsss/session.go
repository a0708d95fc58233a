package hsmsss

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fablink/go-hsms/hsms"
	"github.com/fablink/go-hsms/internal/pool"
	"github.com/looplab/fsm"
	"github.com/puzpuzpuz/xsync/v3"
)

// ConnState is the HSMS-SS connection state.
type ConnState string

const (
	NotConnectedState ConnState = "not-connected"
	NotSelectedState  ConnState = "not-selected"
	SelectedState     ConnState = "selected"
)

func (s ConnState) String() string { return string(s) }

const (
	eventConnect    = "connect"
	eventSelect     = "select"
	eventDeselect   = "deselect"
	eventDisconnect = "disconnect"

	linktestTaskName = "linktest"
)

var (
	errSeparateReceived = errors.New("separate.req received")
	errSeparateSent     = errors.New("separate.req sent")
)

// session drives one TCP connection through the HSMS-SS state machine.
//
// A session starts in NOT_CONNECTED, enters NOT_SELECTED when started and ends in
// NOT_CONNECTED once closed; it is never reused. The session exclusively owns
// netConn and its pending transactions.
type session struct {
	conn       *Connection
	cfg        *ConnectionConfig
	netConn    net.Conn
	reader     *messageReader
	correlator *hsms.ReplyCorrelator
	taskMgr    *hsms.TaskManager
	fsm        *fsm.FSM

	// selectReqs holds the sType of in-flight select.req and deselect.req, keyed by
	// system bytes.
	selectReqs *xsync.MapOf[uint32, hsms.SType]

	// stateMu orders state transitions with their side effects.
	stateMu sync.Mutex
	t7Timer *time.Timer
	t7Gen   uint64

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *Connection, netConn net.Conn) *session {
	s := &session{
		conn:       conn,
		cfg:        conn.cfg,
		netConn:    netConn,
		reader:     newMessageReader(conn.cfg.T8Timeout),
		correlator: hsms.NewReplyCorrelator(),
		selectReqs: xsync.NewMapOf[uint32, hsms.SType](),
		taskMgr:    hsms.NewTaskManager(conn.taskMgr.Context(), conn.logger),
		done:       make(chan struct{}),
	}

	s.fsm = fsm.NewFSM(
		NotConnectedState.String(),
		fsm.Events{
			{Name: eventConnect, Src: []string{NotConnectedState.String()}, Dst: NotSelectedState.String()},
			{Name: eventSelect, Src: []string{NotSelectedState.String()}, Dst: SelectedState.String()},
			{Name: eventDeselect, Src: []string{SelectedState.String()}, Dst: NotSelectedState.String()},
			{
				Name: eventDisconnect,
				Src:  []string{NotSelectedState.String(), SelectedState.String()},
				Dst:  NotConnectedState.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.conn.logInfo(subjectState, "connection state changed",
					"remote", s.remoteAddr(), "from", e.Src, "to", e.Dst)
			},
		},
	)

	return s
}

func (s *session) state() ConnState {
	return ConnState(s.fsm.Current())
}

func (s *session) isSelected() bool {
	return s.fsm.Is(SelectedState.String())
}

func (s *session) remoteAddr() string {
	if addr := s.netConn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return ""
}

// Done is closed once the session reached NOT_CONNECTED.
func (s *session) Done() <-chan struct{} {
	return s.done
}

// start enters NOT_SELECTED, arms T7 and starts the receiver. The active role also
// starts the select procedure.
func (s *session) start() error {
	s.stateMu.Lock()
	err := s.fsm.Event(context.Background(), eventConnect)
	if err == nil {
		s.startT7()
	}
	s.stateMu.Unlock()

	if err != nil {
		return err
	}

	if err := s.taskMgr.Go("receiver", s.receiveLoop); err != nil {
		s.close(err)
		return err
	}

	if s.cfg.Role() == RoleActive {
		return s.taskMgr.Go("select", func(ctx context.Context) {
			if err := s.selectSession(ctx); err != nil && ctx.Err() == nil {
				s.conn.logWarn(subjectSelect, "select failed", "remote", s.remoteAddr(), "error", err)
				s.close(err)
			}
		})
	}

	return nil
}

// wait blocks until every goroutine of the session returned.
func (s *session) wait() {
	s.taskMgr.Wait()
}

// close moves the session to NOT_CONNECTED. It cancels all pending transactions,
// stops the timers and closes the TCP connection. Only the first call has an effect.
func (s *session) close(cause error) {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.stopT7()
		wasSelected := s.isSelected()
		_ = s.fsm.Event(context.Background(), eventDisconnect)
		if wasSelected {
			s.conn.communicatable.Set(false)
		}
		s.stateMu.Unlock()

		s.taskMgr.Stop()
		_ = s.netConn.Close()

		n := s.correlator.CancelAll(fmt.Errorf("%w: %w", hsms.ErrConnClosed, cause))
		s.conn.logInfo(subjectState, "connection closed",
			"remote", s.remoteAddr(), "cause", cause, "cancelled_transactions", n)

		close(s.done)
	})
}

// toSelected performs NOT_SELECTED -> SELECTED.
func (s *session) toSelected() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if err := s.fsm.Event(context.Background(), eventSelect); err != nil {
		return false
	}

	s.stopT7()
	s.conn.metrics.incSelectCount()
	s.conn.communicatable.Set(true)
	s.startLinktest()

	return true
}

// toNotSelected performs SELECTED -> NOT_SELECTED and re-arms T7.
func (s *session) toNotSelected() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if err := s.fsm.Event(context.Background(), eventDeselect); err != nil {
		return false
	}

	s.conn.communicatable.Set(false)
	_ = s.taskMgr.StopInterval(linktestTaskName)
	s.startT7()

	return true
}

// startT7 arms the not-selected timer. The caller holds stateMu.
func (s *session) startT7() {
	s.stopT7()
	gen := s.t7Gen
	s.t7Timer = time.AfterFunc(s.cfg.T7Timeout(), func() {
		if !s.expireT7(gen) {
			return
		}

		s.conn.logWarn(subjectState, "T7 timeout, not selected in time", "remote", s.remoteAddr())
		s.close(hsms.ErrT7Timeout)
	})
}

// expireT7 leaves NOT_SELECTED if the T7 timer of generation gen is still current.
// The transition happens under stateMu, so a select.req handled afterwards is
// answered with "already active" instead of selecting a session about to close.
func (s *session) expireT7(gen uint64) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if gen != s.t7Gen || s.state() != NotSelectedState {
		return false
	}

	return s.fsm.Event(context.Background(), eventDisconnect) == nil
}

// stopT7 disarms the not-selected timer. The caller holds stateMu.
func (s *session) stopT7() {
	s.t7Gen++
	if s.t7Timer != nil {
		s.t7Timer.Stop()
		s.t7Timer = nil
	}
}

// startLinktest starts the periodic linktest. The caller holds stateMu.
func (s *session) startLinktest() {
	if !s.cfg.AutoLinktest() {
		return
	}

	err := s.taskMgr.StartInterval(linktestTaskName, s.linktestTask, s.cfg.LinktestInterval(), false)
	if err != nil && !errors.Is(err, hsms.ErrTaskManagerStopped) {
		s.conn.logWarn(subjectLinktest, "failed to start linktest", "error", err)
	}
}

// restartLinktest applies a changed linktest configuration while selected.
func (s *session) restartLinktest() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.isSelected() {
		return
	}

	_ = s.taskMgr.StopInterval(linktestTaskName)
	s.startLinktest()
}

func (s *session) linktestTask() bool {
	if err := s.linktest(s.taskMgr.Context()); err != nil {
		if s.taskMgr.Context().Err() != nil {
			return false
		}

		s.conn.logWarn(subjectLinktest, "linktest failed, closing connection", "remote", s.remoteAddr(), "error", err)
		s.close(fmt.Errorf("linktest failed: %w", err))

		return false
	}

	return true
}

// linktest sends linktest.req and waits for linktest.rsp within T6.
func (s *session) linktest(ctx context.Context) error {
	s.conn.metrics.incLinktestSendCount()

	rsp, err := s.send(ctx, s.conn.factory.LinktestRequest())
	if err != nil {
		s.conn.metrics.incLinktestErrCount()
		return err
	}

	if rsp.SType() != hsms.LinktestRspType {
		s.conn.metrics.incLinktestErrCount()
		return fmt.Errorf("%w: unexpected %s for linktest.req", hsms.ErrProtocolViolation, rsp.SType())
	}

	return nil
}

// selectSession sends select.req and waits for a successful select.rsp.
func (s *session) selectSession(ctx context.Context) error {
	rsp, err := s.send(ctx, s.conn.factory.SelectRequest())
	if err != nil {
		return err
	}

	if rsp.SType() != hsms.SelectRspType {
		return fmt.Errorf("%w: unexpected %s for select.req", hsms.ErrProtocolViolation, rsp.SType())
	}

	if rsp.Status() != hsms.SelectStatusSuccess {
		// the peer considers itself selected; accept if a crossing select.req already selected us.
		if rsp.Status() == hsms.SelectStatusActived && s.isSelected() {
			return nil
		}

		return fmt.Errorf("%w: %s", hsms.ErrSelectFailed, rsp.Status())
	}

	return nil
}

// deselect sends deselect.req and waits for a successful deselect.rsp.
func (s *session) deselect(ctx context.Context) error {
	if !s.isSelected() {
		return hsms.ErrNotSelected
	}

	rsp, err := s.send(ctx, s.conn.factory.DeselectRequest())
	if err != nil {
		return err
	}

	if rsp.SType() != hsms.DeselectRspType {
		return fmt.Errorf("%w: unexpected %s for deselect.req", hsms.ErrProtocolViolation, rsp.SType())
	}

	if rsp.Status() != hsms.DeselectStatusSuccess {
		return fmt.Errorf("%w: status %d", hsms.ErrDeselectFailed, rsp.Status())
	}

	return nil
}

// send writes msg. When msg expects a reply it waits for it: T3 for data messages,
// T6 for control requests.
func (s *session) send(ctx context.Context, msg *hsms.Message) (*hsms.Message, error) {
	if msg.IsDataMessage() && !s.isSelected() {
		return nil, hsms.ErrNotSelected
	}

	if !msg.ExpectsReply() {
		if err := s.write(msg); err != nil {
			return nil, err
		}

		if msg.SType() == hsms.SeparateReqType {
			s.close(errSeparateSent)
		}

		return nil, nil
	}

	timeout, timeoutErr := s.cfg.T3Timeout(), hsms.ErrT3Timeout
	if msg.IsControlMessage() {
		timeout, timeoutErr = s.cfg.T6Timeout(), hsms.ErrT6Timeout
	}

	p, err := s.correlator.Submit(msg.SystemBytes(), timeout)
	if err != nil {
		return nil, err
	}

	if st := msg.SType(); st == hsms.SelectReqType || st == hsms.DeselectReqType {
		s.selectReqs.Store(msg.SystemBytes(), st)
		defer s.selectReqs.Delete(msg.SystemBytes())
	}

	s.conn.metrics.incInflightCount()
	defer s.conn.metrics.decInflightCount()

	if err := s.write(msg); err != nil {
		s.correlator.Cancel(p)
		return nil, err
	}

	reply, err := s.correlator.Await(ctx, p, timeoutErr)
	if err != nil {
		if errors.Is(err, hsms.ErrWaitReplyTimeout) {
			s.conn.metrics.incReplyTimeoutCount()
			s.conn.logWarn(subjectSend, "reply timeout", "message", msg.Header().String(), "timeout", timeout)
		}
		if msg.IsDataMessage() {
			s.conn.metrics.incDataMsgErrCount()
		}

		return nil, err
	}

	return reply, nil
}

// resolveResponse completes the transaction of a control response. A successful
// select.rsp or deselect.rsp changes the state before the receiver reads the next
// message, so data sent by the peer right after its response is accepted.
func (s *session) resolveResponse(msg *hsms.Message) {
	if reqType, ok := s.selectReqs.LoadAndDelete(msg.SystemBytes()); ok {
		switch {
		case reqType == hsms.SelectReqType && msg.SType() == hsms.SelectRspType &&
			msg.Status() == hsms.SelectStatusSuccess:
			s.toSelected()

		case reqType == hsms.DeselectReqType && msg.SType() == hsms.DeselectRspType &&
			msg.Status() == hsms.DeselectStatusSuccess:
			s.toNotSelected()
		}
	}

	if !s.correlator.Resolve(msg) {
		s.conn.logWarn(subjectReceive, "response without open transaction", "message", msg.Header().String())
		s.reject(msg.Header(), hsms.RejectTransactionNotOpen)
	}
}

// write serializes msg onto the connection under the T8 deadline. A write error
// closes the session.
func (s *session) write(msg *hsms.Message) error {
	s.conn.trySendDispatcher.Notify(msg)

	bufPtr := pool.GetFrame(hsms.MinHSMSSize + len(msg.BodyBytes()))
	*bufPtr = hsms.AppendFrame(*bufPtr, msg)

	s.writeMu.Lock()
	err := s.netConn.SetWriteDeadline(time.Now().Add(s.cfg.T8Timeout()))
	if err == nil {
		_, err = s.netConn.Write(*bufPtr)
	}
	s.writeMu.Unlock()
	pool.PutFrame(bufPtr)

	if err != nil {
		if msg.IsDataMessage() {
			s.conn.metrics.incDataMsgErrCount()
		}

		sendErr := &hsms.SendError{Err: err}
		s.conn.logError(subjectSend, "failed to send message", "message", msg.Header().String(), "error", err)
		s.close(sendErr)

		return sendErr
	}

	if msg.IsDataMessage() {
		s.conn.metrics.incDataMsgSendCount()
	} else {
		s.conn.metrics.incControlMsgSendCount()
	}
	s.conn.logger.Debug("message sent", "message", msg.Header().String())
	s.conn.sentDispatcher.Notify(msg)

	return nil
}

// reply writes a response; failures are already handled by write.
func (s *session) reply(msg *hsms.Message) {
	_ = s.write(msg)
}

func (s *session) reject(h hsms.Header, reason hsms.RejectReason) {
	s.conn.metrics.incRejectSendCount()
	s.conn.logWarn(subjectReceive, "reject message", "message", h.String(), "reason", reason.String())
	s.reply(hsms.NewRejectReqFromHeader(h, reason))
}

// receiveLoop is the only reader of netConn.
func (s *session) receiveLoop(ctx context.Context) {
	for {
		msg, err := s.reader.ReadMessage(s.netConn)
		if err != nil {
			if isRecoverableReadError(err) {
				s.handleProtocolError(err)
				continue
			}

			if ctx.Err() == nil {
				if isClosedError(err) {
					s.conn.logInfo(subjectReceive, "connection closed by peer", "remote", s.remoteAddr())
				} else {
					s.conn.logError(subjectReceive, "failed to read message", "remote", s.remoteAddr(), "error", err)
				}
			}
			s.close(err)

			return
		}

		s.conn.logger.Debug("message received", "message", msg.Header().String())
		s.handleMessage(msg)
	}
}

func (s *session) handleProtocolError(err error) {
	var perr *hsms.ProtocolError
	if !errors.As(err, &perr) {
		return
	}

	s.correlator.Fail(perr.Header.SystemBytes, perr)
	s.reject(perr.Header, perr.Reason)
}

func (s *session) handleMessage(msg *hsms.Message) {
	s.conn.recvDispatcher.Notify(msg)

	if msg.IsDataMessage() {
		s.handleDataMessage(msg)
		return
	}

	s.conn.metrics.incControlMsgRecvCount()

	switch msg.SType() {
	case hsms.SelectReqType:
		s.handleSelectReq(msg)

	case hsms.SelectRspType, hsms.DeselectRspType, hsms.LinktestRspType:
		s.resolveResponse(msg)

	case hsms.DeselectReqType:
		s.handleDeselectReq(msg)

	case hsms.LinktestReqType:
		s.conn.metrics.incLinktestRecvCount()
		if rsp, err := hsms.NewLinktestRsp(msg); err == nil {
			s.reply(rsp)
		}

	case hsms.RejectReqType:
		rejErr := &hsms.RejectError{Reason: msg.RejectReason(), Header: msg.Header()}
		if !s.correlator.Fail(msg.SystemBytes(), rejErr) {
			s.conn.logWarn(subjectReceive, "reject.req without open transaction",
				"message", msg.Header().String(), "reason", msg.RejectReason().String())
		}

	case hsms.SeparateReqType:
		if s.isSelected() {
			s.close(errSeparateReceived)
		} else {
			s.conn.logInfo(subjectReceive, "separate.req ignored, not selected", "remote", s.remoteAddr())
		}

	default:
		s.reject(msg.Header(), hsms.RejectSTypeNotSupported)
	}
}

func (s *session) handleDataMessage(msg *hsms.Message) {
	s.conn.metrics.incDataMsgRecvCount()

	if !s.isSelected() {
		s.reject(msg.Header(), hsms.RejectNotSelected)
		return
	}

	if msg.IsReply() {
		if s.correlator.Resolve(msg) {
			return
		}
		s.conn.logWarn(subjectReceive, "reply without open transaction", "message", msg.Header().String())
	}

	s.conn.msgRecvDispatcher.Notify(msg)
}

func (s *session) handleSelectReq(msg *hsms.Message) {
	status := hsms.SelectStatusSuccess
	if s.state() != NotSelectedState {
		status = hsms.SelectStatusActived
	}

	rsp, err := hsms.NewSelectRsp(msg, status)
	if err != nil {
		return
	}

	if err := s.write(rsp); err != nil {
		return
	}

	if status == hsms.SelectStatusSuccess {
		s.toSelected()
	}
}

func (s *session) handleDeselectReq(msg *hsms.Message) {
	status := hsms.DeselectStatusSuccess
	if !s.isSelected() {
		status = hsms.DeselectStatusNotSelected
	}

	rsp, err := hsms.NewDeselectRsp(msg, status)
	if err != nil {
		return
	}

	if err := s.write(rsp); err != nil {
		return
	}

	if status == hsms.DeselectStatusSuccess {
		s.toNotSelected()
	}
}
