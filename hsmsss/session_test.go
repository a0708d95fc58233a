package hsmsss

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/fablink/go-hsms/hsms"
	"github.com/stretchr/testify/require"
)

// rawPeer is a hand-driven HSMS peer used to provoke protocol edge cases.
type rawPeer struct {
	t    testing.TB
	conn net.Conn
}

func dialRawPeer(t testing.TB, port int) *rawPeer {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(testIP, strconv.Itoa(port)), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &rawPeer{t: t, conn: conn}
}

func acceptRawPeer(t testing.TB, ln net.Listener) *rawPeer {
	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(3 * time.Second))
	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &rawPeer{t: t, conn: conn}
}

func (p *rawPeer) send(msg *hsms.Message) {
	_, err := p.conn.Write(hsms.EncodeMessage(msg))
	require.NoError(p.t, err)
}

// sendFrames writes msgs back to back with a single Write call.
func (p *rawPeer) sendFrames(msgs ...*hsms.Message) {
	var buf []byte
	for _, msg := range msgs {
		buf = hsms.AppendFrame(buf, msg)
	}

	_, err := p.conn.Write(buf)
	require.NoError(p.t, err)
}

func (p *rawPeer) recv() (*hsms.Message, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var lenBuf [hsms.LengthFieldSize]byte
	if _, err := io.ReadFull(p.conn, lenBuf[:]); err != nil {
		return nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, err
	}

	return hsms.DecodeMessage(payload)
}

func (p *rawPeer) expect(stype hsms.SType, systemBytes uint32) *hsms.Message {
	msg, err := p.recv()
	require.NoError(p.t, err)
	require.Equal(p.t, stype, msg.SType(), msg.String())
	require.Equal(p.t, systemBytes, msg.SystemBytes(), msg.String())

	return msg
}

func (p *rawPeer) expectReject(systemBytes uint32, reason hsms.RejectReason) *hsms.Message {
	msg := p.expect(hsms.RejectReqType, systemBytes)
	require.Equal(p.t, reason, msg.RejectReason())

	return msg
}

// expectClosed waits until the remote side closed the connection.
func (p *rawPeer) expectClosed() {
	for {
		msg, err := p.recv()
		if err != nil {
			require.False(p.t, isTimeoutError(err), "connection still open")
			return
		}
		require.NotEqual(p.t, hsms.DataMsgType, msg.SType(), "unexpected message %s", msg)
	}
}

// selectPassive selects the session of a passive communicator.
func (p *rawPeer) selectPassive(systemBytes uint32) {
	p.send(hsms.NewSelectReq(testSessionID, systemBytes))
	rsp := p.expect(hsms.SelectRspType, systemBytes)
	require.Equal(p.t, hsms.SelectStatusSuccess, rsp.Status())
}

// acceptSelect answers the select.req of an active communicator.
func (p *rawPeer) acceptSelect() {
	req, err := p.recv()
	require.NoError(p.t, err)
	require.Equal(p.t, hsms.SelectReqType, req.SType())

	rsp, err := hsms.NewSelectRsp(req, hsms.SelectStatusSuccess)
	require.NoError(p.t, err)
	p.send(rsp)
}

func newRawListener(t testing.TB) (net.Listener, int) {
	ln, err := net.Listen("tcp", net.JoinHostPort(testIP, "0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestSession_PassiveProtocolHandling(t *testing.T) {
	require := require.New(t)

	comm := newConn(t, 0, false, RolePassive, WithAutoLinktest(false))
	recvCh := make(chan *hsms.Message, 10)
	comm.AddMessageReceivedBiListener(func(msg *hsms.Message, c *Connection) {
		recvCh <- msg
		echoHandler(msg, c)
	})
	require.NoError(comm.Open())
	defer comm.Close()

	peer := dialRawPeer(t, listenPort(t, comm))

	// data before select is rejected
	data, err := hsms.NewDataMessage(1, 1, true, testSessionID, 10, nil)
	require.NoError(err)
	peer.send(data)
	rej := peer.expectReject(10, hsms.RejectNotSelected)
	require.Equal(byte(hsms.DataMsgType), rej.Header().Byte2)

	// deselect while not selected
	peer.send(hsms.NewDeselectReq(testSessionID, 11))
	rsp := peer.expect(hsms.DeselectRspType, 11)
	require.Equal(hsms.DeselectStatusNotSelected, rsp.Status())

	// sending data from a not selected communicator fails
	require.Eventually(func() bool { return comm.State() == NotSelectedState }, time.Second, 5*time.Millisecond)
	_, err = comm.SendDataMessage(context.Background(), 1, 1, true, nil)
	require.ErrorIs(err, hsms.ErrNotSelected)

	peer.selectPassive(12)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	// select while selected
	peer.send(hsms.NewSelectReq(testSessionID, 13))
	rsp = peer.expect(hsms.SelectRspType, 13)
	require.Equal(hsms.SelectStatusActived, rsp.Status())

	// unsupported sType
	peer.send(hsms.NewMessage(hsms.Header{SessionID: testSessionID, SType: 8, SystemBytes: 14}, nil))
	rej = peer.expectReject(14, hsms.RejectSTypeNotSupported)
	require.Equal(byte(8), rej.Header().Byte2)

	// unsupported pType
	peer.send(hsms.NewMessage(hsms.Header{SessionID: testSessionID, PType: 5, SystemBytes: 15}, nil))
	rej = peer.expectReject(15, hsms.RejectPTypeNotSupported)
	require.Equal(byte(5), rej.Header().Byte2)

	// control response without open transaction
	peer.send(hsms.NewMessage(hsms.Header{SessionID: hsms.LinktestSessionID, SType: hsms.LinktestRspType, SystemBytes: 16}, nil))
	peer.expectReject(16, hsms.RejectTransactionNotOpen)

	// data reply without open transaction reaches the listeners
	orphan, err := hsms.NewDataMessage(1, 2, false, testSessionID, 17, hsms.RawBody{0x01})
	require.NoError(err)
	peer.send(orphan)
	select {
	case msg := <-recvCh:
		require.Equal(uint32(17), msg.SystemBytes())
		require.True(msg.IsReply())
	case <-time.After(time.Second):
		require.Fail("orphan reply not delivered")
	}

	// linktest
	peer.send(hsms.NewLinktestReq(18))
	rsp = peer.expect(hsms.LinktestRspType, 18)
	require.Equal(uint16(hsms.LinktestSessionID), rsp.SessionID())

	// primary data message is answered by the echo listener
	data, err = hsms.NewDataMessage(1, 1, true, testSessionID, 19, hsms.RawBody("abc"))
	require.NoError(err)
	peer.send(data)
	reply := peer.expect(hsms.DataMsgType, 19)
	require.Equal(uint8(2), reply.FunctionCode())
	require.Equal([]byte("abc"), reply.BodyBytes())

	// deselect, then select again
	peer.send(hsms.NewDeselectReq(testSessionID, 20))
	rsp = peer.expect(hsms.DeselectRspType, 20)
	require.Equal(hsms.DeselectStatusSuccess, rsp.Status())
	require.Eventually(func() bool { return !comm.IsCommunicatable() }, time.Second, 5*time.Millisecond)
	require.Equal(NotSelectedState, comm.State())

	peer.selectPassive(21)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)
	require.Equal(uint64(2), comm.GetMetrics().SelectCount.Load())

	// separate closes the connection, the communicator stays open
	peer.send(hsms.NewSeparateReq(testSessionID, 22))
	peer.expectClosed()
	require.Eventually(func() bool { return !comm.IsCommunicatable() }, time.Second, 5*time.Millisecond)
	require.True(comm.IsOpen())

	require.Equal(uint64(4), comm.GetMetrics().RejectSendCount.Load())

	// a new peer is accepted on the same listener
	peer = dialRawPeer(t, listenPort(t, comm))
	peer.selectPassive(23)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)
}

func TestSession_T7Timeout(t *testing.T) {
	require := require.New(t)

	comm := newConn(t, 0, false, RolePassive, WithT7Timeout(200*time.Millisecond))
	require.NoError(comm.Open())
	defer comm.Close()

	start := time.Now()
	peer := dialRawPeer(t, listenPort(t, comm))
	peer.expectClosed()

	elapsed := time.Since(start)
	require.GreaterOrEqual(elapsed, 150*time.Millisecond)
	require.Less(elapsed, 2*time.Second)
	require.False(comm.IsCommunicatable())
}

func TestSession_T7RestartsAfterDeselect(t *testing.T) {
	require := require.New(t)

	t7 := 200 * time.Millisecond
	comm := newConn(t, 0, false, RolePassive, WithAutoLinktest(false), WithT7Timeout(t7))
	require.NoError(comm.Open())
	defer comm.Close()

	peer := dialRawPeer(t, listenPort(t, comm))
	peer.selectPassive(1)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	// T7 doesn't run while selected
	time.Sleep(t7 + 100*time.Millisecond)
	require.Equal(SelectedState, comm.State())
	peer.send(hsms.NewLinktestReq(2))
	peer.expect(hsms.LinktestRspType, 2)

	peer.send(hsms.NewDeselectReq(testSessionID, 3))
	rsp := peer.expect(hsms.DeselectRspType, 3)
	require.Equal(hsms.DeselectStatusSuccess, rsp.Status())

	start := time.Now()
	peer.expectClosed()

	elapsed := time.Since(start)
	require.GreaterOrEqual(elapsed, 150*time.Millisecond)
	require.Less(elapsed, 2*time.Second)
	require.False(comm.IsCommunicatable())
	require.True(comm.IsOpen())
}

func TestSession_ExpireT7(t *testing.T) {
	require := require.New(t)

	comm := newConn(t, 0, false, RolePassive)
	defer comm.Close()

	local, remote := net.Pipe()
	defer remote.Close()

	s := newSession(comm, local)
	require.NoError(s.start())

	s.stateMu.Lock()
	gen := s.t7Gen
	s.stateMu.Unlock()

	require.False(s.expireT7(gen+1), "stale generation must not expire")
	require.Equal(NotSelectedState, s.state())

	require.True(s.expireT7(gen))
	require.Equal(NotConnectedState, s.state())
	require.False(s.toSelected(), "an expired session can't be selected")
	require.False(s.expireT7(gen))

	s.close(hsms.ErrT7Timeout)
	s.wait()
	require.False(comm.IsCommunicatable())
}

func TestSession_DataRightAfterControlResponse(t *testing.T) {
	require := require.New(t)

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive, WithAutoLinktest(false))
	comm.AddMessageReceivedBiListener(echoHandler)
	require.NoError(comm.Open())
	defer comm.Close()

	peer := acceptRawPeer(t, ln)

	// select.rsp and a primary arrive in the same segment
	req := peer.expect(hsms.SelectReqType, 1)
	rsp, err := hsms.NewSelectRsp(req, hsms.SelectStatusSuccess)
	require.NoError(err)
	data, err := hsms.NewDataMessage(1, 1, true, testSessionID, 5000, hsms.RawBody("s1f1"))
	require.NoError(err)
	peer.sendFrames(rsp, data)

	reply := peer.expect(hsms.DataMsgType, 5000)
	require.Equal(uint8(2), reply.FunctionCode())
	require.Equal([]byte("s1f1"), reply.BodyBytes())
	require.Equal(uint64(0), comm.GetMetrics().RejectSendCount.Load())
	require.True(comm.IsCommunicatable())

	// deselect.rsp followed by a primary: the primary is no longer accepted
	errCh := make(chan error, 1)
	go func() { errCh <- comm.Deselect(context.Background()) }()

	req = peer.expect(hsms.DeselectReqType, 2)
	rsp, err = hsms.NewDeselectRsp(req, hsms.DeselectStatusSuccess)
	require.NoError(err)
	data, err = hsms.NewDataMessage(1, 1, true, testSessionID, 5001, nil)
	require.NoError(err)
	peer.sendFrames(rsp, data)

	require.NoError(<-errCh)
	peer.expectReject(5001, hsms.RejectNotSelected)
	require.Equal(NotSelectedState, comm.State())
}

func TestSession_ActiveSelect(t *testing.T) {
	require := require.New(t)

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive, WithAutoLinktest(false), WithT7Timeout(5*time.Second))
	require.NoError(comm.Open())
	defer comm.Close()

	peer := acceptRawPeer(t, ln)

	// the first request of a communicator carries system bytes 1
	req := peer.expect(hsms.SelectReqType, 1)
	require.Equal(uint16(testSessionID), req.SessionID())
	rsp, err := hsms.NewSelectRsp(req, hsms.SelectStatusSuccess)
	require.NoError(err)
	peer.send(rsp)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	// deselect initiated by the communicator
	errCh := make(chan error, 1)
	go func() { errCh <- comm.Deselect(context.Background()) }()

	req = peer.expect(hsms.DeselectReqType, 2)
	rsp, err = hsms.NewDeselectRsp(req, hsms.DeselectStatusSuccess)
	require.NoError(err)
	peer.send(rsp)
	require.NoError(<-errCh)
	require.False(comm.IsCommunicatable())
	require.Equal(NotSelectedState, comm.State())
	require.ErrorIs(comm.Deselect(context.Background()), hsms.ErrNotSelected)

	// separate initiated by the communicator
	peer.send(hsms.NewSelectReq(testSessionID, 100))
	peer.expect(hsms.SelectRspType, 100)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	require.NoError(comm.Separate(context.Background()))
	peer.expect(hsms.SeparateReqType, 3)
	peer.expectClosed()

	// the active role reconnects after T5
	peer = acceptRawPeer(t, ln)
	peer.expect(hsms.SelectReqType, 4)
}

func TestSession_SelectRefused(t *testing.T) {
	require := require.New(t)

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive)
	require.NoError(comm.Open())
	defer comm.Close()

	peer := acceptRawPeer(t, ln)
	req, err := peer.recv()
	require.NoError(err)
	rsp, err := hsms.NewSelectRsp(req, hsms.SelectStatusNotReady)
	require.NoError(err)
	peer.send(rsp)

	peer.expectClosed()
	require.False(comm.IsCommunicatable())
}

func TestSession_LinktestFailureClosesConnection(t *testing.T) {
	require := require.New(t)

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive,
		WithAutoLinktest(true),
		WithLinktestInterval(50*time.Millisecond),
		WithT6Timeout(100*time.Millisecond),
		WithT5Timeout(10*time.Millisecond),
	)
	require.NoError(comm.Open())
	defer comm.Close()

	peer := acceptRawPeer(t, ln)
	peer.acceptSelect()

	// answer the first linktest, ignore the second
	req := peer.expect(hsms.LinktestReqType, 2)
	rsp, err := hsms.NewLinktestRsp(req)
	require.NoError(err)
	peer.send(rsp)

	peer.expect(hsms.LinktestReqType, 3)
	peer.expectClosed()

	metrics := comm.GetMetrics()
	require.Eventually(func() bool { return metrics.LinktestErrCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(uint64(1), metrics.ReplyTimeoutCount.Load())

	// reconnects and selects again
	peer = acceptRawPeer(t, ln)
	peer.acceptSelect()
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)
	require.Equal(uint64(2), metrics.ConnectCount.Load())
}

func TestSession_ReplyHandling(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive, WithAutoLinktest(false), WithT3Timeout(200*time.Millisecond))
	require.NoError(comm.Open())
	defer comm.Close()

	peer := acceptRawPeer(t, ln)
	peer.acceptSelect()
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	// T3 timeout
	_, err := comm.SendDataMessage(ctx, 1, 1, true, nil)
	require.ErrorIs(err, hsms.ErrT3Timeout)
	require.ErrorIs(err, hsms.ErrWaitReplyTimeout)
	peer.expect(hsms.DataMsgType, 2)
	require.Equal(uint64(1), comm.GetMetrics().ReplyTimeoutCount.Load())
	require.True(comm.IsCommunicatable())

	// reject.req fails the transaction
	errCh := make(chan error, 1)
	go func() {
		_, err := comm.SendDataMessage(ctx, 2, 13, true, nil)
		errCh <- err
	}()
	req := peer.expect(hsms.DataMsgType, 3)
	peer.send(hsms.NewRejectReq(req, hsms.RejectTransactionNotOpen))

	err = <-errCh
	require.ErrorIs(err, hsms.ErrRejected)
	var rejErr *hsms.RejectError
	require.True(errors.As(err, &rejErr))
	require.Equal(hsms.RejectTransactionNotOpen, rejErr.Reason)

	// cancelled context
	cancelCtx, cancel := context.WithCancel(ctx)
	go func() {
		peer.expect(hsms.DataMsgType, 4)
		cancel()
	}()
	_, err = comm.SendDataMessage(cancelCtx, 1, 1, true, nil)
	require.ErrorIs(err, hsms.ErrCancelled)
	require.ErrorIs(err, context.Canceled)
}

func TestSession_CloseCancelsPendingSend(t *testing.T) {
	require := require.New(t)

	ln, port := newRawListener(t)
	comm := newConn(t, port, true, RoleActive, WithAutoLinktest(false), WithT3Timeout(10*time.Second))
	require.NoError(comm.Open())

	peer := acceptRawPeer(t, ln)
	peer.acceptSelect()
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := comm.SendDataMessage(context.Background(), 1, 1, true, nil)
		errCh <- err
	}()
	peer.expect(hsms.DataMsgType, 2)

	require.NoError(comm.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(err, hsms.ErrCancelled)
	case <-time.After(time.Second):
		require.Fail("pending send not cancelled by Close")
	}
	peer.expectClosed()
}

func TestSession_PassiveRebind(t *testing.T) {
	require := require.New(t)

	port := getPort()
	comm := newConn(t, port, false, RolePassiveRebind,
		WithAutoLinktest(false),
		WithPassiveRebind(300*time.Millisecond),
	)
	require.NoError(comm.Open())
	defer comm.Close()

	peer := dialRawPeer(t, port)
	peer.selectPassive(1)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)

	// the listener is closed once the session ends
	require.NoError(peer.conn.Close())
	require.Eventually(func() bool { return comm.ListenAddr() == nil }, time.Second, 5*time.Millisecond)

	// and bound again after the rebind interval
	require.Eventually(func() bool { return comm.ListenAddr() != nil }, 2*time.Second, 10*time.Millisecond)

	peer = dialRawPeer(t, port)
	peer.selectPassive(2)
	require.Eventually(comm.IsCommunicatable, time.Second, 5*time.Millisecond)
	require.Equal(uint64(2), comm.GetMetrics().ConnectCount.Load())
}
