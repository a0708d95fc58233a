package hsmsss

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/fablink/go-hsms/hsms"
)

// messageReader reads and decodes individual HSMS messages from a net.Conn.
//
// Framing (SEMI E37 §8):
//  1. Read the 4-byte big-endian message length without a deadline, so the
//     connection may idle between messages.
//  2. Validate the length (at least a header, at most hsms.MaxMessageSize).
//  3. Read the payload under the T8 deadline.
//  4. Decode with hsms.DecodeMessage.
//
// messageReader is not goroutine-safe; a connection has exactly one reader.
type messageReader struct {
	t8Timeout func() time.Duration
	lenBuf    [hsms.LengthFieldSize]byte
}

func newMessageReader(t8Timeout func() time.Duration) *messageReader {
	return &messageReader{t8Timeout: t8Timeout}
}

// ReadMessage reads one complete message from conn.
//
// A returned *hsms.ProtocolError whose HasHeader is true leaves the stream aligned
// on the next frame, so the caller may answer with reject.req and keep reading.
// Any other error means the stream can't be trusted anymore.
func (mr *messageReader) ReadMessage(conn net.Conn) (*hsms.Message, error) {
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear read deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, mr.lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read message length: %w", err)
	}

	msgLen := binary.BigEndian.Uint32(mr.lenBuf[:])
	if msgLen < hsms.HeaderSize {
		return nil, fmt.Errorf("%w: message length %d shorter than header", hsms.ErrProtocolViolation, msgLen)
	}

	if msgLen > hsms.MaxMessageSize {
		return nil, fmt.Errorf("%w: message length %d exceeds maximum %d", hsms.ErrProtocolViolation, msgLen, hsms.MaxMessageSize)
	}

	if err := conn.SetReadDeadline(time.Now().Add(mr.t8Timeout())); err != nil {
		return nil, fmt.Errorf("set T8 deadline: %w", err)
	}

	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		if isTimeoutError(err) {
			return nil, fmt.Errorf("read message payload: %w: %w", hsms.ErrT8Timeout, err)
		}

		return nil, fmt.Errorf("read message payload: %w", err)
	}

	return hsms.DecodeMessage(payload)
}

// isRecoverableReadError reports whether the read loop may continue after err.
func isRecoverableReadError(err error) bool {
	var perr *hsms.ProtocolError

	return errors.As(err, &perr) && perr.HasHeader
}

func isTimeoutError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedError reports errors caused by a local close or an orderly peer close.
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
