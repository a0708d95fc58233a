package hsms

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStreamCode indicates that an invalid stream code was provided.
	// Valid stream codes are in the range of 0 to 127.
	ErrInvalidStreamCode = errors.New("invalid stream code, should be in range of [0, 127]")

	// ErrInvalidHeader indicates that a header is not exactly 10 bytes long.
	ErrInvalidHeader = errors.New("invalid header, length is not 10")

	// ErrInvalidReqMsg indicates that the message is not a valid request/primary message.
	ErrInvalidReqMsg = errors.New("message is not a valid request/primary message")

	// ErrNotDataMsg indicates that the message is not a data message.
	ErrNotDataMsg = errors.New("message is not a data message")
)

var (
	// ErrSendFailure indicates that writing a message to the connection failed.
	ErrSendFailure = errors.New("send failure")

	// ErrNotConnected indicates that there is no live connection to send on.
	ErrNotConnected = errors.New("not connected")

	// ErrNotSelected indicates that a data message was sent outside the selected state.
	ErrNotSelected = errors.New("not selected")

	// ErrWaitReplyTimeout indicates that the reply of a request did not arrive in time.
	ErrWaitReplyTimeout = errors.New("wait reply timeout")

	// ErrRejected indicates that the peer answered a request with a reject message.
	ErrRejected = errors.New("rejected by peer")

	// ErrProtocolViolation indicates a malformed or unsupported message.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCancelled indicates that a blocking wait was cancelled by close or by the caller.
	ErrCancelled = errors.New("cancelled")

	// ErrDuplicateTransaction indicates that the system bytes of a request are already in flight.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("connection config is nil")

	// ErrConnClosed indicates that the connection is closed.
	ErrConnClosed = fmt.Errorf("connection closed: %w", ErrCancelled)

	// ErrCommunicatorClosed indicates that the communicator has been closed.
	ErrCommunicatorClosed = fmt.Errorf("communicator closed: %w", ErrCancelled)

	// ErrAlreadyOpened indicates that Open was called on an opened communicator.
	ErrAlreadyOpened = errors.New("communicator already opened")

	// ErrSelectFailed indicates that the peer answered a select request with a non-zero status.
	ErrSelectFailed = errors.New("select failed")

	// ErrDeselectFailed indicates that the peer answered a deselect request with a non-zero status.
	ErrDeselectFailed = errors.New("deselect failed")
)

var (
	// ErrT3Timeout indicates that a data reply did not arrive within T3.
	ErrT3Timeout = fmt.Errorf("T3 timeout: %w", ErrWaitReplyTimeout)

	// ErrT6Timeout indicates that a control reply did not arrive within T6.
	ErrT6Timeout = fmt.Errorf("T6 timeout: %w", ErrWaitReplyTimeout)

	// ErrT7Timeout indicates that the connection stayed not selected longer than T7.
	ErrT7Timeout = errors.New("T7 timeout")

	// ErrT8Timeout indicates that the inter-character timeout elapsed while reading a frame.
	ErrT8Timeout = errors.New("T8 timeout")
)

// RejectError reports that the peer answered with REJECT_REQ.
type RejectError struct {
	// Reason is the reject reason code from byte3 of the reject header.
	Reason RejectReason
	// Header is the header of the received reject message.
	Header Header
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected by peer: %s", e.Reason)
}

// Is reports whether target is ErrRejected.
func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

// ProtocolError reports a received message that breaks the HSMS framing or type rules.
type ProtocolError struct {
	// Reason is the reject reason to send back, zero if no reject should be sent.
	Reason RejectReason
	// Header is the offending header, valid when HasHeader is true.
	Header    Header
	HasHeader bool
	Detail    string
}

func (e *ProtocolError) Error() string {
	if e.Reason != 0 {
		return fmt.Sprintf("protocol violation: %s: %s", e.Reason, e.Detail)
	}

	return "protocol violation: " + e.Detail
}

// Is reports whether target is ErrProtocolViolation.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// SendError wraps the I/O error of a failed write.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return "send failure: " + e.Err.Error()
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailure, e.Err}
}
