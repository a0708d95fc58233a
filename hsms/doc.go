// Package hsms provides the protocol primitives of High-Speed SECS Message Services
// (SEMI E37) shared by every communicator variant.
//
// Messages:
//   - Header: the 10-byte message header (session id, byte2, byte3, pType, sType, system bytes).
//   - Message: an immutable header plus an opaque Body.
//   - MessageFactory: builds control and data messages, numbering requests with a
//     SystemBytesGenerator.
//   - AppendFrame / DecodeMessage: the length-prefixed wire framing.
//
// Runtime building blocks:
//   - ListenerRegistry: copy-on-write listener set with removable IDs.
//   - Dispatcher: one ordered, non-blocking notification channel with a single consumer.
//   - CommunicatableState: observable "selected" flag with WaitUntilTrue.
//   - ReplyCorrelator: pending transactions keyed by system bytes.
//   - TaskManager: supervised goroutines with panic recovery.
//
// Errors are reported with the sentinels in errors.go; use errors.Is to classify them
// (ErrSendFailure, ErrNotConnected, ErrNotSelected, ErrWaitReplyTimeout, ErrRejected,
// ErrProtocolViolation, ErrCancelled).
package hsms
