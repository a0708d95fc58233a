package hsmsss

import (
	"time"

	"github.com/fablink/go-hsms/hsms"
	"github.com/fablink/go-hsms/logger"
)

// Log subjects published with every LogEvent, after the configured subject header.
const (
	subjectState    = "state"
	subjectConnect  = "connect"
	subjectSelect   = "select"
	subjectLinktest = "linktest"
	subjectSend     = "send"
	subjectReceive  = "receive"
)

func (c *Connection) logInfo(subject, msg string, keysAndValues ...any) {
	c.logger.Info(msg, keysAndValues...)
	c.publishLog(logger.InfoLevel, subject, msg, keysAndValues)
}

func (c *Connection) logWarn(subject, msg string, keysAndValues ...any) {
	c.logger.Warn(msg, keysAndValues...)
	c.publishLog(logger.WarnLevel, subject, msg, keysAndValues)
}

func (c *Connection) logError(subject, msg string, keysAndValues ...any) {
	c.logger.Error(msg, keysAndValues...)
	c.publishLog(logger.ErrorLevel, subject, msg, keysAndValues)
}

// publishLog queues a LogEvent for the log listeners. An "error" attribute holding an
// error value is moved to LogEvent.Err.
func (c *Connection) publishLog(level logger.LogLevel, subject, msg string, keysAndValues []any) {
	if c.logDispatcher.ListenerCount() == 0 {
		return
	}

	ev := hsms.LogEvent{
		Time:    time.Now(),
		Level:   level,
		Subject: c.cfg.LogSubjectHeader() + subject,
		Message: msg,
	}

	attrs := make([]any, 0, len(keysAndValues))
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			attrs = append(attrs, keysAndValues[i])
			break
		}

		if key, ok := keysAndValues[i].(string); ok && key == "error" {
			if err, ok := keysAndValues[i+1].(error); ok {
				ev.Err = err
				continue
			}
		}
		attrs = append(attrs, keysAndValues[i], keysAndValues[i+1])
	}
	ev.Attrs = attrs

	c.logDispatcher.Notify(ev)
}

// AddMessageReceivedListener registers fn for received primary data messages and for
// data replies that matched no pending transaction.
func (c *Connection) AddMessageReceivedListener(fn func(msg *hsms.Message)) hsms.ListenerID {
	return c.msgRecvDispatcher.AddListener(fn)
}

// AddMessageReceivedBiListener is AddMessageReceivedListener with the communicator passed along.
func (c *Connection) AddMessageReceivedBiListener(fn func(msg *hsms.Message, conn *Connection)) hsms.ListenerID {
	return c.msgRecvDispatcher.AddListener(func(msg *hsms.Message) { fn(msg, c) })
}

// RemoveMessageReceivedListener removes a listener added by AddMessageReceivedListener or
// AddMessageReceivedBiListener. It reports whether the listener was registered.
func (c *Connection) RemoveMessageReceivedListener(id hsms.ListenerID) bool {
	return c.msgRecvDispatcher.RemoveListener(id)
}

// AddLogListener registers fn for the log events of the communicator.
func (c *Connection) AddLogListener(fn func(ev hsms.LogEvent)) hsms.ListenerID {
	return c.logDispatcher.AddListener(fn)
}

// AddLogBiListener is AddLogListener with the communicator passed along.
func (c *Connection) AddLogBiListener(fn func(ev hsms.LogEvent, conn *Connection)) hsms.ListenerID {
	return c.logDispatcher.AddListener(func(ev hsms.LogEvent) { fn(ev, c) })
}

// RemoveLogListener removes a listener added by AddLogListener or AddLogBiListener.
func (c *Connection) RemoveLogListener(id hsms.ListenerID) bool {
	return c.logDispatcher.RemoveListener(id)
}

// AddCommunicatableStateChangeListener registers fn for communicatable changes. fn is
// called with the current value right after registration.
func (c *Connection) AddCommunicatableStateChangeListener(fn func(communicatable bool)) hsms.ListenerID {
	return c.communicatable.AddChangeListener(fn)
}

// AddCommunicatableStateChangeBiListener is AddCommunicatableStateChangeListener with the communicator passed along.
func (c *Connection) AddCommunicatableStateChangeBiListener(fn func(communicatable bool, conn *Connection)) hsms.ListenerID {
	return c.communicatable.AddChangeListener(func(v bool) { fn(v, c) })
}

// RemoveCommunicatableStateChangeListener removes a listener added by AddCommunicatableStateChangeListener or AddCommunicatableStateChangeBiListener.
func (c *Connection) RemoveCommunicatableStateChangeListener(id hsms.ListenerID) bool {
	return c.communicatable.RemoveChangeListener(id)
}

// AddTrySendMessagePassThroughListener registers fn for every message about to be written.
func (c *Connection) AddTrySendMessagePassThroughListener(fn func(msg *hsms.Message)) hsms.ListenerID {
	return c.trySendDispatcher.AddListener(fn)
}

// AddTrySendMessagePassThroughBiListener is AddTrySendMessagePassThroughListener with the communicator passed along.
func (c *Connection) AddTrySendMessagePassThroughBiListener(fn func(msg *hsms.Message, conn *Connection)) hsms.ListenerID {
	return c.trySendDispatcher.AddListener(func(msg *hsms.Message) { fn(msg, c) })
}

// RemoveTrySendMessagePassThroughListener removes a listener added by AddTrySendMessagePassThroughListener or AddTrySendMessagePassThroughBiListener.
func (c *Connection) RemoveTrySendMessagePassThroughListener(id hsms.ListenerID) bool {
	return c.trySendDispatcher.RemoveListener(id)
}

// AddSentMessagePassThroughListener registers fn for every message written successfully.
func (c *Connection) AddSentMessagePassThroughListener(fn func(msg *hsms.Message)) hsms.ListenerID {
	return c.sentDispatcher.AddListener(fn)
}

// AddSentMessagePassThroughBiListener is AddSentMessagePassThroughListener with the communicator passed along.
func (c *Connection) AddSentMessagePassThroughBiListener(fn func(msg *hsms.Message, conn *Connection)) hsms.ListenerID {
	return c.sentDispatcher.AddListener(func(msg *hsms.Message) { fn(msg, c) })
}

// RemoveSentMessagePassThroughListener removes a listener added by AddSentMessagePassThroughListener or AddSentMessagePassThroughBiListener.
func (c *Connection) RemoveSentMessagePassThroughListener(id hsms.ListenerID) bool {
	return c.sentDispatcher.RemoveListener(id)
}

// AddReceivedMessagePassThroughListener registers fn for every decoded message, data and
// control, before it is handled.
func (c *Connection) AddReceivedMessagePassThroughListener(fn func(msg *hsms.Message)) hsms.ListenerID {
	return c.recvDispatcher.AddListener(fn)
}

// AddReceivedMessagePassThroughBiListener is AddReceivedMessagePassThroughListener with the communicator passed along.
func (c *Connection) AddReceivedMessagePassThroughBiListener(fn func(msg *hsms.Message, conn *Connection)) hsms.ListenerID {
	return c.recvDispatcher.AddListener(func(msg *hsms.Message) { fn(msg, c) })
}

// RemoveReceivedMessagePassThroughListener removes a listener added by AddReceivedMessagePassThroughListener or AddReceivedMessagePassThroughBiListener.
func (c *Connection) RemoveReceivedMessagePassThroughListener(id hsms.ListenerID) bool {
	return c.recvDispatcher.RemoveListener(id)
}
