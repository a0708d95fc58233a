package hsms

// MessageFactory builds messages for one session id, drawing system bytes of new
// requests from a shared generator.
type MessageFactory struct {
	sessionID uint16
	ids       *SystemBytesGenerator
}

// NewMessageFactory creates a MessageFactory. A nil generator starts counting at 1.
func NewMessageFactory(sessionID uint16, ids *SystemBytesGenerator) *MessageFactory {
	if ids == nil {
		ids = NewSystemBytesGenerator(0)
	}

	return &MessageFactory{sessionID: sessionID, ids: ids}
}

// SessionID returns the session id stamped on created messages.
func (f *MessageFactory) SessionID() uint16 { return f.sessionID }

// NextSystemBytes allocates the system bytes of a new request.
func (f *MessageFactory) NextSystemBytes() uint32 { return f.ids.Next() }

func (f *MessageFactory) SelectRequest() *Message {
	return NewSelectReq(f.sessionID, f.ids.Next())
}

func (f *MessageFactory) SelectResponse(primary *Message, status SelectStatus) (*Message, error) {
	return NewSelectRsp(primary, status)
}

func (f *MessageFactory) DeselectRequest() *Message {
	return NewDeselectReq(f.sessionID, f.ids.Next())
}

func (f *MessageFactory) DeselectResponse(primary *Message, status SelectStatus) (*Message, error) {
	return NewDeselectRsp(primary, status)
}

func (f *MessageFactory) LinktestRequest() *Message {
	return NewLinktestReq(f.ids.Next())
}

func (f *MessageFactory) LinktestResponse(primary *Message) (*Message, error) {
	return NewLinktestRsp(primary)
}

func (f *MessageFactory) RejectRequest(ref *Message, reason RejectReason) *Message {
	return NewRejectReq(ref, reason)
}

func (f *MessageFactory) SeparateRequest() *Message {
	return NewSeparateReq(f.sessionID, f.ids.Next())
}

// DataMessage creates a primary data message with fresh system bytes.
func (f *MessageFactory) DataMessage(stream byte, function byte, waitBit bool, body Body) (*Message, error) {
	return NewDataMessage(stream, function, waitBit, f.sessionID, f.ids.Next(), body)
}

// ReplyMessage creates the secondary message of primary.
func (f *MessageFactory) ReplyMessage(primary *Message, body Body) (*Message, error) {
	return NewReplyDataMessage(primary, body)
}

// Message creates a message from a raw 10-byte header and an optional body.
func (f *MessageFactory) Message(header []byte, body Body) (*Message, error) {
	return NewMessageFromBytes(header, body)
}
