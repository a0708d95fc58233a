package hsms

import (
	"fmt"
)

// Direction tells whether a message was produced locally or read from the peer.
type Direction uint8

const (
	// Outbound marks messages created by this side.
	Outbound Direction = iota
	// Inbound marks messages decoded from the connection.
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}

	return "outbound"
}

// Body is an opaque message body. Implementations encode themselves, the
// transport never inspects them.
type Body interface {
	ToBytes() []byte
}

// RawBody is a Body holding already encoded bytes.
type RawBody []byte

// ToBytes returns b.
func (b RawBody) ToBytes() []byte { return b }

// Message is an HSMS message: a 10-byte header and an optional opaque body.
//
// A Message is immutable once created and safe to share between goroutines.
type Message struct {
	header    Header
	body      Body
	direction Direction
}

// NewMessage creates an outbound message from a header and an optional body.
func NewMessage(header Header, body Body) *Message {
	return &Message{header: header, body: body, direction: Outbound}
}

// NewMessageFromBytes creates an outbound message from a raw 10-byte header.
func NewMessageFromBytes(header []byte, body Body) (*Message, error) {
	if len(header) != HeaderSize {
		return nil, ErrInvalidHeader
	}

	h, err := ParseHeader(header)
	if err != nil {
		return nil, err
	}

	return NewMessage(h, body), nil
}

// Header returns the decoded header.
func (m *Message) Header() Header { return m.header }

// HeaderBytes returns the 10 encoded header bytes.
func (m *Message) HeaderBytes() []byte { return m.header.Bytes() }

// SessionID returns the session/device id.
func (m *Message) SessionID() uint16 { return m.header.SessionID }

// SType returns the session type.
func (m *Message) SType() SType { return m.header.SType }

// PType returns the presentation type.
func (m *Message) PType() byte { return m.header.PType }

// SystemBytes returns the transaction id.
func (m *Message) SystemBytes() uint32 { return m.header.SystemBytes }

// ID is an alias of SystemBytes.
func (m *Message) ID() uint32 { return m.header.SystemBytes }

// Direction returns whether the message was sent or received.
func (m *Message) Direction() Direction { return m.direction }

// IsDataMessage reports whether m is a data message.
func (m *Message) IsDataMessage() bool { return m.header.IsDataMessage() }

// IsControlMessage reports whether m is a control message.
func (m *Message) IsControlMessage() bool { return !m.header.IsDataMessage() }

// StreamCode returns the stream code of a data message.
func (m *Message) StreamCode() uint8 { return m.header.Byte2 & 0x7F }

// FunctionCode returns the function code of a data message.
func (m *Message) FunctionCode() uint8 { return m.header.Byte3 }

// WaitBit returns the W-bit of a data message.
func (m *Message) WaitBit() bool { return m.header.IsDataMessage() && m.header.Byte2&0x80 != 0 }

// IsPrimary reports whether m is a data message with an odd function code.
func (m *Message) IsPrimary() bool { return m.IsDataMessage() && m.header.Byte3%2 == 1 }

// IsReply reports whether m answers an earlier request: a secondary data message
// or a control response.
func (m *Message) IsReply() bool {
	if m.IsDataMessage() {
		return m.header.Byte3 != 0 && m.header.Byte3%2 == 0
	}

	return m.header.PType == 0 && m.header.SType.IsResponse()
}

// ExpectsReply reports whether the sender of m waits for a correlated reply.
func (m *Message) ExpectsReply() bool {
	if m.IsDataMessage() {
		return m.WaitBit()
	}

	return m.header.PType == 0 && m.header.SType.IsRequest()
}

// Status returns the select/deselect status of a control response.
func (m *Message) Status() SelectStatus { return SelectStatus(m.header.Byte3) }

// RejectReason returns the reason code of a reject.req.
func (m *Message) RejectReason() RejectReason { return RejectReason(m.header.Byte3) }

// Body returns the body, nil if the message has none.
func (m *Message) Body() Body { return m.body }

// BodyBytes returns the encoded body, nil if the message has none.
func (m *Message) BodyBytes() []byte {
	if m.body == nil {
		return nil
	}

	return m.body.ToBytes()
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s len=%d", m.direction, m.header, len(m.BodyBytes()))
}
