package hsms

import (
	"encoding/binary"
	"fmt"
)

// AppendFrame appends the wire frame of msg (length field, header, body) to dst.
func AppendFrame(dst []byte, msg *Message) []byte {
	body := msg.BodyBytes()
	dst = binary.BigEndian.AppendUint32(dst, uint32(HeaderSize+len(body))) //nolint:gosec
	dst = msg.header.AppendTo(dst)

	return append(dst, body...)
}

// EncodeMessage returns the wire frame of msg.
func EncodeMessage(msg *Message) []byte {
	return AppendFrame(make([]byte, 0, MinHSMSSize+len(msg.BodyBytes())), msg)
}

// DecodeMessage decodes the payload of one frame, i.e. everything after the
// 4-byte length field.
//
// A *ProtocolError is returned when the payload is shorter than a header or carries
// an unsupported pType/sType. When the header itself could be parsed, the error
// carries it so the caller can answer with reject.req.
func DecodeMessage(payload []byte) (*Message, error) {
	if len(payload) < HeaderSize {
		return nil, &ProtocolError{Detail: fmt.Sprintf("message length %d shorter than header", len(payload))}
	}

	h, err := ParseHeader(payload)
	if err != nil {
		return nil, err
	}

	if h.PType != 0 {
		return nil, &ProtocolError{
			Reason:    RejectPTypeNotSupported,
			Header:    h,
			HasHeader: true,
			Detail:    fmt.Sprintf("pType %d", h.PType),
		}
	}

	if !h.SType.IsSupported() {
		return nil, &ProtocolError{
			Reason:    RejectSTypeNotSupported,
			Header:    h,
			HasHeader: true,
			Detail:    fmt.Sprintf("sType %d", byte(h.SType)),
		}
	}

	msg := &Message{header: h, direction: Inbound}
	if len(payload) > HeaderSize {
		msg.body = RawBody(payload[HeaderSize:])
	}

	return msg, nil
}

// DecodeFrame decodes a complete frame including its 4-byte length field.
func DecodeFrame(frame []byte) (*Message, error) {
	if len(frame) < MinHSMSSize {
		return nil, &ProtocolError{Detail: fmt.Sprintf("frame length %d too short", len(frame))}
	}

	msgLen := binary.BigEndian.Uint32(frame)
	if int(msgLen) != len(frame)-LengthFieldSize {
		return nil, &ProtocolError{Detail: fmt.Sprintf("length field %d does not match frame size %d", msgLen, len(frame))}
	}

	return DecodeMessage(frame[LengthFieldSize:])
}
