package hsms

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the HSMS message header in bytes.
	HeaderSize = 10
	// LengthFieldSize is the size of the message length field in bytes.
	LengthFieldSize = 4
	// MinHSMSSize is the minimum size of an HSMS frame (length field + header).
	MinHSMSSize = LengthFieldSize + HeaderSize
	// MaxMessageSize bounds the message length field of a received frame.
	MaxMessageSize = 16 * 1024 * 1024

	// LinktestSessionID is the session id carried by linktest messages.
	LinktestSessionID uint16 = 0xFFFF
)

// SType is the session type byte (header[5]).
type SType byte

const (
	DataMsgType     SType = 0
	SelectReqType   SType = 1
	SelectRspType   SType = 2
	DeselectReqType SType = 3
	DeselectRspType SType = 4
	LinktestReqType SType = 5
	LinktestRspType SType = 6
	RejectReqType   SType = 7
	SeparateReqType SType = 9
)

func (t SType) String() string {
	switch t {
	case DataMsgType:
		return "data"
	case SelectReqType:
		return "select.req"
	case SelectRspType:
		return "select.rsp"
	case DeselectReqType:
		return "deselect.req"
	case DeselectRspType:
		return "deselect.rsp"
	case LinktestReqType:
		return "linktest.req"
	case LinktestRspType:
		return "linktest.rsp"
	case RejectReqType:
		return "reject.req"
	case SeparateReqType:
		return "separate.req"
	default:
		return fmt.Sprintf("stype(%d)", byte(t))
	}
}

// IsSupported reports whether t is an sType of HSMS-SS.
func (t SType) IsSupported() bool {
	return t <= SeparateReqType && t != 8
}

// IsRequest reports whether a message of this type expects a control response.
func (t SType) IsRequest() bool {
	return t == SelectReqType || t == DeselectReqType || t == LinktestReqType
}

// IsResponse reports whether t is a control response type.
func (t SType) IsResponse() bool {
	return t == SelectRspType || t == DeselectRspType || t == LinktestRspType
}

// SelectStatus is the status code carried by select.rsp and deselect.rsp.
type SelectStatus byte

const (
	SelectStatusSuccess       SelectStatus = 0
	SelectStatusActived       SelectStatus = 1
	SelectStatusNotReady      SelectStatus = 2
	SelectStatusAlreadyUsed   SelectStatus = 3
	DeselectStatusSuccess     SelectStatus = 0
	DeselectStatusNotSelected SelectStatus = 1
	DeselectStatusBusy        SelectStatus = 2
)

func (s SelectStatus) String() string {
	switch s {
	case SelectStatusSuccess:
		return "ok"
	case SelectStatusActived:
		return "already active"
	case SelectStatusNotReady:
		return "not ready"
	case SelectStatusAlreadyUsed:
		return "connection exhausted"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// RejectReason is the reason code carried by byte3 of reject.req.
type RejectReason byte

const (
	RejectSTypeNotSupported  RejectReason = 1
	RejectPTypeNotSupported  RejectReason = 2
	RejectTransactionNotOpen RejectReason = 3
	RejectNotSelected        RejectReason = 4
)

func (r RejectReason) String() string {
	switch r {
	case RejectSTypeNotSupported:
		return "sType not supported"
	case RejectPTypeNotSupported:
		return "pType not supported"
	case RejectTransactionNotOpen:
		return "transaction not open"
	case RejectNotSelected:
		return "entity not selected"
	default:
		return fmt.Sprintf("reason(%d)", byte(r))
	}
}

// Header is the decoded form of the 10-byte HSMS message header.
//
// For data messages Byte2 holds the stream code with the W-bit in its high bit and
// Byte3 the function code. For control messages their meaning depends on SType.
type Header struct {
	SessionID   uint16
	Byte2       byte
	Byte3       byte
	PType       byte
	SType       SType
	SystemBytes uint32
}

// ParseHeader decodes the first 10 bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrInvalidHeader
	}

	return Header{
		SessionID:   binary.BigEndian.Uint16(b[0:2]),
		Byte2:       b[2],
		Byte3:       b[3],
		PType:       b[4],
		SType:       SType(b[5]),
		SystemBytes: binary.BigEndian.Uint32(b[6:10]),
	}, nil
}

// AppendTo appends the 10 encoded header bytes to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.SessionID)
	dst = append(dst, h.Byte2, h.Byte3, h.PType, byte(h.SType))

	return binary.BigEndian.AppendUint32(dst, h.SystemBytes)
}

// Bytes returns the 10 encoded header bytes.
func (h Header) Bytes() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// IsDataMessage reports whether the header describes a data message.
func (h Header) IsDataMessage() bool {
	return h.PType == 0 && h.SType == DataMsgType
}

func (h Header) String() string {
	if h.IsDataMessage() {
		w := ""
		if h.Byte2&0x80 != 0 {
			w = " W"
		}
		return fmt.Sprintf("S%dF%d%s session=%d system=%d", h.Byte2&0x7F, h.Byte3, w, h.SessionID, h.SystemBytes)
	}

	return fmt.Sprintf("%s session=%d system=%d", h.SType, h.SessionID, h.SystemBytes)
}
