package hsms

// NewDataMessage creates a data message.
//
// The stream code must be in the range of [0, 127]; its high bit is reserved for the W-bit.
func NewDataMessage(stream byte, function byte, waitBit bool, sessionID uint16, systemBytes uint32, body Body) (*Message, error) {
	if stream > 127 {
		return nil, ErrInvalidStreamCode
	}

	byte2 := stream
	if waitBit {
		byte2 |= 0x80
	}

	return NewMessage(Header{
		SessionID:   sessionID,
		Byte2:       byte2,
		Byte3:       function,
		SystemBytes: systemBytes,
	}, body), nil
}

// NewReplyDataMessage creates the secondary message answering primary.
//
// The reply uses function code primary+1, clears the W-bit and echoes the session id
// and system bytes of primary.
func NewReplyDataMessage(primary *Message, body Body) (*Message, error) {
	if primary == nil || !primary.IsDataMessage() {
		return nil, ErrNotDataMsg
	}
	if !primary.IsPrimary() {
		return nil, ErrInvalidReqMsg
	}

	return NewDataMessage(primary.StreamCode(), primary.FunctionCode()+1, false,
		primary.SessionID(), primary.SystemBytes(), body)
}
