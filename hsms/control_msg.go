package hsms

// NewSelectReq creates a select.req message.
func NewSelectReq(sessionID uint16, systemBytes uint32) *Message {
	return NewMessage(Header{SessionID: sessionID, SType: SelectReqType, SystemBytes: systemBytes}, nil)
}

// NewSelectRsp creates the select.rsp answering selectReq with the given status.
//
// It returns ErrInvalidReqMsg if selectReq is not a select.req.
func NewSelectRsp(selectReq *Message, status SelectStatus) (*Message, error) {
	if selectReq == nil || selectReq.SType() != SelectReqType {
		return nil, ErrInvalidReqMsg
	}

	return newControlRsp(selectReq, SelectRspType, byte(status)), nil
}

// NewDeselectReq creates a deselect.req message.
func NewDeselectReq(sessionID uint16, systemBytes uint32) *Message {
	return NewMessage(Header{SessionID: sessionID, SType: DeselectReqType, SystemBytes: systemBytes}, nil)
}

// NewDeselectRsp creates the deselect.rsp answering deselectReq with the given status.
//
// It returns ErrInvalidReqMsg if deselectReq is not a deselect.req.
func NewDeselectRsp(deselectReq *Message, status SelectStatus) (*Message, error) {
	if deselectReq == nil || deselectReq.SType() != DeselectReqType {
		return nil, ErrInvalidReqMsg
	}

	return newControlRsp(deselectReq, DeselectRspType, byte(status)), nil
}

// NewLinktestReq creates a linktest.req message. Linktest messages always carry
// session id 0xFFFF.
func NewLinktestReq(systemBytes uint32) *Message {
	return NewMessage(Header{SessionID: LinktestSessionID, SType: LinktestReqType, SystemBytes: systemBytes}, nil)
}

// NewLinktestRsp creates the linktest.rsp answering linktestReq.
//
// It returns ErrInvalidReqMsg if linktestReq is not a linktest.req.
func NewLinktestRsp(linktestReq *Message) (*Message, error) {
	if linktestReq == nil || linktestReq.SType() != LinktestReqType {
		return nil, ErrInvalidReqMsg
	}

	rsp := newControlRsp(linktestReq, LinktestRspType, 0)
	rsp.header.SessionID = LinktestSessionID

	return rsp, nil
}

// NewRejectReq creates a reject.req referring to ref.
//
// Byte2 carries the pType of ref when the reason is an unsupported pType and its
// sType otherwise. Byte3 carries the reason code.
func NewRejectReq(ref *Message, reason RejectReason) *Message {
	return NewRejectReqFromHeader(ref.Header(), reason)
}

// NewRejectReqFromHeader creates a reject.req referring to the message described by h.
func NewRejectReqFromHeader(h Header, reason RejectReason) *Message {
	byte2 := byte(h.SType)
	if reason == RejectPTypeNotSupported {
		byte2 = h.PType
	}

	return NewMessage(Header{
		SessionID:   h.SessionID,
		Byte2:       byte2,
		Byte3:       byte(reason),
		SType:       RejectReqType,
		SystemBytes: h.SystemBytes,
	}, nil)
}

// NewSeparateReq creates a separate.req message.
func NewSeparateReq(sessionID uint16, systemBytes uint32) *Message {
	return NewMessage(Header{SessionID: sessionID, SType: SeparateReqType, SystemBytes: systemBytes}, nil)
}

func newControlRsp(req *Message, stype SType, status byte) *Message {
	return NewMessage(Header{
		SessionID:   req.SessionID(),
		Byte3:       status,
		SType:       stype,
		SystemBytes: req.SystemBytes(),
	}, nil)
}
