// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package someip

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of a SOME/IP message header.
const HeaderSize = 16

// ProtocolVersion is the SOME/IP protocol version this module emits.
const ProtocolVersion uint8 = 0x01

// Header field byte offsets, fixed by the wire protocol (spec.md §6).
const (
	offsetServiceID   = 0
	offsetMethodID    = 2
	offsetLength      = 4
	offsetClientID    = 8
	offsetSessionID   = 10
	offsetProtocolVer = 12
	offsetInterfaceVer = 13
	offsetMessageType = 14
	offsetReturnCode  = 15
)

// MessageType classifies the purpose of a SOME/IP message.
type MessageType uint8

const (
	MsgTypeRequest         MessageType = 0x00
	MsgTypeRequestNoReturn MessageType = 0x01
	MsgTypeNotification    MessageType = 0x02
	MsgTypeResponse        MessageType = 0x80
	MsgTypeError           MessageType = 0x81
)

func (t MessageType) String() string {
	switch t {
	case MsgTypeRequest:
		return "REQUEST"
	case MsgTypeRequestNoReturn:
		return "REQUEST_NO_RETURN"
	case MsgTypeNotification:
		return "NOTIFICATION"
	case MsgTypeResponse:
		return "RESPONSE"
	case MsgTypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", uint8(t))
	}
}

// ReturnCode is the wire-level result code carried by RESPONSE and ERROR
// messages (spec.md §7).
type ReturnCode uint8

const (
	EOk                      ReturnCode = 0x00
	ENotOk                   ReturnCode = 0x01
	EUnknownService          ReturnCode = 0x02
	EUnknownMethod           ReturnCode = 0x03
	ENotReady                ReturnCode = 0x04
	ENotReachable            ReturnCode = 0x05
	ETimeout                 ReturnCode = 0x06
	EWrongProtocolVersion    ReturnCode = 0x07
	EWrongInterfaceVersion   ReturnCode = 0x08
	EMalformedMessage        ReturnCode = 0x09
	EWrongMessageType        ReturnCode = 0x0A
)

// IsRequest reports whether a message-type byte names a message that
// flows from consumer to provider: REQUEST, REQUEST_NO_RETURN, or (by the
// routing manager's reply-routing use of the term) NOTIFICATION.
func IsRequest(messageType uint8) bool {
	switch MessageType(messageType) {
	case MsgTypeRequest, MsgTypeRequestNoReturn, MsgTypeNotification:
		return true
	default:
		return false
	}
}

// GetMessageSize returns the declared total size of the first SOME/IP
// message in buf, given that only n bytes remain. It returns 0 if fewer
// than HeaderSize/2 bytes (the length field's end) are available.
//
// total size = 8 (service+method+length fields) + declared length.
func GetMessageSize(buf []byte, n int) uint32 {
	if n < 8 {
		return 0
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	return 8 + length
}

// Message is a fully framed SOME/IP message: header fields plus payload.
type Message struct {
	ServiceID   ServiceID
	MethodID    MethodID
	ClientID    ClientID
	SessionID   SessionID
	ProtocolVer uint8
	InterfaceVer uint8
	MessageType MessageType
	ReturnCode  ReturnCode
	Payload     []byte
}

// Size returns the total wire size of the message: HeaderSize + len(Payload).
func (m *Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// Length returns the wire "Length" field value: everything after the
// length field itself.
func (m *Message) Length() uint32 {
	return uint32(8 + len(m.Payload))
}

// IsRequest reports whether this message's type makes it a request.
func (m *Message) IsRequest() bool {
	return IsRequest(uint8(m.MessageType))
}

// Encode serializes m into its big-endian wire form.
func (m *Message) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint16(buf[offsetServiceID:], uint16(m.ServiceID))
	binary.BigEndian.PutUint16(buf[offsetMethodID:], uint16(m.MethodID))
	binary.BigEndian.PutUint32(buf[offsetLength:], m.Length())
	binary.BigEndian.PutUint16(buf[offsetClientID:], uint16(m.ClientID))
	binary.BigEndian.PutUint16(buf[offsetSessionID:], uint16(m.SessionID))
	buf[offsetProtocolVer] = m.ProtocolVer
	buf[offsetInterfaceVer] = m.InterfaceVer
	buf[offsetMessageType] = uint8(m.MessageType)
	buf[offsetReturnCode] = uint8(m.ReturnCode)
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// Decode parses a single, complete SOME/IP message from buf. buf must be
// exactly the size GetMessageSize reports (the caller is responsible for
// framing); Decode copies the payload so the returned Message owns its
// memory independently of buf.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("someip: short message: %d bytes, need at least %d", len(buf), HeaderSize)
	}
	length := binary.BigEndian.Uint32(buf[offsetLength:])
	if length < 8 {
		return nil, fmt.Errorf("someip: invalid length field %d (< 8)", length)
	}
	total := 8 + length
	if uint32(len(buf)) != total {
		return nil, fmt.Errorf("someip: buffer size %d does not match declared message size %d", len(buf), total)
	}
	m := &Message{
		ServiceID:    ServiceID(binary.BigEndian.Uint16(buf[offsetServiceID:])),
		MethodID:     MethodID(binary.BigEndian.Uint16(buf[offsetMethodID:])),
		ClientID:     ClientID(binary.BigEndian.Uint16(buf[offsetClientID:])),
		SessionID:    SessionID(binary.BigEndian.Uint16(buf[offsetSessionID:])),
		ProtocolVer:  buf[offsetProtocolVer],
		InterfaceVer: buf[offsetInterfaceVer],
		MessageType:  MessageType(buf[offsetMessageType]),
		ReturnCode:   ReturnCode(buf[offsetReturnCode]),
	}
	if len(buf) > HeaderSize {
		m.Payload = append([]byte(nil), buf[HeaderSize:]...)
	}
	return m, nil
}

// NewErrorResponse builds an ERROR response for the request req, stamped
// with the given return code. Session and client ids are copied from the
// request so the original sender can match the reply.
func NewErrorResponse(req *Message, code ReturnCode) *Message {
	return &Message{
		ServiceID:    req.ServiceID,
		MethodID:     req.MethodID,
		ClientID:     req.ClientID,
		SessionID:    req.SessionID,
		ProtocolVer:  ProtocolVersion,
		InterfaceVer: req.InterfaceVer,
		MessageType:  MsgTypeError,
		ReturnCode:   code,
	}
}
