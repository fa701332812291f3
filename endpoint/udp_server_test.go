// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"encoding/binary"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/someip"
)

// recordingHost captures every OnMessage/OnError call for assertions.
type recordingHost struct {
	mu       sync.Mutex
	messages [][]byte
	remotes  []netip.AddrPort
	errors   [][]byte
}

func (h *recordingHost) OnMessage(data []byte, size int, receiver Endpoint, remote netip.AddrPort, destination netip.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, size)
	copy(buf, data[:size])
	h.messages = append(h.messages, buf)
	h.remotes = append(h.remotes, remote)
}

func (h *recordingHost) OnError(data []byte, size int, receiver Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, size)
	copy(buf, data[:size])
	h.errors = append(h.errors, buf)
}

func (h *recordingHost) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordingHost) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

// buildMessage returns a minimal well-formed SOME/IP message with the
// given service id, message type, and payload length (payload bytes are
// zero-filled).
func buildMessage(service someip.ServiceID, msgType someip.MessageType, payloadLen int) []byte {
	buf := make([]byte, someip.HeaderSize+payloadLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(service))
	binary.BigEndian.PutUint16(buf[2:4], 0x0001) // method
	binary.BigEndian.PutUint32(buf[4:8], uint32(someip.HeaderSize+payloadLen-8))
	binary.BigEndian.PutUint16(buf[8:10], 0x0042)  // client
	binary.BigEndian.PutUint16(buf[10:12], 0x0007) // session
	buf[12] = someip.ProtocolVersion
	buf[13] = 0x01 // interface version
	buf[14] = byte(msgType)
	buf[15] = byte(someip.EOk)
	return buf
}

func newTestUDPEndpoint(t *testing.T, host Host) *UDPServerEndpoint {
	t.Helper()
	ep, err := NewUDPServerEndpoint(netip.MustParseAddrPort("127.0.0.1:0"), host)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestFrameDatagramSingleMessage(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	msg := buildMessage(0x1234, someip.MsgTypeRequest, 4)
	ep.frameDatagram(msg, netip.MustParseAddrPort("10.0.0.1:30509"), netip.MustParseAddr("127.0.0.1"))

	assert.Equal(t, 1, host.messageCount())
	assert.Equal(t, msg, host.messages[0])
}

func TestFrameDatagramCoalescedMessages(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	first := buildMessage(0x1111, someip.MsgTypeRequest, 0)
	second := buildMessage(0x2222, someip.MsgTypeNotification, 8)
	datagram := append(append([]byte{}, first...), second...)

	ep.frameDatagram(datagram, netip.MustParseAddrPort("10.0.0.1:30509"), netip.MustParseAddr("127.0.0.1"))

	require.Equal(t, 2, host.messageCount())
	assert.Equal(t, first, host.messages[0])
	assert.Equal(t, second, host.messages[1])
}

func TestFrameDatagramBadLengthReportsErrorAndStops(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	good := buildMessage(0x1111, someip.MsgTypeRequest, 0)
	// A trailing 4 bytes is not a valid SOME/IP header tail: fewer than 8
	// bytes remain, so GetMessageSize returns 0 for them.
	datagram := append(append([]byte{}, good...), 0xFF, 0xFF, 0xFF, 0xFF)

	ep.frameDatagram(datagram, netip.MustParseAddrPort("10.0.0.1:30509"), netip.MustParseAddr("127.0.0.1"))

	require.Equal(t, 1, host.messageCount())
	assert.Equal(t, good, host.messages[0])
	assert.Equal(t, 1, host.errorCount())
}

func TestFrameDatagramRejectsSDCoalescedWithLongerTrailer(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	sdMessage := buildMessage(someip.SDServiceID, someip.MsgTypeNotification, 0)
	trailer := buildMessage(0x3333, someip.MsgTypeNotification, 32)
	datagram := append(append([]byte{}, sdMessage...), trailer...)

	ep.frameDatagram(datagram, netip.MustParseAddrPort("10.0.0.1:30509"), netip.MustParseAddr("127.0.0.1"))

	// The SD message (16 bytes) is smaller than what trails it in the same
	// datagram (48 bytes) and must be rejected (logged, not delivered); the trailer still frames and
	// delivers normally.
	require.Equal(t, 1, host.messageCount())
	assert.Equal(t, trailer, host.messages[0])
}

func TestFrameDatagramRecordsReplyAddressForRequests(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	msg := buildMessage(0x1234, someip.MsgTypeRequest, 0)
	remote := netip.MustParseAddrPort("192.168.1.5:54321")
	ep.frameDatagram(msg, remote, netip.MustParseAddr("127.0.0.1"))

	client := ep.GetClient(someip.EndpointDefinition{
		Address:  remote.Addr(),
		Port:     remote.Port(),
		Reliable: false,
	})
	// default endianness swaps the wire client id 0x0042 -> 0x4200
	assert.Equal(t, someip.ClientID(0x4200), client)
}

func TestFrameDatagramDoesNotRecordReplyAddressForResponses(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	// RESPONSE flows provider -> consumer and is not one of the message
	// types IsRequest recognizes, so no reply address gets recorded for it.
	msg := buildMessage(0x1234, someip.MsgTypeResponse, 0)
	remote := netip.MustParseAddrPort("192.168.1.5:54321")
	ep.frameDatagram(msg, remote, netip.MustParseAddr("127.0.0.1"))

	client := ep.GetClient(someip.EndpointDefinition{
		Address:  remote.Addr(),
		Port:     remote.Port(),
		Reliable: false,
	})
	assert.Equal(t, someip.ClientID(0), client)
}

func TestUDPJoinLeaveIsIdempotent(t *testing.T) {
	host := &recordingHost{}
	ep := newTestUDPEndpoint(t, host)

	// Join failures (e.g. a sandbox with no multicast-capable interface)
	// are caught and logged rather than propagated, so this only asserts
	// the bookkeeping is idempotent and consistent, not that the
	// underlying OS join necessarily succeeded.
	group := netip.MustParseAddr("239.0.0.1")
	ep.Join(group)
	joined := ep.IsJoined(group)
	ep.Join(group)
	assert.Equal(t, joined, ep.IsJoined(group))

	ep.Leave(group)
	assert.False(t, ep.IsJoined(group))

	// Leaving twice must not panic or error.
	ep.Leave(group)
	assert.False(t, ep.IsJoined(group))
}
