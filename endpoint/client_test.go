// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/someip"
	"github.com/destiny/someip/internal/testutil"
)

func TestClientEndpointTCPDialAndExchange(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := listener.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	host := &recordingHost{}
	remotePort := uint16(listener.Addr().(*net.TCPAddr).Port)
	client, err := NewClientEndpoint(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     remotePort,
		Reliable: true,
	}, host)
	require.NoError(t, err)
	defer client.Close()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the client's connection")
	}
	defer conn.Close()

	msg := buildMessage(0x1234, someip.MsgTypeResponse, 4)
	_, err = conn.Write(msg)
	require.NoError(t, err)

	testutil.WaitFor(t, 2*time.Second, func() bool { return host.messageCount() == 1 })
	assert.Equal(t, msg, host.messages[0])

	require.NoError(t, client.SendTo(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     remotePort,
		Reliable: true,
	}, buildMessage(0x4321, someip.MsgTypeRequest, 0), true))

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = readFull(conn, buf)
	require.NoError(t, err)
}

func TestClientEndpointTCPDialFailureRetriesThenErrors(t *testing.T) {
	// Bind and immediately close a port so the dial target is refused,
	// with a short retry budget so the test does not stall.
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	_, err = NewClientEndpoint(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     port,
		Reliable: true,
	}, &recordingHost{}, WithClientDialRetry(5*time.Millisecond), WithClientMaxRetries(2))
	assert.Error(t, err)
}

func TestClientEndpointUDPSendAndReceive(t *testing.T) {
	serverConn, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	defer serverConn.Close()
	serverPort := uint16(serverConn.LocalAddr().(*net.UDPAddr).Port)

	host := &recordingHost{}
	client, err := NewClientEndpoint(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     serverPort,
		Reliable: false,
	}, host)
	require.NoError(t, err)
	defer client.Close()

	req := buildMessage(0x1234, someip.MsgTypeRequest, 0)
	require.NoError(t, client.SendTo(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     serverPort,
		Reliable: false,
	}, req, true))

	buf := make([]byte, MaxUDPMessageSize)
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, clientAddr, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, req, buf[:n])

	resp := buildMessage(0x1234, someip.MsgTypeResponse, 8)
	_, err = serverConn.WriteToUDP(resp, clientAddr)
	require.NoError(t, err)

	testutil.WaitFor(t, 2*time.Second, func() bool { return host.messageCount() == 1 })
	assert.Equal(t, resp, host.messages[0])
}

func TestClientEndpointFrameResponseRejectsSDCoalescedWithLongerTrailer(t *testing.T) {
	host := &recordingHost{}
	client, err := NewClientEndpoint(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     1,
		Reliable: false,
	}, host)
	require.NoError(t, err)
	defer client.Close()

	sdMessage := buildMessage(someip.SDServiceID, someip.MsgTypeNotification, 0)
	trailer := buildMessage(0x3333, someip.MsgTypeNotification, 32)
	datagram := append(append([]byte{}, sdMessage...), trailer...)

	client.frameResponse(datagram)

	// Mirrors UDPServerEndpoint.frameDatagram's identical carve-out: the
	// coalesced SD message is rejected, the trailer still delivers.
	require.Equal(t, 1, host.messageCount())
	assert.Equal(t, trailer, host.messages[0])
}

func TestClientEndpointFrameResponseSDCoalescedWithLargerLeadingSizeIsDelivered(t *testing.T) {
	host := &recordingHost{}
	client, err := NewClientEndpoint(someip.EndpointDefinition{
		Address:  netip.MustParseAddr("127.0.0.1"),
		Port:     1,
		Reliable: false,
	}, host)
	require.NoError(t, err)
	defer client.Close()

	// SD message size 32, trailer size 16: remaining is decremented to 16
	// (the trailer's size) before the carve-out check runs, so 32 >= 16
	// holds and the SD message is delivered -- the case that distinguishes
	// checking against the post-decrement remaining (frameDatagram, and
	// now frameResponse) from checking against the pre-decrement total.
	sdMessage := buildMessage(someip.SDServiceID, someip.MsgTypeNotification, 16)
	trailer := buildMessage(0x4444, someip.MsgTypeNotification, 0)
	datagram := append(append([]byte{}, sdMessage...), trailer...)

	client.frameResponse(datagram)

	require.Equal(t, 2, host.messageCount())
	assert.Equal(t, sdMessage, host.messages[0])
	assert.Equal(t, trailer, host.messages[1])
}
