// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package endpoint implements the UDP and TCP server endpoints and the
// dial-side client endpoint that carry SOME/IP traffic to and from remote
// peers (spec.md §4.3, §4.4).
package endpoint

import (
	"encoding/binary"
	"net/netip"

	"github.com/destiny/someip"
)

// Host is the narrow capability a server or client endpoint needs from
// its owner to deliver framed messages and report framing errors. The
// routing manager implements it; this is the Go mapping of spec.md §9's
// "weak back-reference to the host" note: endpoints never own their
// host, they only call back into it.
type Host interface {
	// OnMessage delivers one fully framed SOME/IP message received from
	// receiver. remote is the sender's address, for routing a reply back
	// through receiver.SendTo without a separate reverse lookup;
	// destination is the address the datagram was addressed to at the IP
	// layer, letting the host distinguish a multicast delivery from a
	// unicast one.
	OnMessage(data []byte, size int, receiver Endpoint, remote netip.AddrPort, destination netip.Addr)
	// OnError reports a malformed datagram that could not be framed at
	// all: the leading service id was not recognizable as SD and the
	// length field did not describe a valid message.
	OnError(data []byte, size int, receiver Endpoint)
}

// Endpoint is the capability set common to the server endpoints (UDP,
// TCP) and the client endpoint: enough for a Host to address a reply back
// through the endpoint that received the original message, without
// needing to know its transport.
type Endpoint interface {
	// SendTo hands bytes to the endpoint for delivery to target. The UDP
	// server endpoint queues them and returns once the queue accepted
	// them (not once they reach the wire); the TCP server and client
	// endpoints write them to the socket before returning. If flush is
	// true the caller is asking for prompt delivery; servers with a
	// single outbound worker per destination queue honor this trivially.
	SendTo(target someip.EndpointDefinition, data []byte, flush bool) error
	// LocalPort is the bound local port, used by the routing manager's
	// server_endpoints[port][reliable?] table.
	LocalPort() uint16
	// Reliable reports whether this is a TCP (true) or UDP (false)
	// endpoint.
	Reliable() bool
	// Close tears the endpoint down: outstanding sends are discarded,
	// the socket is closed, and no further Host callbacks are invoked.
	Close() error
}

// HostEndianness parameterizes the byte-swap spec.md §9 flags as an open
// question in UDPServerEndpoint.GetClient: "the source byte-swaps the
// client id in get_client ... it is unclear whether this is correct on
// big-endian hosts". Rather than hard-code the swap, callers choose.
type HostEndianness int

const (
	// HostLittleEndian matches the original vsomeip behavior: the client
	// id recorded from the (big-endian) wire field is byte-swapped
	// before being returned to the caller.
	HostLittleEndian HostEndianness = iota
	// HostBigEndian disables the swap: the wire's big-endian client id
	// is returned as-is.
	HostBigEndian
)

// DetectHostEndianness reports this process's native byte order, for
// callers that want HostEndianness to track the host rather than being
// pinned to HostLittleEndian regardless of platform.
func DetectHostEndianness() HostEndianness {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return HostLittleEndian
	}
	return HostBigEndian
}
