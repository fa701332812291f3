// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package someip implements the routing and dispatch core of a SOME/IP
// middleware: message framing, endpoint identity, and the types shared by
// the endpoint, registry, routing, and application packages.
package someip

import "fmt"

// ServiceID identifies a SOME/IP service interface.
type ServiceID uint16

// InstanceID identifies one instance of a service.
type InstanceID uint16

// MethodID identifies a method or, in the disjoint upper range, an event.
type MethodID uint16

// EventID is a MethodID known to name an event rather than a method.
type EventID = MethodID

// EventGroupID identifies a named set of events subscribed to as a unit.
type EventGroupID uint16

// ClientID identifies a local application process uniquely within the host.
type ClientID uint16

// RoutingManagerClientID is the client id stamped on a message the routing
// manager originates itself rather than forwards on an application's
// behalf -- a field-update push with no incoming request to attribute it
// to. Mirrors the original implementation's dedicated routing-client id
// (routing_manager_impl.hpp's notify/notify_one, which build a message
// without any calling client_t in scope).
const RoutingManagerClientID ClientID = 0

// SessionID is a per-client monotonic request counter. It is never zero
// after the first increment; the counter skips zero on wrap.
type SessionID uint16

// MajorVersion is the 8 bit interface major version.
type MajorVersion uint8

// MinorVersion is the 32 bit interface minor version.
type MinorVersion uint32

// TTL is a service-discovery time to live, in seconds. TTLInfinite marks an
// entry that never expires.
type TTL uint32

// TTLInfinite is the wire value 0xFFFFFF, meaning "does not expire".
const TTLInfinite TTL = 0xFFFFFF

// ANY_SERVICE, ANY_INSTANCE, ANY_METHOD, ANY_EVENTGROUP, ANY_MAJOR and
// ANY_MINOR are wildcard identifiers accepted by request/subscribe calls
// and matched only when no more specific entry exists.
const (
	AnyService    ServiceID    = 0xFFFF
	AnyInstance   InstanceID   = 0xFFFF
	AnyMethod     MethodID     = 0xFFFF
	AnyEventGroup EventGroupID = 0xFFFF
	AnyMajor      MajorVersion = 0xFF
	AnyMinor      MinorVersion = 0xFFFFFFFF
)

// SDServiceID is the well-known service id of SOME/IP Service Discovery.
// An SD message is delivered from a datagram only when its size is at
// least the number of bytes that follow it (see the datagram framing in
// the endpoint package).
const SDServiceID ServiceID = 0xFFFF

// SDMethodID is the well-known method id used by SD offer/subscribe entries.
const SDMethodID MethodID = 0x8100

// identifyMethodOffset is subtracted from AnyMethod to build the
// well-known "identify" method used by exclusive proxy requests
// (spec.md §4.5, RequestService use_exclusive_proxy).
const identifyMethodOffset MethodID = 1

// IdentifyMethodID returns the method id reserved for identify-response
// routing when a request is made with an exclusive proxy.
func IdentifyMethodID() MethodID {
	return AnyMethod - identifyMethodOffset
}

// String renders a ServiceID the way vsomeip logs render it: 4 hex digits.
func (s ServiceID) String() string { return fmt.Sprintf("[%04x]", uint16(s)) }

// String renders an InstanceID as 4 hex digits.
func (i InstanceID) String() string { return fmt.Sprintf("[%04x]", uint16(i)) }

// String renders a ClientID as 4 hex digits.
func (c ClientID) String() string { return fmt.Sprintf("[%04x]", uint16(c)) }
