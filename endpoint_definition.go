// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package someip

import (
	"fmt"
	"net/netip"
)

// EndpointDefinition is an immutable (address, port, reliable?) triple
// identifying a remote socket. Two definitions are equal iff all three
// fields match; the zero value is not a valid definition.
//
// Ownership of an EndpointDefinition is shared: its lifetime, in practice,
// is the longest-lived subscriber referencing it from the routing
// manager's tables (spec.md §3).
type EndpointDefinition struct {
	Address  netip.Addr
	Port     uint16
	Reliable bool
}

// NewEndpointDefinition builds an EndpointDefinition, following the
// teacher's small-value-type constructor convention (core_socket.go's
// SocketIdentity).
func NewEndpointDefinition(addr netip.Addr, port uint16, reliable bool) EndpointDefinition {
	return EndpointDefinition{Address: addr, Port: port, Reliable: reliable}
}

// Equal reports whether two endpoint definitions name the same socket.
func (e EndpointDefinition) Equal(o EndpointDefinition) bool {
	return e.Address == o.Address && e.Port == o.Port && e.Reliable == o.Reliable
}

// Key returns a comparable, hashable string form suitable for use as a
// map key, following the teacher's practice (majordomo.Broker.workers is
// keyed by identity-as-string) of flattening composite identities into a
// single string key rather than nesting maps three deep.
func (e EndpointDefinition) Key() string {
	proto := "udp"
	if e.Reliable {
		proto = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", proto, e.Address, e.Port)
}

// Less provides a total order over EndpointDefinition values, used where
// the routing manager needs a deterministic iteration order (e.g. test
// assertions on subscriber lists).
func (e EndpointDefinition) Less(o EndpointDefinition) bool {
	if e.Address != o.Address {
		return e.Address.Less(o.Address)
	}
	if e.Port != o.Port {
		return e.Port < o.Port
	}
	return !e.Reliable && o.Reliable
}

func (e EndpointDefinition) String() string { return e.Key() }
