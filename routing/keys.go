// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package routing implements the routing manager: the component that
// owns server/client endpoint tables, service offer/request tables, and
// subscription tables, and forwards messages between local applications
// and remote peers (spec.md §4.5).
package routing

import "github.com/destiny/someip"

// serviceInstanceKey identifies one service instance, the join key most
// of this package's tables use.
type serviceInstanceKey struct {
	service  someip.ServiceID
	instance someip.InstanceID
}

// portKey identifies a bound local server endpoint: (port, reliable?).
// Only one server endpoint may exist per portKey (spec.md §3 invariant).
type portKey struct {
	port     uint16
	reliable bool
}

// remoteServiceKey identifies one (service, instance, reliable?) remote
// provider entry.
type remoteServiceKey struct {
	serviceInstanceKey
	reliable bool
}

// clientEndpointKey identifies one dial-side client endpoint: at most one
// exists per (remote address, remote port, reliable?, owning client)
// (spec.md §3 invariant).
type clientEndpointKey struct {
	addr     string
	port     uint16
	reliable bool
	client   someip.ClientID
}

// requestKey identifies one (client, service, instance) demand entry in
// the request table.
type requestKey struct {
	client someip.ClientID
	serviceInstanceKey
}

// versionKey is a (major, minor) pair, the value stored per requestKey
// (a client may request the same service/instance at more than one
// version).
type versionKey struct {
	major someip.MajorVersion
	minor someip.MinorVersion
}

// subscriberKey identifies the routing manager's targeted-notification
// index: (service, instance, client, target).
type subscriberKey struct {
	serviceInstanceKey
	client someip.ClientID
	target someip.EndpointDefinition
}
