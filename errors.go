// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package someip

import "errors"

// Sentinel errors, following the teacher's core_socket.go convention of
// package-level Err* values combined with fmt.Errorf %w wrapping at the
// call site.
var (
	// ErrAlreadyOffered is returned by OfferService when the same
	// (service, instance) is re-offered with a different (major, minor)
	// than the existing offer (spec.md §4.5).
	ErrAlreadyOffered = errors.New("someip: service already offered with different version")

	// ErrNotOffered is returned when stopping an offer for a
	// (service, instance) that has no local provider.
	ErrNotOffered = errors.New("someip: service not offered locally")

	// ErrUnknownService is returned by Send when neither a local nor a
	// known remote provider exists. CheckError reports the same condition
	// as the EUnknownService return code instead.
	ErrUnknownService = errors.New("someip: unknown service")

	// ErrNoEndpoint is returned when a provider exists but the transport
	// it needs (reliable or unreliable) has no endpoint registered.
	ErrNoEndpoint = errors.New("someip: no endpoint configured for service")

	// ErrInvalidAddress marks an unparsable address. The endpoint
	// constructors take already-parsed netip values and do not return it.
	ErrInvalidAddress = errors.New("someip: invalid address")

	// ErrClosed is returned by operations attempted on a torn-down
	// endpoint, application, or manager.
	ErrClosed = errors.New("someip: endpoint closed")

	// ErrAlreadyRunning is returned by a second App.Start. A second
	// App.Stop returns nil; no function in this module returns
	// ErrNotRunning.
	ErrAlreadyRunning = errors.New("someip: already running")
	ErrNotRunning     = errors.New("someip: not running")

	// ErrMalformedMessage marks a datagram whose length field does not
	// describe a valid SOME/IP message.
	ErrMalformedMessage = errors.New("someip: malformed message")

	// ErrNotReachable is returned by Send when the destination is a local
	// provider whose owning application is not currently registered.
	ErrNotReachable = errors.New("someip: local client not reachable")
)
