// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routing

import "github.com/destiny/someip"

// Discovery is the narrow set of outbound calls the routing manager
// makes into the SOME/IP-SD state machine, which spec.md §1 explicitly
// keeps external ("only the callbacks it exchanges with the router are
// specified"). A no-op implementation is a legal Discovery for tests and
// single-host deployments that never need to reach a remote peer.
type Discovery interface {
	// AnnounceOffer includes (service, instance) in SD's next Offer
	// cycle after a local OfferService call.
	AnnounceOffer(service someip.ServiceID, instance someip.InstanceID, info ServiceInfo)
	// WithdrawOffer stops announcing (service, instance) after a local
	// StopOfferService call.
	WithdrawOffer(service someip.ServiceID, instance someip.InstanceID)
	// FindService asks SD to locate a remote provider after a local
	// RequestService call finds no local one.
	FindService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion)
	// SubscribeEventGroup asks SD to subscribe target to a remote
	// provider's eventgroup after a local Subscribe call finds no local
	// provider.
	SubscribeEventGroup(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, target someip.EndpointDefinition, ttl someip.TTL)
	// UnsubscribeEventGroup reverses SubscribeEventGroup.
	UnsubscribeEventGroup(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, target someip.EndpointDefinition)
}

// NoopDiscovery implements Discovery by doing nothing; the default for a
// Manager that never wires a real SD state machine (single-host use, or
// tests that drive OnRemoteOfferService/OnRemoteStopOfferService directly).
type NoopDiscovery struct{}

func (NoopDiscovery) AnnounceOffer(someip.ServiceID, someip.InstanceID, ServiceInfo)      {}
func (NoopDiscovery) WithdrawOffer(someip.ServiceID, someip.InstanceID)                   {}
func (NoopDiscovery) FindService(someip.ServiceID, someip.InstanceID, someip.MajorVersion, someip.MinorVersion) {
}
func (NoopDiscovery) SubscribeEventGroup(someip.ServiceID, someip.InstanceID, someip.EventGroupID, someip.EndpointDefinition, someip.TTL) {
}
func (NoopDiscovery) UnsubscribeEventGroup(someip.ServiceID, someip.InstanceID, someip.EventGroupID, someip.EndpointDefinition) {
}

var _ Discovery = NoopDiscovery{}

// LocalHost is the capability the application runtime exposes to the
// routing manager for delivering a message to a specific local client's
// mailbox -- the "shared memory / local endpoint path" spec.md §4.5's
// send contract describes -- and for the manager to ask whether a client
// is currently registered. Grounded on spec.md §9's "capability set the
// router consumes" design note: this is the router's view of
// {EndpointHost, StubHost}; the application runtime implements it.
type LocalHost interface {
	// DeliverLocal hands msg to client's mailbox. instance is the
	// (service, instance) the manager resolved msg against, since the
	// wire message itself only carries the service id; sender is the
	// remote peer's address, for a local host that itself proxies to a
	// socket.
	DeliverLocal(client someip.ClientID, msg *someip.Message, instance someip.InstanceID, sender someip.EndpointDefinition)
	IsRegistered(client someip.ClientID) bool
}
