// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routing

import (
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/destiny/someip"
	"github.com/destiny/someip/endpoint"
	"github.com/destiny/someip/registry"
)

// Manager is the routing manager (spec.md §4.5): it owns the server and
// client endpoint tables, the service offer/request tables, and the
// subscription tables, and forwards messages between local applications
// and remote peers. Grounded on
// original_source/implementation/routing/include/routing_manager_impl.hpp
// for the table shapes and method surface, and on the teacher's
// majordomo.Broker for the idiomatic Go shape of mutex-guarded tables plus
// getOrCreate helpers.
type Manager struct {
	boot      someip.Bootstrap
	reg       *registry.Registry
	tables    *tables
	discovery Discovery
	local     LocalHost
	log       *someip.Logger
}

// Option configures a Manager, following the teacher's functional-options
// convention (core_options.go's Option func(*socket)).
type Option func(*Manager)

// WithDiscovery installs the SD collaborator the manager drives. The
// default is NoopDiscovery.
func WithDiscovery(d Discovery) Option {
	return func(m *Manager) { m.discovery = d }
}

// WithLogger sets the manager's logger.
func WithLogger(l *someip.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager backed by boot for static configuration
// and local for delivering messages to this process's applications.
func NewManager(boot someip.Bootstrap, local LocalHost, opts ...Option) *Manager {
	m := &Manager{
		boot:      boot,
		reg:       registry.New(),
		tables:    newTables(),
		discovery: NoopDiscovery{},
		local:     local,
		log:       someip.DefaultLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the manager's event/eventgroup registry, e.g. for a
// provider application to call SetField directly.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// OfferService registers client as the local provider of (service,
// instance) (spec.md §4.5's offer_service(client, ...)). Idempotent for
// identical (major, minor); fails with ErrAlreadyOffered on mismatch.
// Allocates the service's configured server endpoints if they do not yet
// exist, then triggers SD to include the service in its next Offer cycle.
// client is recorded so Send can deliver straight to this provider's
// mailbox when both sender and provider are local.
func (m *Manager) OfferService(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	key := serviceInstanceKey{service, instance}

	m.tables.localServicesMu.Lock()
	if existing, ok := m.tables.localServices[key]; ok {
		m.tables.localServicesMu.Unlock()
		if existing.Major == major && existing.Minor == minor {
			return nil
		}
		return someip.ErrAlreadyOffered
	}

	info := &ServiceInfo{Major: major, Minor: minor, TTL: someip.TTLInfinite, Local: true, LocalClient: client}
	if cfg, ok := m.boot.ServiceConfig(service, instance); ok {
		if cfg.Unreliable {
			def, err := m.ensureServerEndpoint(cfg.UnreliablePort, false)
			if err != nil {
				m.tables.localServicesMu.Unlock()
				return fmt.Errorf("someip/routing: offer %s/%s: %w", service, instance, err)
			}
			info.Unreliable, info.HasUnreliable = def, true
		}
		if cfg.Reliable {
			def, err := m.ensureServerEndpoint(cfg.ReliablePort, true)
			if err != nil {
				m.tables.localServicesMu.Unlock()
				return fmt.Errorf("someip/routing: offer %s/%s: %w", service, instance, err)
			}
			info.Reliable, info.HasReliable = def, true
		}
	}
	m.tables.localServices[key] = info
	m.tables.localServicesMu.Unlock()

	if info.HasUnreliable {
		m.tables.recordServiceInstance(service, info.Unreliable, instance)
	}
	if info.HasReliable {
		m.tables.recordServiceInstance(service, info.Reliable, instance)
	}

	m.discovery.AnnounceOffer(service, instance, *info)
	return nil
}

// StopOfferService removes a local provider, tears down server endpoints
// that no longer back any offered service, and notifies SD to withdraw.
func (m *Manager) StopOfferService(service someip.ServiceID, instance someip.InstanceID) error {
	key := serviceInstanceKey{service, instance}

	m.tables.localServicesMu.Lock()
	info, ok := m.tables.localServices[key]
	if !ok {
		m.tables.localServicesMu.Unlock()
		return someip.ErrNotOffered
	}
	delete(m.tables.localServices, key)
	stillNeeded := make(map[portKey]bool)
	for _, other := range m.tables.localServices {
		if other.HasUnreliable {
			stillNeeded[portKey{other.Unreliable.Port, false}] = true
		}
		if other.HasReliable {
			stillNeeded[portKey{other.Reliable.Port, true}] = true
		}
	}
	m.tables.localServicesMu.Unlock()

	if info.HasUnreliable && !stillNeeded[portKey{info.Unreliable.Port, false}] {
		m.closeServerEndpoint(info.Unreliable.Port, false)
	}
	if info.HasReliable && !stillNeeded[portKey{info.Reliable.Port, true}] {
		m.closeServerEndpoint(info.Reliable.Port, true)
	}

	m.reg.RemoveInstance(service, instance)
	m.discovery.WithdrawOffer(service, instance)
	return nil
}

// RequestService records a consumer's demand for a service instance
// (spec.md §4.5). If no local provider is offered, SD is asked to find a
// remote one. If useExclusiveProxy is set, this client wants to learn
// which concrete endpoint answers on the remote's behalf rather than
// use the shared client endpoint any caller may reuse: RequestService
// then clears any endpoint previously identified for client. No handler
// is registered; routeResponse records the endpoint every response to
// method IdentifyMethodID arrives from in identifiedClients, queryable
// through IdentifiedEndpoint (spec.md §4.5's on_identify_response).
func (m *Manager) RequestService(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion, useExclusiveProxy bool) {
	rk := requestKey{client, serviceInstanceKey{service, instance}}
	vk := versionKey{major, minor}

	m.tables.requestedServicesMu.Lock()
	versions, ok := m.tables.requestedServices[rk]
	if !ok {
		versions = make(map[versionKey]struct{})
		m.tables.requestedServices[rk] = versions
	}
	versions[vk] = struct{}{}
	m.tables.requestedServicesMu.Unlock()

	if useExclusiveProxy {
		m.tables.identifiedClientsMu.Lock()
		delete(m.tables.identifiedClients, client)
		m.tables.identifiedClientsMu.Unlock()
	}

	m.tables.localServicesMu.RLock()
	_, local := m.tables.localServices[serviceInstanceKey{service, instance}]
	m.tables.localServicesMu.RUnlock()
	if !local {
		m.discovery.FindService(service, instance, major, minor)
	}
}

// IdentifiedEndpoint returns the endpoint the last identify response for
// client arrived from, and whether one has arrived yet. Only meaningful
// after RequestService was called with useExclusiveProxy set.
func (m *Manager) IdentifiedEndpoint(client someip.ClientID) (someip.EndpointDefinition, bool) {
	m.tables.identifiedClientsMu.Lock()
	defer m.tables.identifiedClientsMu.Unlock()
	def, ok := m.tables.identifiedClients[client]
	return def, ok
}

// Subscribe records a client's interest in an eventgroup (spec.md §4.5).
// target is the address notifications should be delivered to and ttl
// bounds how long the subscription is valid; spec.md's operation summary
// elides these as implicit context, but a working implementation needs
// them explicitly. If the
// provider is local, the client is added to the eventgroup's subscriber
// list directly and any already-set field payloads are replayed once. If
// the provider is remote, SD is asked to perform the subscription.
func (m *Manager) Subscribe(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, major someip.MajorVersion, target someip.EndpointDefinition, ttl someip.TTL) []registry.ReplayNotification {
	m.tables.localServicesMu.RLock()
	_, local := m.tables.localServices[serviceInstanceKey{service, instance}]
	m.tables.localServicesMu.RUnlock()

	if !local {
		m.discovery.SubscribeEventGroup(service, instance, eventgroup, target, ttl)
		return nil
	}

	group := m.reg.AddEventGroup(service, instance, eventgroup, major, ttl)
	expiration := time.Now().Add(ttlDuration(ttl))
	group.AddTarget(registry.Target{Endpoint: target, Expiration: expiration})

	m.tables.remoteSubscribersMu.Lock()
	m.tables.remoteSubscribers[subscriberKey{serviceInstanceKey{service, instance}, client, target}] = struct{}{}
	m.tables.remoteSubscribersMu.Unlock()

	return m.reg.ReplayFieldsFor(service, instance, eventgroup, target)
}

// Unsubscribe reverses Subscribe.
func (m *Manager) Unsubscribe(client someip.ClientID, service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, target someip.EndpointDefinition) {
	m.tables.localServicesMu.RLock()
	_, local := m.tables.localServices[serviceInstanceKey{service, instance}]
	m.tables.localServicesMu.RUnlock()

	if !local {
		m.discovery.UnsubscribeEventGroup(service, instance, eventgroup, target)
		return
	}
	if group := m.reg.FindEventGroup(service, instance, eventgroup); group != nil {
		group.RemoveTarget(target)
	}
	m.tables.remoteSubscribersMu.Lock()
	delete(m.tables.remoteSubscribers, subscriberKey{serviceInstanceKey{service, instance}, client, target})
	m.tables.remoteSubscribersMu.Unlock()
}

func ttlDuration(ttl someip.TTL) time.Duration {
	if ttl == someip.TTLInfinite {
		return 100 * 365 * 24 * time.Hour
	}
	return time.Duration(ttl) * time.Second
}

// Send routes one outbound message to the provider of instance (spec.md
// §4.5's send()). If the provider is local, the message is handed
// straight to its mailbox through LocalHost.DeliverLocal -- no endpoint,
// no wire encoding -- following send()'s first branch, "if the target is
// this process, deliver through the local endpoint path". Otherwise Send
// dials or reuses a ClientEndpoint and forwards the wire-encoded message
// to the remote provider. The caller stamps the session id: the router
// never renumbers.
func (m *Manager) Send(client someip.ClientID, msg *someip.Message, instance someip.InstanceID, flush bool, reliable bool) error {
	m.tables.localServicesMu.RLock()
	localInfo, isLocal := m.tables.localServices[serviceInstanceKey{msg.ServiceID, instance}]
	m.tables.localServicesMu.RUnlock()
	if isLocal {
		if !m.local.IsRegistered(localInfo.LocalClient) {
			return someip.ErrNotReachable
		}
		m.local.DeliverLocal(localInfo.LocalClient, msg, instance, someip.EndpointDefinition{})
		return nil
	}

	key := remoteServiceKey{serviceInstanceKey{msg.ServiceID, instance}, reliable}
	m.tables.remoteServiceInfoMu.RLock()
	info, ok := m.tables.remoteServiceInfo[key]
	m.tables.remoteServiceInfoMu.RUnlock()
	if !ok {
		return someip.ErrUnknownService
	}
	var target someip.EndpointDefinition
	if reliable {
		if !info.HasReliable {
			return someip.ErrNoEndpoint
		}
		target = info.Reliable
	} else {
		if !info.HasUnreliable {
			return someip.ErrNoEndpoint
		}
		target = info.Unreliable
	}

	ep, err := m.findOrCreateRemoteClient(client, target)
	if err != nil {
		return err
	}
	return ep.SendTo(target, msg.Encode(), flush)
}

// Notify pushes an updated event value to every subscriber of every
// eventgroup event belongs to (spec.md §4.6 supplement, grounded on
// routing_manager_impl.hpp's notify). If event is a field, its cached
// value is updated first so a client subscribing afterwards replays the
// new payload rather than the old one. Unlike Send, there is no local
// caller to attribute the push to, so the message is stamped with
// RoutingManagerClientID. reliable mirrors Send's signature for callers
// that pick a transport up front; delivery itself always follows each
// subscriber's own recorded target, which already carries its transport.
func (m *Manager) Notify(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, payload []byte, reliable bool) {
	if info := m.reg.FindEvent(service, instance, event); info != nil && info.IsField {
		m.reg.SetField(service, instance, event, payload)
	}
	msg := m.buildNotification(service, event, payload)
	m.deliverNotificationToSubscribers(msg, instance)
}

// NotifyOne pushes an updated event value to exactly one target, without
// touching any other subscriber (spec.md §4.6 supplement, grounded on
// routing_manager_impl.hpp's notify_one). Used for an on-demand re-send to
// a single client; Subscribe already performs the equivalent replay for a
// client's initial subscription via registry.ReplayFieldsFor. reliable is
// unused: target.Reliable already says which transport to send over.
func (m *Manager) NotifyOne(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, target someip.EndpointDefinition, payload []byte, reliable bool) error {
	if info := m.reg.FindEvent(service, instance, event); info != nil && info.IsField {
		m.reg.SetField(service, instance, event, payload)
	}
	msg := m.buildNotification(service, event, payload)
	ep, err := m.findOrCreateRemoteClient(someip.RoutingManagerClientID, target)
	if err != nil {
		return err
	}
	return ep.SendTo(target, msg.Encode(), true)
}

// buildNotification assembles the wire message Notify and NotifyOne fan
// out unmodified. The remote-notification and multicast delivery paths
// do not use it; they forward the message as received.
func (m *Manager) buildNotification(service someip.ServiceID, event someip.EventID, payload []byte) *someip.Message {
	return &someip.Message{
		ServiceID:    service,
		MethodID:     someip.MethodID(event),
		ClientID:     someip.RoutingManagerClientID,
		ProtocolVer:  someip.ProtocolVersion,
		MessageType:  someip.MsgTypeNotification,
		ReturnCode:   someip.EOk,
		Payload:      payload,
	}
}

// findOrCreateRemoteClient returns the client endpoint this process uses
// to reach target on behalf of client, dialing one if none exists yet
// (spec.md §4.5's find_or_create_remote_client, referenced from §4.4). At
// most one client endpoint exists per (remote address, remote port,
// reliable?, owning client) (spec.md §3 invariant).
func (m *Manager) findOrCreateRemoteClient(client someip.ClientID, target someip.EndpointDefinition) (*endpoint.ClientEndpoint, error) {
	key := clientEndpointKey{target.Address.String(), target.Port, target.Reliable, client}

	m.tables.clientEndpointsByIPMu.RLock()
	existing, ok := m.tables.clientEndpointsByIP[key]
	m.tables.clientEndpointsByIPMu.RUnlock()
	if ok {
		return existing, nil
	}

	m.tables.clientEndpointsByIPMu.Lock()
	defer m.tables.clientEndpointsByIPMu.Unlock()
	if existing, ok := m.tables.clientEndpointsByIP[key]; ok {
		return existing, nil
	}
	ep, err := endpoint.NewClientEndpoint(target, m, endpoint.WithClientLogger(m.log))
	if err != nil {
		return nil, fmt.Errorf("someip/routing: dial %s: %w", target, err)
	}
	m.tables.clientEndpointsByIP[key] = ep
	return ep, nil
}

// OnMessage implements endpoint.Host: it is invoked by every server
// endpoint (and client endpoint) this manager owns for each fully framed
// message received (spec.md §4.5's on_message). remote is the sender's
// address, used to route a REQUEST's response back without a separate
// lookup; destination distinguishes a multicast delivery from a unicast
// one.
func (m *Manager) OnMessage(data []byte, size int, receiver endpoint.Endpoint, remote netip.AddrPort, destination netip.Addr) {
	msg, err := someip.Decode(data[:size])
	if err != nil {
		m.log.Error("someip/routing: dropping malformed message: %v", err)
		return
	}

	if m.deliverMulticastNotification(msg, receiver, destination) {
		return
	}

	switch {
	case msg.MessageType == someip.MsgTypeRequest || msg.MessageType == someip.MsgTypeRequestNoReturn:
		m.routeRequest(msg, receiver, remote)
	case msg.MessageType == someip.MsgTypeResponse || msg.MessageType == someip.MsgTypeError:
		m.routeResponse(msg, receiver, remote)
	case msg.MessageType == someip.MsgTypeNotification:
		m.routeRemoteNotification(msg, receiver)
	}
}

// OnError implements endpoint.Host: reports a datagram that could not be
// framed into any message at all.
func (m *Manager) OnError(data []byte, size int, receiver endpoint.Endpoint) {
	m.log.Warn("someip/routing: endpoint :%d: unframeable %d bytes", receiver.LocalPort(), size)
}

// deliverMulticastNotification implements spec.md §4.5's first on_message
// branch: a notification addressed to a joined multicast group is fanned
// out to every subscriber of the matching eventgroup rather than routed
// as a point-to-point message.
func (m *Manager) deliverMulticastNotification(msg *someip.Message, receiver endpoint.Endpoint, destination netip.Addr) bool {
	if msg.MessageType != someip.MsgTypeNotification || !destination.IsMulticast() {
		return false
	}
	instance, ok := m.tables.findInstance(msg.ServiceID, receiver.LocalPort(), receiver.Reliable())
	if !ok {
		return true
	}
	m.reg.SetField(msg.ServiceID, instance, someip.EventID(msg.MethodID), msg.Payload)
	m.deliverNotificationToSubscribers(msg, instance)
	return true
}

// routeRequest resolves the local provider addressed by msg and, if the
// providing application is registered, hands the message to LocalHost
// for dispatch to that provider. Any failure is reported back to the sender as a SOME/IP
// ERROR through the same endpoint that delivered the request.
func (m *Manager) routeRequest(msg *someip.Message, receiver endpoint.Endpoint, remote netip.AddrPort) {
	instance, ok := m.tables.findInstance(msg.ServiceID, receiver.LocalPort(), receiver.Reliable())
	if !ok {
		m.sendErrorTo(someip.EUnknownService, msg, receiver, remote)
		return
	}
	if code := m.CheckError(msg, instance); code != someip.EOk {
		m.sendErrorTo(code, msg, receiver, remote)
		return
	}
	m.tables.localServicesMu.RLock()
	provider := m.tables.localServices[serviceInstanceKey{msg.ServiceID, instance}]
	m.tables.localServicesMu.RUnlock()
	if provider == nil || !m.local.IsRegistered(provider.LocalClient) {
		m.sendErrorTo(someip.ENotReachable, msg, receiver, remote)
		return
	}
	senderDef := someip.NewEndpointDefinition(remote.Addr(), remote.Port(), receiver.Reliable())
	m.local.DeliverLocal(provider.LocalClient, msg, instance, senderDef)
}

// routeResponse forwards a RESPONSE or ERROR arriving from a remote
// provider to the local client that issued the original request. A
// response to the well-known identify method is plumbing, not
// application traffic: it is captured into identifiedClients and never
// reaches LocalHost.
func (m *Manager) routeResponse(msg *someip.Message, receiver endpoint.Endpoint, remote netip.AddrPort) {
	senderDef := someip.NewEndpointDefinition(remote.Addr(), remote.Port(), receiver.Reliable())
	if msg.MethodID == someip.IdentifyMethodID() {
		m.tables.identifiedClientsMu.Lock()
		m.tables.identifiedClients[msg.ClientID] = senderDef
		m.tables.identifiedClientsMu.Unlock()
		return
	}
	if !m.local.IsRegistered(msg.ClientID) {
		m.log.Warn("someip/routing: response for unregistered client %s dropped", msg.ClientID)
		return
	}
	// A response/error carries no local (service, instance) to resolve --
	// it was addressed by the client's own bookkeeping, not the routing
	// manager's server-endpoint tables -- so instance is reported as the
	// wildcard.
	m.local.DeliverLocal(msg.ClientID, msg, someip.AnyInstance, senderDef)
}

// routeRemoteNotification caches a remote-published field's latest value
// (a no-op if the event is not a field) and fans it out to this
// process's own subscribers of the eventgroup(s) it belongs to.
func (m *Manager) routeRemoteNotification(msg *someip.Message, receiver endpoint.Endpoint) {
	instance, ok := m.tables.findInstance(msg.ServiceID, receiver.LocalPort(), receiver.Reliable())
	if !ok {
		return
	}
	m.reg.SetField(msg.ServiceID, instance, someip.EventID(msg.MethodID), msg.Payload)
	m.deliverNotificationToSubscribers(msg, instance)
}

// deliverNotificationToSubscribers fans a published event out to every
// subscriber of every eventgroup it belongs to. A field with a large
// subscriber fan-out (many remote clients on many distinct connections)
// benefits from sending concurrently rather than one target at a time;
// an errgroup.Group bounds this to "wait for the round to finish, keep
// going even if some sends fail", the same shape the corpus uses to fan
// concurrent probes out and collect their errors (see e.g. tailscale's
// netcheck probing).
func (m *Manager) deliverNotificationToSubscribers(msg *someip.Message, instance someip.InstanceID) {
	event := m.reg.FindEvent(msg.ServiceID, instance, someip.EventID(msg.MethodID))
	if event == nil {
		return
	}
	var g errgroup.Group
	for eg := range event.EventGroups {
		group := m.reg.FindEventGroup(msg.ServiceID, instance, eg)
		if group == nil {
			continue
		}
		for _, target := range group.Targets() {
			target := target
			g.Go(func() error {
				ep, err := m.findOrCreateRemoteClient(msg.ClientID, target.Endpoint)
				if err != nil {
					m.log.Warn("someip/routing: notify %s: %v", target.Endpoint, err)
					return nil
				}
				if err := ep.SendTo(target.Endpoint, msg.Encode(), true); err != nil {
					m.log.Warn("someip/routing: notify %s: %v", target.Endpoint, err)
				}
				return nil
			})
		}
	}
	g.Wait()
}

// CheckError validates protocol-version, interface-version, and provider
// existence for msg received on behalf of instance (spec.md §4.5).
func (m *Manager) CheckError(msg *someip.Message, instance someip.InstanceID) someip.ReturnCode {
	if msg.ProtocolVer != someip.ProtocolVersion {
		return someip.EWrongProtocolVersion
	}
	m.tables.localServicesMu.RLock()
	info, ok := m.tables.localServices[serviceInstanceKey{msg.ServiceID, instance}]
	m.tables.localServicesMu.RUnlock()
	if !ok {
		return someip.EUnknownService
	}
	if info.Major != someip.MajorVersion(msg.InterfaceVer) {
		return someip.EWrongInterfaceVersion
	}
	return someip.EOk
}

// SendError builds a SOME/IP ERROR response for msg, stamped with code,
// and routes it to target the way Send routes any other outbound message
// (spec.md §4.5's send_error). Used by application-level handlers that
// need to report an error discovered after CheckError already passed.
func (m *Manager) SendError(code someip.ReturnCode, msg *someip.Message, target someip.EndpointDefinition) error {
	resp := someip.NewErrorResponse(msg, code)
	ep, err := m.findOrCreateRemoteClient(msg.ClientID, target)
	if err != nil {
		return err
	}
	return ep.SendTo(target, resp.Encode(), true)
}

// sendErrorTo replies through receiver directly, for the case where the
// error is discovered while still inside OnMessage and the reply target
// is simply "back where this came from".
func (m *Manager) sendErrorTo(code someip.ReturnCode, msg *someip.Message, receiver endpoint.Endpoint, remote netip.AddrPort) {
	if msg.MessageType == someip.MsgTypeRequestNoReturn {
		return
	}
	resp := someip.NewErrorResponse(msg, code)
	target := someip.NewEndpointDefinition(remote.Addr(), remote.Port(), receiver.Reliable())
	if err := receiver.SendTo(target, resp.Encode(), true); err != nil {
		m.log.Warn("someip/routing: send error response to %s: %v", target, err)
	}
}

// UpdateRoutingInfo ages every SD-derived remote entry by elapsed,
// deletes those whose ttl has been exhausted, and returns the smallest
// remaining ttl across all live entries (spec.md §4.5).
func (m *Manager) UpdateRoutingInfo(elapsed time.Duration) someip.TTL {
	m.tables.remoteServiceInfoMu.Lock()
	defer m.tables.remoteServiceInfoMu.Unlock()

	smallest := someip.TTLInfinite
	for key, info := range m.tables.remoteServiceInfo {
		if info.ageTTL(elapsed) {
			delete(m.tables.remoteServiceInfo, key)
			continue
		}
		if info.TTL != someip.TTLInfinite && info.remaining < smallest {
			smallest = info.remaining
		}
	}
	return smallest
}

// ExpireSubscriptions delegates to the registry (spec.md §4.5).
func (m *Manager) ExpireSubscriptions() time.Time {
	return m.reg.ExpireSubscriptions(time.Now())
}

// OnRemoteOfferService records a remote provider discovered by SD. It is
// the inbound counterpart of OfferService, called by the Discovery
// collaborator rather than by a local application.
func (m *Manager) OnRemoteOfferService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion, ttl someip.TTL, reliable, unreliable someip.EndpointDefinition, hasReliable, hasUnreliable bool) {
	info := &ServiceInfo{
		Major: major, Minor: minor, TTL: ttl,
		Reliable: reliable, HasReliable: hasReliable,
		Unreliable: unreliable, HasUnreliable: hasUnreliable,
	}
	info.remaining = ttl

	if hasReliable {
		m.storeRemoteServiceInfo(service, instance, true, info)
	}
	if hasUnreliable {
		m.storeRemoteServiceInfo(service, instance, false, info)
	}
}

func (m *Manager) storeRemoteServiceInfo(service someip.ServiceID, instance someip.InstanceID, reliable bool, info *ServiceInfo) {
	key := remoteServiceKey{serviceInstanceKey{service, instance}, reliable}
	m.tables.remoteServiceInfoMu.Lock()
	defer m.tables.remoteServiceInfoMu.Unlock()
	m.tables.remoteServiceInfo[key] = info
}

// OnRemoteStopOfferService removes a remote provider's entries, e.g. on
// SD ttl expiration or explicit stop-offer.
func (m *Manager) OnRemoteStopOfferService(service someip.ServiceID, instance someip.InstanceID) {
	m.tables.remoteServiceInfoMu.Lock()
	delete(m.tables.remoteServiceInfo, remoteServiceKey{serviceInstanceKey{service, instance}, true})
	delete(m.tables.remoteServiceInfo, remoteServiceKey{serviceInstanceKey{service, instance}, false})
	m.tables.remoteServiceInfoMu.Unlock()
}

func (m *Manager) ensureServerEndpoint(port uint16, reliable bool) (someip.EndpointDefinition, error) {
	key := portKey{port, reliable}

	m.tables.serverEndpointsMu.Lock()
	defer m.tables.serverEndpointsMu.Unlock()
	if ep, ok := m.tables.serverEndpoints[key]; ok {
		return someip.NewEndpointDefinition(netip.IPv4Unspecified(), ep.LocalPort(), reliable), nil
	}

	addr := netip.AddrPortFrom(netip.IPv4Unspecified(), port)
	var ep endpoint.Endpoint
	if reliable {
		srv, err := endpoint.NewTCPServerEndpoint(addr, m, endpoint.WithTCPLogger(m.log))
		if err != nil {
			return someip.EndpointDefinition{}, err
		}
		srv.Start()
		ep = srv
	} else {
		srv, err := endpoint.NewUDPServerEndpoint(addr, m, endpoint.WithUDPLogger(m.log))
		if err != nil {
			return someip.EndpointDefinition{}, err
		}
		srv.Start()
		ep = srv
	}
	m.tables.serverEndpoints[portKey{ep.LocalPort(), reliable}] = ep
	return someip.NewEndpointDefinition(netip.IPv4Unspecified(), ep.LocalPort(), reliable), nil
}

func (m *Manager) closeServerEndpoint(port uint16, reliable bool) {
	key := portKey{port, reliable}
	m.tables.serverEndpointsMu.Lock()
	ep, ok := m.tables.serverEndpoints[key]
	if ok {
		delete(m.tables.serverEndpoints, key)
	}
	m.tables.serverEndpointsMu.Unlock()
	if ok {
		ep.Close()
	}
}

var _ endpoint.Host = (*Manager)(nil)
