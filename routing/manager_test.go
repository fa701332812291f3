// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routing

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/someip"
	"github.com/destiny/someip/endpoint"
	"github.com/destiny/someip/internal/testutil"
	"github.com/destiny/someip/registry"
)

// fakeLocalHost is a LocalHost double that records every delivery and
// treats every client as registered unless told otherwise.
type fakeLocalHost struct {
	registered map[someip.ClientID]bool
	delivered  []*someip.Message
}

func newFakeLocalHost() *fakeLocalHost {
	return &fakeLocalHost{registered: make(map[someip.ClientID]bool)}
}

func (h *fakeLocalHost) DeliverLocal(client someip.ClientID, msg *someip.Message, instance someip.InstanceID, sender someip.EndpointDefinition) {
	h.delivered = append(h.delivered, msg)
}

func (h *fakeLocalHost) IsRegistered(client someip.ClientID) bool {
	if reg, ok := h.registered[client]; ok {
		return reg
	}
	return true
}

func newTestBootstrap() *someip.StaticConfig {
	return someip.NewStaticConfig("test-app", "routing-manager", 4, 100*time.Millisecond)
}


func TestOfferServiceIsIdempotentForIdenticalVersion(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))
	assert.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))
}

func TestOfferServiceRejectsVersionMismatch(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))
	err := m.OfferService(0x0001, 0x1234, 0x0001, 2, 0)
	assert.ErrorIs(t, err, someip.ErrAlreadyOffered)
}

func TestStopOfferServiceOnUnknownInstanceReturnsErrNotOffered(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	err := m.StopOfferService(0x1234, 0x0001)
	assert.ErrorIs(t, err, someip.ErrNotOffered)
}

func TestOfferServiceAllocatesConfiguredEndpointsAndSingleServerEndpointPerPort(t *testing.T) {
	boot := newTestBootstrap()
	boot.AddService(someip.ServiceConfig{
		Service: 0x1234, Instance: 0x0001, Major: 1,
		Unreliable: true, UnreliablePort: 0,
	})
	host := newFakeLocalHost()
	m := NewManager(boot, host)

	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))

	m.tables.localServicesMu.RLock()
	info := m.tables.localServices[serviceInstanceKey{0x1234, 0x0001}]
	m.tables.localServicesMu.RUnlock()
	require.NotNil(t, info)
	assert.True(t, info.HasUnreliable)
	assert.NotZero(t, info.Unreliable.Port)

	// spec.md invariant: at most one server endpoint per (port, reliable?).
	m.tables.serverEndpointsMu.RLock()
	count := len(m.tables.serverEndpoints)
	m.tables.serverEndpointsMu.RUnlock()
	assert.Equal(t, 1, count)

	m.StopOfferService(0x1234, 0x0001)
}

func TestSubscribeToLocalProviderReplaysFieldsAndRegistersSubscriber(t *testing.T) {
	boot := newTestBootstrap()
	host := newFakeLocalHost()
	m := NewManager(boot, host)

	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))

	info := m.Registry().AddEvent(0x1234, 0x0001, 0x8001, true, true)
	info.AddEventGroup(0x0005)
	m.Registry().SetField(0x1234, 0x0001, 0x8001, []byte{0x42})

	target := someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.9"), 30509, false)
	replays := m.Subscribe(0x0002, 0x1234, 0x0001, 0x0005, 1, target, 3600)

	require.Len(t, replays, 1)
	assert.True(t, replays[0].Initial)
	assert.Equal(t, []byte{0x42}, replays[0].Message.Payload)

	group := m.Registry().FindEventGroup(0x1234, 0x0001, 0x0005)
	require.NotNil(t, group)
	require.Len(t, group.Targets(), 1)
	assert.True(t, group.Targets()[0].Endpoint.Equal(target))
}

func TestSubscribeToRemoteProviderDelegatesToDiscovery(t *testing.T) {
	boot := newTestBootstrap()
	disc := &recordingDiscovery{}
	m := NewManager(boot, newFakeLocalHost(), WithDiscovery(disc))

	target := someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.9"), 30509, false)
	replays := m.Subscribe(0x0002, 0x1234, 0x0001, 0x0005, 1, target, 3600)

	assert.Nil(t, replays)
	assert.Equal(t, 1, disc.subscribeCalls)
}

// recordingDiscovery counts calls made by the manager, standing in for a
// real SD state machine.
type recordingDiscovery struct {
	NoopDiscovery
	findCalls      int
	subscribeCalls int
}

func (d *recordingDiscovery) FindService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) {
	d.findCalls++
}

func (d *recordingDiscovery) SubscribeEventGroup(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, target someip.EndpointDefinition, ttl someip.TTL) {
	d.subscribeCalls++
}

func TestRequestServiceWithNoLocalProviderAsksDiscoveryToFindOne(t *testing.T) {
	boot := newTestBootstrap()
	disc := &recordingDiscovery{}
	m := NewManager(boot, newFakeLocalHost(), WithDiscovery(disc))

	m.RequestService(0x0002, 0x1234, 0x0001, 1, 0, false)
	assert.Equal(t, 1, disc.findCalls)
}

func TestRequestServiceWithLocalProviderDoesNotAskDiscovery(t *testing.T) {
	boot := newTestBootstrap()
	disc := &recordingDiscovery{}
	m := NewManager(boot, newFakeLocalHost(), WithDiscovery(disc))

	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))
	m.RequestService(0x0002, 0x1234, 0x0001, 1, 0, false)
	assert.Equal(t, 0, disc.findCalls)
}

// TestRoutingManagerDeliversRequestToLocalHost sends a request over a
// real UDP socket to a local service's server endpoint and checks that
// it is delivered to LocalHost with its method id intact. The reply leg
// back to the caller is not exercised here.
func TestRoutingManagerDeliversRequestToLocalHost(t *testing.T) {
	boot := newTestBootstrap()
	boot.AddService(someip.ServiceConfig{
		Service: 0x1234, Instance: 0x0001, Major: 1,
		Unreliable: true, UnreliablePort: 0,
	})
	host := newFakeLocalHost()
	m := NewManager(boot, host)
	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))

	m.tables.localServicesMu.RLock()
	info := m.tables.localServices[serviceInstanceKey{0x1234, 0x0001}]
	m.tables.localServicesMu.RUnlock()
	port := info.Unreliable.Port

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(port)})
	require.NoError(t, err)
	defer conn.Close()

	req := &someip.Message{
		ServiceID: 0x1234, MethodID: 0x0421, ClientID: 0x0002, SessionID: 1,
		ProtocolVer: someip.ProtocolVersion, InterfaceVer: 1,
		MessageType: someip.MsgTypeRequest, ReturnCode: someip.EOk,
	}
	_, err = conn.Write(req.Encode())
	require.NoError(t, err)

	testutil.WaitFor(t, 2*time.Second, func() bool { return len(host.delivered) == 1 })
	assert.Equal(t, someip.MethodID(0x0421), host.delivered[0].MethodID)

	m.StopOfferService(0x1234, 0x0001)
}

func TestSendToLocalProviderDeliversDirectlyWithoutAnEndpoint(t *testing.T) {
	boot := newTestBootstrap()
	host := newFakeLocalHost()
	m := NewManager(boot, host)

	require.NoError(t, m.OfferService(0x0007, 0x1234, 0x0001, 1, 0))

	msg := &someip.Message{
		ServiceID: 0x1234, MethodID: 0x0421, ClientID: 0x0002, SessionID: 1,
		ProtocolVer: someip.ProtocolVersion, InterfaceVer: 1,
		MessageType: someip.MsgTypeRequest, ReturnCode: someip.EOk,
	}
	require.NoError(t, m.Send(0x0002, msg, 0x0001, true, false))

	require.Len(t, host.delivered, 1)
	assert.Same(t, msg, host.delivered[0])

	// No client endpoint should have been dialed for a local delivery.
	m.tables.clientEndpointsByIPMu.RLock()
	count := len(m.tables.clientEndpointsByIP)
	m.tables.clientEndpointsByIPMu.RUnlock()
	assert.Zero(t, count)
}

func TestSendToLocalProviderNotRegisteredReturnsErrNotReachable(t *testing.T) {
	boot := newTestBootstrap()
	host := newFakeLocalHost()
	host.registered[0x0007] = false
	m := NewManager(boot, host)

	require.NoError(t, m.OfferService(0x0007, 0x1234, 0x0001, 1, 0))

	msg := &someip.Message{
		ServiceID: 0x1234, MethodID: 0x0421, ClientID: 0x0002, SessionID: 1,
		ProtocolVer: someip.ProtocolVersion, InterfaceVer: 1,
		MessageType: someip.MsgTypeRequest, ReturnCode: someip.EOk,
	}
	err := m.Send(0x0002, msg, 0x0001, true, false)
	assert.ErrorIs(t, err, someip.ErrNotReachable)
}

func TestRoutingManagerSendsErrorForUnknownServiceInstance(t *testing.T) {
	boot := newTestBootstrap()
	boot.AddService(someip.ServiceConfig{
		Service: 0x1234, Instance: 0x0001, Major: 1,
		Unreliable: true, UnreliablePort: 0,
	})
	host := newFakeLocalHost()
	m := NewManager(boot, host)
	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))

	m.tables.localServicesMu.RLock()
	info := m.tables.localServices[serviceInstanceKey{0x1234, 0x0001}]
	m.tables.localServicesMu.RUnlock()
	port := info.Unreliable.Port

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(port)})
	require.NoError(t, err)
	defer conn.Close()

	// Request addressed to a service id no instance table entry maps to
	// this endpoint's port.
	req := &someip.Message{
		ServiceID: 0x9999, MethodID: 0x0001, ClientID: 0x0002, SessionID: 1,
		ProtocolVer: someip.ProtocolVersion, InterfaceVer: 1,
		MessageType: someip.MsgTypeRequest, ReturnCode: someip.EOk,
	}
	_, err = conn.Write(req.Encode())
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := someip.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, someip.MsgTypeError, resp.MessageType)
	assert.Equal(t, someip.EUnknownService, resp.ReturnCode)

	m.StopOfferService(0x1234, 0x0001)
}

func TestExpireSubscriptionsDelegatesToRegistry(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())
	require.NoError(t, m.OfferService(0x0001, 0x1234, 0x0001, 1, 0))

	target := someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.1"), 1, false)
	m.Subscribe(0x0002, 0x1234, 0x0001, 0x0005, 1, target, 1)

	next := m.ExpireSubscriptions()
	// A 1-second ttl subscribed "now" has not expired yet; the delegate
	// should report a non-zero upcoming deadline rather than evicting.
	assert.False(t, next.IsZero())
}

func TestUpdateRoutingInfoAgesOutExpiredRemoteEntries(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	m.OnRemoteOfferService(0x1234, 0x0001, 1, 0, 2,
		someip.EndpointDefinition{}, someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.1"), 30509, false),
		false, true)

	smallest := m.UpdateRoutingInfo(1 * time.Second)
	assert.Equal(t, someip.TTL(1), smallest)

	smallest = m.UpdateRoutingInfo(2 * time.Second)
	assert.Equal(t, someip.TTLInfinite, smallest, "ttl exhausted, entry should have been removed")

	m.tables.remoteServiceInfoMu.RLock()
	_, ok := m.tables.remoteServiceInfo[remoteServiceKey{serviceInstanceKey{0x1234, 0x0001}, false}]
	m.tables.remoteServiceInfoMu.RUnlock()
	assert.False(t, ok)
}

func TestRequestServiceWithExclusiveProxyCapturesIdentifyResponse(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	m.RequestService(0x0002, 0x1234, 0x0001, 1, 0, true)
	_, ok := m.IdentifiedEndpoint(0x0002)
	assert.False(t, ok, "no identify response has arrived yet")

	sender := someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.9"), 30509, false)
	resp := &someip.Message{
		ServiceID: 0x1234, MethodID: someip.IdentifyMethodID(), ClientID: 0x0002, SessionID: 1,
		ProtocolVer: someip.ProtocolVersion, InterfaceVer: 1,
		MessageType: someip.MsgTypeResponse, ReturnCode: someip.EOk,
	}
	m.routeResponse(resp, &fakeReceiverEndpoint{reliable: false}, netip.MustParseAddrPort("192.0.2.9:30509"))

	got, ok := m.IdentifiedEndpoint(0x0002)
	require.True(t, ok)
	assert.True(t, got.Equal(sender))
}

func TestNotifyUpdatesFieldCacheAndFansOutToSubscribers(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	info := m.Registry().AddEvent(0x1234, 0x0001, 0x8001, true, true)
	info.AddEventGroup(0x0005)
	m.Registry().AddEventGroup(0x1234, 0x0001, 0x0005, 1, someip.TTLInfinite)

	sub, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	defer sub.Close()
	subPort := uint16(sub.LocalAddr().(*net.UDPAddr).Port)
	target := someip.NewEndpointDefinition(netip.MustParseAddr("127.0.0.1"), subPort, false)

	group := m.Registry().FindEventGroup(0x1234, 0x0001, 0x0005)
	require.NotNil(t, group)
	group.AddTarget(registry.Target{Endpoint: target, Expiration: time.Now().Add(time.Hour)})

	m.Notify(0x1234, 0x0001, 0x8001, []byte{0x7}, false)

	buf := make([]byte, 64)
	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := sub.Read(buf)
	require.NoError(t, err)
	got, err := someip.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, someip.MsgTypeNotification, got.MessageType)
	assert.Equal(t, []byte{0x7}, got.Payload)

	// The cached field value is what a client subscribing afterwards
	// should be replayed.
	replays := m.Registry().ReplayFieldsFor(0x1234, 0x0001, 0x0005, target)
	require.Len(t, replays, 1)
	assert.Equal(t, []byte{0x7}, replays[0].Message.Payload)
}

func TestNotifyOneSendsOnlyToItsTarget(t *testing.T) {
	boot := newTestBootstrap()
	m := NewManager(boot, newFakeLocalHost())

	m.Registry().AddEvent(0x1234, 0x0001, 0x8001, true, true)

	sub, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	defer sub.Close()
	subPort := uint16(sub.LocalAddr().(*net.UDPAddr).Port)
	target := someip.NewEndpointDefinition(netip.MustParseAddr("127.0.0.1"), subPort, false)

	require.NoError(t, m.NotifyOne(0x1234, 0x0001, 0x8001, target, []byte{0x9}, false))

	buf := make([]byte, 64)
	sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := sub.Read(buf)
	require.NoError(t, err)
	got, err := someip.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x9}, got.Payload)
	assert.Equal(t, someip.RoutingManagerClientID, got.ClientID)
}

// fakeReceiverEndpoint stands in for the endpoint.Endpoint that delivered
// a message, when a test only needs Reliable() to build the sender's
// EndpointDefinition.
type fakeReceiverEndpoint struct {
	endpoint.Endpoint
	reliable bool
}

func (f *fakeReceiverEndpoint) Reliable() bool { return f.reliable }
