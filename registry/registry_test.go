// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destiny/someip"
)

func endpointAt(port uint16) someip.EndpointDefinition {
	return someip.NewEndpointDefinition(netip.MustParseAddr("192.0.2.5"), port, false)
}

func TestAddTargetDedupesByEndpointAndKeepsLaterExpiration(t *testing.T) {
	g := NewEventGroupInfo(0x1234, 0x0001, 0x0005, 1, 3600)
	ep := endpointAt(30509)

	earlier := time.Now().Add(1 * time.Minute)
	later := time.Now().Add(5 * time.Minute)

	added := g.AddTarget(Target{Endpoint: ep, Expiration: earlier})
	assert.True(t, added)

	added = g.AddTarget(Target{Endpoint: ep, Expiration: later})
	assert.False(t, added, "second add of the same endpoint must not report as new")

	targets := g.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, later, targets[0].Expiration)
}

func TestAddTargetSecondAddWithEarlierExpirationKeepsLater(t *testing.T) {
	g := NewEventGroupInfo(0x1234, 0x0001, 0x0005, 1, 3600)
	ep := endpointAt(30509)

	later := time.Now().Add(5 * time.Minute)
	earlier := time.Now().Add(1 * time.Minute)

	g.AddTarget(Target{Endpoint: ep, Expiration: later})
	g.AddTarget(Target{Endpoint: ep, Expiration: earlier})

	targets := g.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, later, targets[0].Expiration, "an earlier re-subscribe must not shorten the expiration")
}

func TestRemoveTargetByEndpointEquality(t *testing.T) {
	g := NewEventGroupInfo(0x1234, 0x0001, 0x0005, 1, 3600)
	a := endpointAt(30509)
	b := endpointAt(30510)

	g.AddTarget(Target{Endpoint: a, Expiration: time.Now().Add(time.Minute)})
	g.AddTarget(Target{Endpoint: b, Expiration: time.Now().Add(time.Minute)})

	g.RemoveTarget(a)

	targets := g.Targets()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].Endpoint.Equal(b))
}

func TestExpireSubscriptionsEvictsPastDeadlinesOnly(t *testing.T) {
	g := NewEventGroupInfo(0x1234, 0x0001, 0x0005, 1, 3600)
	expired := endpointAt(1)
	live := endpointAt(2)

	now := time.Now()
	g.AddTarget(Target{Endpoint: expired, Expiration: now.Add(-time.Second)})
	g.AddTarget(Target{Endpoint: live, Expiration: now.Add(time.Minute)})

	next := g.ExpireSubscriptions(now)

	targets := g.Targets()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].Endpoint.Equal(live))
	assert.WithinDuration(t, now.Add(time.Minute), next, time.Second)
}

func TestExpireSubscriptionsExactlyAtDeadlineIsExpired(t *testing.T) {
	g := NewEventGroupInfo(0x1234, 0x0001, 0x0005, 1, 3600)
	ep := endpointAt(1)
	now := time.Now()
	g.AddTarget(Target{Endpoint: ep, Expiration: now})

	g.ExpireSubscriptions(now)

	assert.Empty(t, g.Targets(), "spec.md invariant: expiration must be strictly greater than now")
}

func TestRegistryFieldReplaySingleShot(t *testing.T) {
	r := New()
	service := someip.ServiceID(0x1234)
	instance := someip.InstanceID(0x0001)
	eg := someip.EventGroupID(0x0005)
	event := someip.EventID(0x8001)

	info := r.AddEvent(service, instance, event, true, true)
	info.AddEventGroup(eg)

	target := endpointAt(30509)

	// Before the field is ever set, no replay is generated.
	replays := r.ReplayFieldsFor(service, instance, eg, target)
	assert.Empty(t, replays)

	r.SetField(service, instance, event, []byte{0xAA})

	replays = r.ReplayFieldsFor(service, instance, eg, target)
	require.Len(t, replays, 1)
	assert.True(t, replays[0].Initial)
	assert.Equal(t, []byte{0xAA}, replays[0].Message.Payload)
	assert.Equal(t, someip.MsgTypeNotification, replays[0].Message.MessageType)
	assert.Equal(t, target, replays[0].Target)
}

func TestRegistrySetFieldIgnoresNonFieldEvents(t *testing.T) {
	r := New()
	service := someip.ServiceID(0x1234)
	instance := someip.InstanceID(0x0001)
	event := someip.EventID(0x8001)

	info := r.AddEvent(service, instance, event, false, true)
	r.SetField(service, instance, event, []byte{0xAA})

	assert.False(t, info.IsSet)
}

func TestRegistryExpireSubscriptionsAcrossGroups(t *testing.T) {
	r := New()
	g1 := r.AddEventGroup(0x1111, 0x0001, 0x0005, 1, 3600)
	g2 := r.AddEventGroup(0x2222, 0x0001, 0x0006, 1, 3600)

	now := time.Now()
	g1.AddTarget(Target{Endpoint: endpointAt(1), Expiration: now.Add(10 * time.Minute)})
	g2.AddTarget(Target{Endpoint: endpointAt(2), Expiration: now.Add(2 * time.Minute)})

	next := r.ExpireSubscriptions(now)
	assert.WithinDuration(t, now.Add(2*time.Minute), next, time.Second)
}

func TestRemoveInstanceDropsAllItsEventsAndGroups(t *testing.T) {
	r := New()
	r.AddEvent(0x1234, 0x0001, 0x8001, true, true)
	r.AddEventGroup(0x1234, 0x0001, 0x0005, 1, 3600)
	r.AddEvent(0x1234, 0x0002, 0x8001, true, true) // different instance, survives

	r.RemoveInstance(0x1234, 0x0001)

	assert.Nil(t, r.FindEvent(0x1234, 0x0001, 0x8001))
	assert.Nil(t, r.FindEventGroup(0x1234, 0x0001, 0x0005))
	assert.NotNil(t, r.FindEvent(0x1234, 0x0002, 0x8001))
}
