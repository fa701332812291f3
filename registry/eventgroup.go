// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"sync"
	"time"

	"github.com/destiny/someip"
)

// Target is one subscriber of an eventgroup: the endpoint to deliver
// notifications to, and the time at which the subscription expires.
type Target struct {
	Endpoint   someip.EndpointDefinition
	Expiration time.Time
}

// EventGroupInfo tracks one (service, instance, eventgroup)'s membership
// and subscriber list. Grounded on the teacher's Stream type
// (malamute/stream.go) with subscribers standing in for stream
// consumers, expiration standing in for credit windows.
type EventGroupInfo struct {
	Service      someip.ServiceID
	Instance     someip.InstanceID
	ID           someip.EventGroupID
	Major        someip.MajorVersion
	TTL          someip.TTL
	Multicast    someip.EndpointDefinition
	HasMulticast bool

	mu        sync.Mutex
	events    map[someip.EventID]struct{}
	targets   []Target
}

// NewEventGroupInfo constructs an empty eventgroup entry.
func NewEventGroupInfo(service someip.ServiceID, instance someip.InstanceID, id someip.EventGroupID, major someip.MajorVersion, ttl someip.TTL) *EventGroupInfo {
	return &EventGroupInfo{
		Service:  service,
		Instance: instance,
		ID:       id,
		Major:    major,
		TTL:      ttl,
		events:   make(map[someip.EventID]struct{}),
	}
}

// SetMulticast records the multicast address/port events in this group
// are also delivered on.
func (g *EventGroupInfo) SetMulticast(ep someip.EndpointDefinition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Multicast = ep
	g.HasMulticast = true
}

// AddEvent associates event with this eventgroup.
func (g *EventGroupInfo) AddEvent(event someip.EventID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[event] = struct{}{}
}

// HasEvent reports whether event belongs to this eventgroup.
func (g *EventGroupInfo) HasEvent(event someip.EventID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.events[event]
	return ok
}

// AddTarget appends target as a subscriber, deduping on endpoint
// equality: a second Add for an already-subscribed endpoint just updates
// its expiration to the later of the two (spec.md §8 invariant 5), and
// reports false since the caller did not newly become a subscriber.
func (g *EventGroupInfo) AddTarget(target Target) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.targets {
		if g.targets[i].Endpoint.Equal(target.Endpoint) {
			if target.Expiration.After(g.targets[i].Expiration) {
				g.targets[i].Expiration = target.Expiration
			}
			return false
		}
	}
	g.targets = append(g.targets, target)
	return true
}

// UpdateTarget sets only the expiration of an existing subscriber,
// leaving membership otherwise unchanged. A no-op if endpoint is not a
// subscriber.
func (g *EventGroupInfo) UpdateTarget(endpoint someip.EndpointDefinition, expiration time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.targets {
		if g.targets[i].Endpoint.Equal(endpoint) {
			g.targets[i].Expiration = expiration
			return
		}
	}
}

// RemoveTarget drops a subscriber by endpoint equality. A no-op if
// endpoint is not a subscriber.
func (g *EventGroupInfo) RemoveTarget(endpoint someip.EndpointDefinition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.targets {
		if g.targets[i].Endpoint.Equal(endpoint) {
			g.targets = append(g.targets[:i], g.targets[i+1:]...)
			return
		}
	}
}

// Targets returns a snapshot of the current subscriber list.
func (g *EventGroupInfo) Targets() []Target {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Target, len(g.targets))
	copy(out, g.targets)
	return out
}

// ExpireSubscriptions evicts subscribers whose expiration is not strictly
// after now (spec.md §3's "strictly greater than the current steady-clock
// reading" invariant) and returns the earliest remaining non-expired
// expiration, or the zero time if none remain.
func (g *EventGroupInfo) ExpireSubscriptions(now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	live := g.targets[:0]
	var next time.Time
	for _, t := range g.targets {
		if !t.Expiration.After(now) {
			continue
		}
		live = append(live, t)
		if next.IsZero() || t.Expiration.Before(next) {
			next = t.Expiration
		}
	}
	g.targets = live
	return next
}
