// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"sync"
	"time"

	"github.com/destiny/someip"
)

type serviceInstanceKey struct {
	service  someip.ServiceID
	instance someip.InstanceID
}

type eventKey struct {
	serviceInstanceKey
	event someip.EventID
}

type eventGroupKey struct {
	serviceInstanceKey
	eventGroup someip.EventGroupID
}

// Registry stores every EventInfo and EventGroupInfo known to this
// routing manager, keyed the way the manager itself keys service
// instances (spec.md §4.4). One Registry is shared by all offered and
// requested services in a process.
type Registry struct {
	mu          sync.RWMutex
	events      map[eventKey]*EventInfo
	eventGroups map[eventGroupKey]*EventGroupInfo
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		events:      make(map[eventKey]*EventInfo),
		eventGroups: make(map[eventGroupKey]*EventGroupInfo),
	}
}

// FindEventGroup returns the eventgroup info for (service, instance, eg),
// or nil if it is not known.
func (r *Registry) FindEventGroup(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID) *EventGroupInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.eventGroups[eventGroupKey{serviceInstanceKey{service, instance}, eg}]
}

// FindEvent returns the event info for (service, instance, event), or nil.
func (r *Registry) FindEvent(service someip.ServiceID, instance someip.InstanceID, event someip.EventID) *EventInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events[eventKey{serviceInstanceKey{service, instance}, event}]
}

// AddEventGroup registers (or returns the existing) eventgroup info for
// (service, instance, eg).
func (r *Registry) AddEventGroup(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, major someip.MajorVersion, ttl someip.TTL) *EventGroupInfo {
	key := eventGroupKey{serviceInstanceKey{service, instance}, eg}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.eventGroups[key]; ok {
		return existing
	}
	info := NewEventGroupInfo(service, instance, eg, major, ttl)
	r.eventGroups[key] = info
	return info
}

// AddEvent registers (or returns the existing) event info for
// (service, instance, event).
func (r *Registry) AddEvent(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, isField, isProvided bool) *EventInfo {
	key := eventKey{serviceInstanceKey{service, instance}, event}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[key]; ok {
		return existing
	}
	info := NewEventInfo(service, instance, event, isField, isProvided)
	r.events[key] = info
	return info
}

// RemoveInstance drops every event and eventgroup registered for
// (service, instance), used when a service is stopped or its SD entry
// expires.
func (r *Registry) RemoveInstance(service someip.ServiceID, instance someip.InstanceID) {
	sik := serviceInstanceKey{service, instance}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.events {
		if k.serviceInstanceKey == sik {
			delete(r.events, k)
		}
	}
	for k := range r.eventGroups {
		if k.serviceInstanceKey == sik {
			delete(r.eventGroups, k)
		}
	}
}

// SetField stores a field event's latest payload (spec.md §4.4 "setting
// the payload stores it and sets is_set = true"). A no-op if event is not
// a known field.
func (r *Registry) SetField(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, payload []byte) {
	info := r.FindEvent(service, instance, event)
	if info == nil || !info.IsField {
		return
	}
	info.SetPayload(payload)
}

// ReplayNotification is a single-shot NOTIFICATION synthesized for a
// newly subscribed target carrying a field's cached value.
type ReplayNotification struct {
	Message *someip.Message
	Target  someip.EndpointDefinition
	Initial bool
}

// ReplayFieldsFor returns one ReplayNotification per already-set field
// event in eventgroup eg, addressed to target, for a client that just
// subscribed (spec.md §4.4/§4.5 "any cached field values ... are replayed
// via notify_one"; §8 scenario 6). Session id is left zero, and the
// routing manager's Subscribe returns the notifications without stamping
// one.
func (r *Registry) ReplayFieldsFor(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, target someip.EndpointDefinition) []ReplayNotification {
	r.mu.RLock()
	sik := serviceInstanceKey{service, instance}
	var candidates []*EventInfo
	for k, info := range r.events {
		if k.serviceInstanceKey == sik && info.IsField && info.InEventGroup(eg) {
			candidates = append(candidates, info)
		}
	}
	r.mu.RUnlock()

	out := make([]ReplayNotification, 0, len(candidates))
	for _, info := range candidates {
		if !info.IsSet {
			continue
		}
		out = append(out, ReplayNotification{
			Message: &someip.Message{
				ServiceID:    service,
				MethodID:     someip.MethodID(info.Event),
				ProtocolVer:  someip.ProtocolVersion,
				InterfaceVer: uint8(0),
				MessageType:  someip.MsgTypeNotification,
				ReturnCode:   someip.EOk,
				Payload:      append([]byte(nil), info.Payload...),
			},
			Target:  target,
			Initial: true,
		})
	}
	return out
}

// ExpireSubscriptions delegates to every eventgroup (spec.md §4.5
// "expire_subscriptions() delegates to every eventgroup") and returns the
// earliest non-expired deadline across all of them, or the zero time if
// none exist.
func (r *Registry) ExpireSubscriptions(now time.Time) time.Time {
	r.mu.RLock()
	groups := make([]*EventGroupInfo, 0, len(r.eventGroups))
	for _, g := range r.eventGroups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	var next time.Time
	for _, g := range groups {
		deadline := g.ExpireSubscriptions(now)
		if deadline.IsZero() {
			continue
		}
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	return next
}
