// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry stores event and eventgroup metadata: which events
// belong to which eventgroups, the cached payload of field events, and
// who is currently subscribed to each eventgroup. Grounded on the
// teacher's stream/subscriber bookkeeping in malamute/stream.go, adapted
// from "stream credit windows" to "eventgroup subscriber expirations".
package registry

import "github.com/destiny/someip"

// EventInfo describes one event or field known to a service instance.
// Non-field events never populate Payload; fields cache their last
// published value and replay it to new subscribers (spec.md §4.4).
type EventInfo struct {
	Service     someip.ServiceID
	Instance    someip.InstanceID
	Event       someip.EventID
	IsField     bool
	IsProvided  bool
	EventGroups map[someip.EventGroupID]struct{}

	Payload []byte
	IsSet   bool
}

// NewEventInfo constructs an EventInfo with an empty eventgroup set.
func NewEventInfo(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, isField, isProvided bool) *EventInfo {
	return &EventInfo{
		Service:     service,
		Instance:    instance,
		Event:       event,
		IsField:     isField,
		IsProvided:  isProvided,
		EventGroups: make(map[someip.EventGroupID]struct{}),
	}
}

// AddEventGroup associates this event with an eventgroup.
func (e *EventInfo) AddEventGroup(eg someip.EventGroupID) {
	e.EventGroups[eg] = struct{}{}
}

// InEventGroup reports whether this event belongs to eg.
func (e *EventInfo) InEventGroup(eg someip.EventGroupID) bool {
	_, ok := e.EventGroups[eg]
	return ok
}

// SetPayload stores the field's latest value and marks it as set. Calling
// this on a non-field event is legal but pointless: non-fields never
// consult Payload/IsSet since they are never replayed.
func (e *EventInfo) SetPayload(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	e.Payload = buf
	e.IsSet = true
}
