// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routing

import (
	"sync"
	"time"

	"github.com/destiny/someip"
	"github.com/destiny/someip/endpoint"
)

// ServiceInfo is the (major, minor, ttl, reliable?, unreliable?, is-local?)
// tuple spec.md §3 names. Created on offer or SD discovery; removed on
// stop-offer, SD timeout, or remote disconnect.
type ServiceInfo struct {
	Major    someip.MajorVersion
	Minor    someip.MinorVersion
	TTL      someip.TTL
	Reliable someip.EndpointDefinition
	HasReliable bool
	Unreliable someip.EndpointDefinition
	HasUnreliable bool
	Local    bool

	// LocalClient is the client that offered this service, meaningful
	// only when Local is true. Send's local-provider branch delivers
	// through DeliverLocal to this client rather than dialing a client
	// endpoint (spec.md §4.5 send()'s "provider is local" branch).
	LocalClient someip.ClientID

	remaining someip.TTL
}

// ageTTL subtracts elapsed seconds from the remaining TTL, returning true
// once it has been exhausted. Infinite TTLs never age.
func (s *ServiceInfo) ageTTL(elapsed time.Duration) bool {
	if s.TTL == someip.TTLInfinite {
		return false
	}
	sec := someip.TTL(elapsed / time.Second)
	if sec >= s.remaining {
		s.remaining = 0
		return true
	}
	s.remaining -= sec
	return false
}

// tables holds every table spec.md §4.5 names, one mutex per table
// following the shared-resource policy in §5 ("acquisition order is
// always outer -> inner in the order tables are declared"). Grounded on
// the shape (mutex-guarded map, explicit getOrCreate helper) of the
// teacher's majordomo.Broker.services/workers maps.
type tables struct {
	localServicesMu sync.RWMutex
	localServices   map[serviceInstanceKey]*ServiceInfo

	serverEndpointsMu sync.RWMutex
	serverEndpoints   map[portKey]endpoint.Endpoint

	serviceInstancesMu sync.RWMutex
	serviceInstances   map[someip.ServiceID]map[someip.EndpointDefinition]someip.InstanceID

	remoteServiceInfoMu sync.RWMutex
	remoteServiceInfo   map[remoteServiceKey]*ServiceInfo

	clientEndpointsByIPMu sync.RWMutex
	clientEndpointsByIP   map[clientEndpointKey]*endpoint.ClientEndpoint

	requestedServicesMu sync.Mutex
	requestedServices   map[requestKey]map[versionKey]struct{}

	remoteSubscribersMu sync.Mutex
	remoteSubscribers   map[subscriberKey]struct{}

	// identifiedClients records, for a client that requested a service
	// with use_exclusive_proxy, the endpoint an identify response was
	// last received from (spec.md §4.5's on_identify_response).
	identifiedClientsMu sync.Mutex
	identifiedClients   map[someip.ClientID]someip.EndpointDefinition
}

func newTables() *tables {
	return &tables{
		localServices:       make(map[serviceInstanceKey]*ServiceInfo),
		serverEndpoints:     make(map[portKey]endpoint.Endpoint),
		serviceInstances:    make(map[someip.ServiceID]map[someip.EndpointDefinition]someip.InstanceID),
		remoteServiceInfo:   make(map[remoteServiceKey]*ServiceInfo),
		clientEndpointsByIP: make(map[clientEndpointKey]*endpoint.ClientEndpoint),
		requestedServices:   make(map[requestKey]map[versionKey]struct{}),
		remoteSubscribers:   make(map[subscriberKey]struct{}),
		identifiedClients:   make(map[someip.ClientID]someip.EndpointDefinition),
	}
}

// findInstance resolves a service id delivered on receiver to the
// instance the routing manager knows it as, using the endpoint that
// delivered it as the disambiguator (one process may host several
// instances of the same service on different endpoints).
func (t *tables) findInstance(service someip.ServiceID, receiverPort uint16, reliable bool) (someip.InstanceID, bool) {
	t.serviceInstancesMu.RLock()
	defer t.serviceInstancesMu.RUnlock()
	byEndpoint, ok := t.serviceInstances[service]
	if !ok {
		return 0, false
	}
	for def, instance := range byEndpoint {
		if def.Port == receiverPort && def.Reliable == reliable {
			return instance, true
		}
	}
	return 0, false
}

func (t *tables) recordServiceInstance(service someip.ServiceID, def someip.EndpointDefinition, instance someip.InstanceID) {
	t.serviceInstancesMu.Lock()
	defer t.serviceInstancesMu.Unlock()
	byEndpoint, ok := t.serviceInstances[service]
	if !ok {
		byEndpoint = make(map[someip.EndpointDefinition]someip.InstanceID)
		t.serviceInstances[service] = byEndpoint
	}
	byEndpoint[def] = instance
}
