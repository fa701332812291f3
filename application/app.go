// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package application implements the per-process façade spec.md §4.6
// calls the application runtime: user handler tables, session-id
// allocation, and the bounded dispatcher pool that runs handlers off the
// routing manager's deliveries.
package application

import (
	"fmt"
	"sync"

	"github.com/destiny/someip"
	"github.com/destiny/someip/registry"
	"github.com/destiny/someip/routing"
)

// State is the application's registration state (spec.md §4.6, §4.7 table).
type State int

const (
	StateDeregistered State = iota
	StateRegistered
)

func (s State) String() string {
	if s == StateRegistered {
		return "REGISTERED"
	}
	return "DEREGISTERED"
}

// MessageHandler processes one inbound request, notification, or response
// addressed to (service, instance, method).
type MessageHandler func(msg *someip.Message, receiver someip.EndpointDefinition)

// AvailabilityHandler is invoked when a service instance's local view of
// availability changes.
type AvailabilityHandler func(service someip.ServiceID, instance someip.InstanceID, available bool)

// SubscriptionHandler is invoked when a remote client subscribes to one
// of this application's provided event-groups.
type SubscriptionHandler func(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, client someip.ClientID, subscribed bool)

// SubscriptionErrorHandler is invoked when this application's own
// subscription attempt is rejected.
type SubscriptionErrorHandler func(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, code someip.ReturnCode)

type messageKey struct {
	service someip.ServiceID
	instance someip.InstanceID
	method  someip.MethodID
}

type availabilityKey struct {
	service  someip.ServiceID
	instance someip.InstanceID
}

type availabilityEntry struct {
	handler    AvailabilityHandler
	major      someip.MajorVersion
	minor      someip.MinorVersion
	registered bool
}

type eventGroupKey struct {
	service    someip.ServiceID
	instance   someip.InstanceID
	eventgroup someip.EventGroupID
}

// App is one process's application runtime: it registers offers and
// requests with a routing.Manager, holds this process's handler tables,
// and dispatches every inbound delivery through its dispatcher pool
// (spec.md §4.6). It implements routing.LocalHost so the manager can
// deliver directly into it.
type App struct {
	name    string
	client  someip.ClientID
	manager *routing.Manager
	log     *someip.Logger

	pool     *dispatcherPool
	sessions *sessionCounter

	mu           sync.RWMutex
	state        State
	messageHandlers      map[messageKey]MessageHandler
	availabilityHandlers map[availabilityKey]*availabilityEntry
	subscriptionHandlers map[eventGroupKey]SubscriptionHandler
	subscriptionErrorHandlers map[eventGroupKey]SubscriptionErrorHandler
}

// Option configures an App at construction time.
type Option func(*App)

// WithLogger overrides the application's logger.
func WithLogger(l *someip.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// New builds an App bound to client. boot supplies the dispatcher pool's
// sizing. The routing manager is wired in separately with Attach, since
// the manager itself is constructed with this App as its LocalHost --
// the two collaborators are mutually referential and neither can be
// built first.
func New(name string, client someip.ClientID, boot someip.Bootstrap, opts ...Option) *App {
	a := &App{
		name:                 name,
		client:               client,
		log:                  someip.DefaultLogger,
		pool:                 newDispatcherPool(boot.MaxDispatchers(), boot.MaxDispatchTime()),
		sessions:             newSessionCounter(),
		messageHandlers:      make(map[messageKey]MessageHandler),
		availabilityHandlers: make(map[availabilityKey]*availabilityEntry),
		subscriptionHandlers: make(map[eventGroupKey]SubscriptionHandler),
		subscriptionErrorHandlers: make(map[eventGroupKey]SubscriptionErrorHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach wires the routing manager this App forwards offer, request,
// send, and subscribe calls to. It must be called once, before Start,
// after both this App and the manager have been constructed (the
// manager's own constructor takes this App as its LocalHost).
func (a *App) Attach(manager *routing.Manager) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manager = manager
}

// Start transitions DEREGISTERED -> REGISTERED, launching the dispatcher
// pool and materializing any availability handlers registered before
// Start was called (spec.md §4.6, "on entering ST_REGISTERED, pending
// deferred availability handlers are materialized").
func (a *App) Start() error {
	a.mu.Lock()
	if a.state == StateRegistered {
		a.mu.Unlock()
		return someip.ErrAlreadyRunning
	}
	a.state = StateRegistered
	pending := make([]*availabilityEntry, 0, len(a.availabilityHandlers))
	for _, entry := range a.availabilityHandlers {
		pending = append(pending, entry)
	}
	a.mu.Unlock()

	a.pool.Start()
	for _, entry := range pending {
		entry.registered = true
	}
	a.log.Info("application %s: registered (client=%s)", a.name, a.client)
	return nil
}

// Stop transitions REGISTERED -> DEREGISTERED, draining the dispatcher
// pool. No handler is invoked once Stop returns (spec.md invariant 6).
// Stop is idempotent (spec.md §7, "programmer errors ... idempotent
// where possible").
func (a *App) Stop() error {
	a.mu.Lock()
	if a.state == StateDeregistered {
		a.mu.Unlock()
		return nil
	}
	a.state = StateDeregistered
	a.mu.Unlock()

	a.pool.Stop()
	a.log.Info("application %s: deregistered", a.name)
	return nil
}

// State returns the application's current registration state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// ClientID returns the client id this application is registered as.
func (a *App) ClientID() someip.ClientID { return a.client }

// NextSession returns the next session id for a request this application
// originates.
func (a *App) NextSession() someip.SessionID { return a.sessions.Next() }

// RegisterMessageHandler installs the handler for (service, instance,
// method). Use someip.AnyService/AnyInstance/AnyMethod as wildcards; an
// exact match always takes precedence over a wildcard registration.
func (a *App) RegisterMessageHandler(service someip.ServiceID, instance someip.InstanceID, method someip.MethodID, handler MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messageHandlers[messageKey{service, instance, method}] = handler
}

// UnregisterMessageHandler removes a previously registered handler.
func (a *App) UnregisterMessageHandler(service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.messageHandlers, messageKey{service, instance, method})
}

// findMessageHandler resolves the handler for (service, instance,
// method), following an exact match, then falling back to progressively
// wider wildcards -- exact key first, then any-method, any-instance,
// any-service -- matching spec.md §4.6's "wildcard key ANY_* matching
// only if no exact key exists".
func (a *App) findMessageHandler(service someip.ServiceID, instance someip.InstanceID, method someip.MethodID) (MessageHandler, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	candidates := []messageKey{
		{service, instance, method},
		{service, instance, someip.AnyMethod},
		{service, someip.AnyInstance, method},
		{service, someip.AnyInstance, someip.AnyMethod},
		{someip.AnyService, someip.AnyInstance, someip.AnyMethod},
	}
	for _, key := range candidates {
		if h, ok := a.messageHandlers[key]; ok {
			return h, true
		}
	}
	return nil, false
}

// RegisterAvailabilityHandler installs a handler invoked whenever
// (service, instance)'s local availability changes. If Start has already
// run, the handler is materialized immediately; otherwise it is deferred
// until Start.
func (a *App) RegisterAvailabilityHandler(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion, handler AvailabilityHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availabilityHandlers[availabilityKey{service, instance}] = &availabilityEntry{
		handler:    handler,
		major:      major,
		minor:      minor,
		registered: a.state == StateRegistered,
	}
}

// RegisterSubscriptionHandler installs the handler invoked when a remote
// client (un)subscribes to one of this application's provided
// event-groups.
func (a *App) RegisterSubscriptionHandler(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, handler SubscriptionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriptionHandlers[eventGroupKey{service, instance, eventgroup}] = handler
}

// RegisterSubscriptionErrorHandler installs the handler invoked when this
// application's own subscription request to a remote provider is
// rejected.
func (a *App) RegisterSubscriptionErrorHandler(service someip.ServiceID, instance someip.InstanceID, eventgroup someip.EventGroupID, handler SubscriptionErrorHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscriptionErrorHandlers[eventGroupKey{service, instance, eventgroup}] = handler
}

// OfferService offers (service, instance) through the routing manager
// and notifies any deferred availability handler for it.
func (a *App) OfferService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion) error {
	if err := a.manager.OfferService(a.client, service, instance, major, minor); err != nil {
		return err
	}
	a.notifyAvailability(service, instance, true)
	return nil
}

// StopOfferService withdraws (service, instance) and notifies any
// availability handler that it is no longer available.
func (a *App) StopOfferService(service someip.ServiceID, instance someip.InstanceID) error {
	if err := a.manager.StopOfferService(service, instance); err != nil {
		return err
	}
	a.notifyAvailability(service, instance, false)
	return nil
}

func (a *App) notifyAvailability(service someip.ServiceID, instance someip.InstanceID, available bool) {
	a.mu.RLock()
	entry, ok := a.availabilityHandlers[availabilityKey{service, instance}]
	a.mu.RUnlock()
	if !ok || !entry.registered || entry.handler == nil {
		return
	}
	a.pool.Submit(func() { entry.handler(service, instance, available) })
}

// RequestService records demand for a remote or local service through
// the routing manager. If useExclusiveProxy is set, the caller should
// poll IdentifiedEndpoint (routing.Manager) once an identify response
// has had time to arrive, rather than assume the shared client endpoint
// speaks for this specific request.
func (a *App) RequestService(service someip.ServiceID, instance someip.InstanceID, major someip.MajorVersion, minor someip.MinorVersion, useExclusiveProxy bool) {
	a.manager.RequestService(a.client, service, instance, major, minor, useExclusiveProxy)
}

// Subscribe joins event-group eg of (service, instance) and submits any
// cached field values to the dispatcher pool for replay; it returns
// without waiting for them to be delivered (spec.md §4.6 "cached-event
// replay").
func (a *App) Subscribe(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, major someip.MajorVersion, target someip.EndpointDefinition, ttl someip.TTL) {
	replays := a.manager.Subscribe(a.client, service, instance, eg, major, target, ttl)
	for _, r := range replays {
		r := r
		a.pool.Submit(func() { a.deliverNotification(r.Message, r.Target) })
	}
}

// Unsubscribe leaves event-group eg of (service, instance).
func (a *App) Unsubscribe(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, target someip.EndpointDefinition) {
	a.manager.Unsubscribe(a.client, service, instance, eg, target)
}

// Send transmits msg as this application's client, through the routing
// manager. The caller owns session-id assignment (spec.md §4.5, "the
// router does not renumber").
func (a *App) Send(msg *someip.Message, instance someip.InstanceID, flush, reliable bool) error {
	return a.manager.Send(a.client, msg, instance, flush, reliable)
}

// NotifyField pushes a provided field's updated value to every current
// subscriber, through the routing manager's Notify (spec.md §4.6
// supplement). A provider calls this after changing a field it offers;
// the routing manager takes care of caching the new payload for future
// subscribers' replay as well as fanning it out to existing ones.
func (a *App) NotifyField(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, payload []byte, reliable bool) {
	a.manager.Notify(service, instance, event, payload, reliable)
}

// NotifyFieldOne re-sends a provided field's current value to a single
// target rather than every subscriber, through the routing manager's
// NotifyOne (spec.md §4.6 supplement). Most callers get this for free at
// subscribe time via Subscribe's cached-field replay; this exists for an
// on-demand re-send outside of a fresh subscription.
func (a *App) NotifyFieldOne(service someip.ServiceID, instance someip.InstanceID, event someip.EventID, target someip.EndpointDefinition, payload []byte, reliable bool) error {
	return a.manager.NotifyOne(service, instance, event, target, payload, reliable)
}

// deliverNotification runs the message handler for one synthetic
// delivery -- currently only the field-replay path, where
// registry.ReplayNotification does not itself carry an instance id.
// Inbound wire traffic goes through DeliverLocal instead, which receives
// the already-resolved instance straight from the routing manager's own
// tables.
func (a *App) deliverNotification(msg *someip.Message, receiver someip.EndpointDefinition) {
	instance, ok := a.instanceFor(msg)
	if !ok {
		return
	}
	handler, ok := a.findMessageHandler(msg.ServiceID, instance, msg.MethodID)
	if !ok {
		a.log.Debug("application %s: no handler for %s/%s/%04x", a.name, msg.ServiceID, instance, uint16(msg.MethodID))
		return
	}
	handler(msg, receiver)
}

// instanceFor resolves a synthesized message to the instance this
// application registered a handler under, by matching on service id
// against the message-handler table. Only used by the field-replay path
// (see deliverNotification).
func (a *App) instanceFor(msg *someip.Message) (someip.InstanceID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for key := range a.messageHandlers {
		if key.service == msg.ServiceID {
			return key.instance, true
		}
	}
	return 0, false
}

// DeliverLocal implements routing.LocalHost: the manager calls this to
// hand a message straight to this application's mailbox, bypassing any
// socket, with instance already resolved against the manager's own
// tables. Delivery runs on the dispatcher pool, never inline, so the
// manager's own goroutine is never blocked by a user handler.
func (a *App) DeliverLocal(client someip.ClientID, msg *someip.Message, instance someip.InstanceID, sender someip.EndpointDefinition) {
	if client != a.client {
		return
	}
	a.pool.Submit(func() {
		handler, ok := a.findMessageHandler(msg.ServiceID, instance, msg.MethodID)
		if !ok {
			a.log.Debug("application %s: no handler for message from %s", a.name, sender)
			return
		}
		handler(msg, sender)
	})
}

// IsRegistered implements routing.LocalHost.
func (a *App) IsRegistered(client someip.ClientID) bool {
	if client != a.client {
		return false
	}
	return a.State() == StateRegistered
}

// DeliverSubscription runs this application's subscription handler for
// (service, instance, eg), submitted through the dispatcher pool like
// every other user callback.
func (a *App) DeliverSubscription(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, client someip.ClientID, subscribed bool) {
	a.mu.RLock()
	handler, ok := a.subscriptionHandlers[eventGroupKey{service, instance, eg}]
	a.mu.RUnlock()
	if !ok || handler == nil {
		return
	}
	a.pool.Submit(func() { handler(service, instance, eg, client, subscribed) })
}

// DeliverSubscriptionError runs this application's subscription-error
// handler for (service, instance, eg).
func (a *App) DeliverSubscriptionError(service someip.ServiceID, instance someip.InstanceID, eg someip.EventGroupID, code someip.ReturnCode) {
	a.mu.RLock()
	handler, ok := a.subscriptionErrorHandlers[eventGroupKey{service, instance, eg}]
	a.mu.RUnlock()
	if !ok || handler == nil {
		return
	}
	a.pool.Submit(func() { handler(service, instance, eg, code) })
}

// ReplayField synthesizes and dispatches an initial NOTIFICATION for a
// field event, following the routing manager's registry.ReplayNotification
// contract, for callers that drive Subscribe manually against a
// registry.Registry instead of through Subscribe above (e.g. a routing
// manager host application).
func (a *App) ReplayField(n registry.ReplayNotification) {
	a.pool.Submit(func() { a.deliverNotification(n.Message, n.Target) })
}

func (a *App) String() string {
	return fmt.Sprintf("application(%s, client=%s, state=%s)", a.name, a.client, a.State())
}

var _ routing.LocalHost = (*App)(nil)
