// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package someip

import "time"

// ServiceConfig is the static, per-(service, instance) configuration the
// Bootstrap collaborator supplies: which transports to bind and the
// interface version to advertise on offer. Configuration *loading* (from
// a file or environment) stays an external concern per spec.md §1; this
// is only the shape the routing manager and application runtime consume.
type ServiceConfig struct {
	Service      ServiceID
	Instance     InstanceID
	Major        MajorVersion
	Minor        MinorVersion
	Reliable     bool
	Unreliable   bool
	ReliablePort uint16
	UnreliablePort uint16
	Multicast    string // "" if the service has no multicast eventgroups
}

// Bootstrap is the narrow interface the routing manager and application
// runtime consult for bootstrap data, the Go-native stand-in for the
// "configuration loading" collaborator spec.md §1 and §6 name ("the
// environment variables consumed from the configuration collaborator:
// application name, configuration path, and routing-host name").
type Bootstrap interface {
	// ApplicationName returns this process's configured application name.
	ApplicationName() string
	// RoutingHostName returns the name of the process elected to own the
	// central routing manager.
	RoutingHostName() string
	// ConfigPath returns the path the configuration was (or would be)
	// loaded from, for diagnostics only.
	ConfigPath() string
	// ServiceConfig returns the static configuration for one service
	// instance, or ok=false if none is configured.
	ServiceConfig(service ServiceID, instance InstanceID) (cfg ServiceConfig, ok bool)
	// MaxDispatchers returns the configured dispatcher pool ceiling
	// (spec.md §4.6).
	MaxDispatchers() int
	// MaxDispatchTime returns the per-handler stall-detection timeout.
	MaxDispatchTime() time.Duration
}

// serviceInstanceKey flattens a (service, instance) pair into a single
// comparable map key, following the endpoint-definition Key() convention
// used throughout this module.
type serviceInstanceKey struct {
	Service  ServiceID
	Instance InstanceID
}

// StaticConfig is an in-memory Bootstrap implementation: no file or
// environment parsing, just the tables a test or the example binary
// populates directly. It is the one concrete Bootstrap this module ships;
// real deployments provide their own, backed by whatever configuration
// format and environment variables they use (spec.md §6).
type StaticConfig struct {
	AppName    string
	RoutingHost string
	Path       string
	Dispatchers int
	DispatchTimeout time.Duration

	services map[serviceInstanceKey]ServiceConfig
}

// NewStaticConfig builds a StaticConfig with the given identity and
// dispatcher limits; services are added with AddService.
func NewStaticConfig(appName, routingHost string, maxDispatchers int, maxDispatchTime time.Duration) *StaticConfig {
	return &StaticConfig{
		AppName:         appName,
		RoutingHost:     routingHost,
		Dispatchers:     maxDispatchers,
		DispatchTimeout: maxDispatchTime,
		services:        make(map[serviceInstanceKey]ServiceConfig),
	}
}

// AddService registers the static configuration for one service instance.
func (c *StaticConfig) AddService(cfg ServiceConfig) {
	c.services[serviceInstanceKey{cfg.Service, cfg.Instance}] = cfg
}

func (c *StaticConfig) ApplicationName() string  { return c.AppName }
func (c *StaticConfig) RoutingHostName() string  { return c.RoutingHost }
func (c *StaticConfig) ConfigPath() string        { return c.Path }
func (c *StaticConfig) MaxDispatchers() int       { return c.Dispatchers }
func (c *StaticConfig) MaxDispatchTime() time.Duration { return c.DispatchTimeout }

func (c *StaticConfig) ServiceConfig(service ServiceID, instance InstanceID) (ServiceConfig, bool) {
	cfg, ok := c.services[serviceInstanceKey{service, instance}]
	return cfg, ok
}

var _ Bootstrap = (*StaticConfig)(nil)

// resolveLogger returns l, or DefaultLogger when l is nil. The
// components' own *Logger functional options do not call it; each
// applies the same nil check inline.
func resolveLogger(l *Logger) *Logger {
	if l == nil {
		return DefaultLogger
	}
	return l
}
