// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command someipd runs a routing-manager host application: it registers
// with a routing.Manager, then blocks aging SD-derived table entries and
// expiring subscriptions on a fixed tick until told to stop.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/destiny/someip"
	"github.com/destiny/someip/application"
	"github.com/destiny/someip/routing"
)

func main() {
	appName := envOrDefault("SOMEIP_APPLICATION_NAME", "someipd")
	routingHost := envOrDefault("SOMEIP_ROUTING_HOST_NAME", appName)
	configPath := os.Getenv("SOMEIP_CONFIGURATION_FILE")

	boot := someip.NewStaticConfig(appName, routingHost, 4, 2*time.Second)
	boot.Path = configPath

	app := application.New(appName, 0x0001, boot)
	mgr := routing.NewManager(boot, app)
	app.Attach(mgr)

	if err := app.Start(); err != nil {
		log.Fatalf("someipd: start: %v", err)
	}
	log.Printf("someipd: %s registered (routing host %s)", appName, routingHost)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopMaintenance := make(chan struct{})
	go runMaintenanceLoop(mgr, stopMaintenance)

	<-sigCh
	log.Printf("someipd: shutting down")
	close(stopMaintenance)

	if err := app.Stop(); err != nil {
		log.Printf("someipd: stop: %v", err)
	}
	log.Printf("someipd: stopped")
}

// runMaintenanceLoop drives the routing manager's periodic bookkeeping --
// spec.md §4.5's update_routing_info/expire_subscriptions -- on a fixed
// tick, standing in for the SD state machine's own timer in a
// full deployment.
func runMaintenanceLoop(mgr *routing.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			mgr.UpdateRoutingInfo(elapsed)
			mgr.ExpireSubscriptions()
		case <-stop:
			return
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
