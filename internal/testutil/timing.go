// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testutil provides small helpers shared by this module's test
// suites, adapted from the teacher's own internal/testutil package.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls cond every 2ms until it returns true or timeout elapses,
// failing t if the deadline passes first. The routing manager, the
// server endpoints, and the dispatcher pool all settle asynchronously on
// background goroutines, so most of this module's tests need this rather
// than a bare synchronous assertion. Adapted from the teacher's
// WaitWithTimeout (internal/testutil/timing.go), trimmed to the single
// polling primitive this module's tests actually need.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}
