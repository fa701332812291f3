// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package application

import (
	"sync"

	"github.com/destiny/someip"
)

// sessionCounter hands out per-application session ids. It never returns
// zero: on wraparound from 0xFFFF the counter skips straight to 1,
// following someip.SessionID's documented invariant.
type sessionCounter struct {
	mu   sync.Mutex
	next someip.SessionID
}

func newSessionCounter() *sessionCounter {
	return &sessionCounter{}
}

// Next returns the next session id in sequence.
func (c *sessionCounter) Next() someip.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	if c.next == 0 {
		c.next = 1
	}
	return c.next
}
