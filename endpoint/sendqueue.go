// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import "sync"

// outboundFrame is one queued write: payload bytes bound for a specific
// destination, queued by UDPServerEndpoint.SendTo under the target's
// EndpointDefinition.Key() and written out by UDPServerEndpoint.drain.
type outboundFrame struct {
	data  []byte
	flush bool
}

// sendQueue is a strict-FIFO per-destination outbound queue, one per
// remote target, with at most one send outstanding at a time. It backs
// UDPServerEndpoint.SendTo, where a single socket fans out to many
// destinations and each one needs its own ordered backlog; the TCP
// server endpoint doesn't need it since each peer already has its own
// connection and writeMu serializes directly onto that connection.
// Grounded on the teacher's mwriter pool (core_socket.go) and
// majordomo.Broker's channel-buffered send path (majordomo/broker.go's
// workerCh/clientCh).
type sendQueue struct {
	mu      sync.Mutex
	pending []outboundFrame
	sending bool
}

// push appends a frame and reports whether the caller must now start a
// send loop (true the first time a previously empty, idle queue gets an
// item; false if a send loop is already draining this queue).
func (q *sendQueue) push(data []byte, flush bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, outboundFrame{data: data, flush: flush})
	if q.sending {
		return false
	}
	q.sending = true
	return true
}

// next pops the head frame for the send loop to write. It returns
// ok=false once the queue has drained, at which point the caller must
// stop its send loop; the next push call will restart one.
func (q *sendQueue) next() (outboundFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.sending = false
		return outboundFrame{}, false
	}
	f := q.pending[0]
	q.pending = q.pending[1:]
	return f, true
}

// drop discards all pending frames, used when a send error or a close
// means this destination's queue can never be drained.
func (q *sendQueue) drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.sending = false
}
