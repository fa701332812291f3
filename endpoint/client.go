// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/destiny/someip"
)

// defaultDialRetry and defaultDialMaxRetries mirror the teacher's
// WithDialerRetry/WithDialerMaxRetries defaults (core_socket.go
// defaultRetry/defaultMaxRetries), reused here for the client endpoint's
// own fixed-delay dial retry loop.
const (
	defaultDialRetry      = 250 * time.Millisecond
	defaultDialMaxRetries = 10
)

// ClientEndpoint is the dial side of a connection to a remote provider:
// the routing manager creates one the first time a local client sends to
// a remote target it has no client endpoint for yet (spec.md §4.4's "client endpoints" peer of the UDP/TCP server
// endpoints). One ClientEndpoint exists per (remote address, remote
// port, reliable?, owning client) per the key invariant in spec.md §3.
type ClientEndpoint struct {
	remote   someip.EndpointDefinition
	host     Host
	log      *someip.Logger
	retry    time.Duration
	maxRetry int

	mu   sync.Mutex
	conn net.Conn
	udp  *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
}

// ClientOption configures a ClientEndpoint.
type ClientOption func(*ClientEndpoint)

// WithClientLogger sets the endpoint's logger.
func WithClientLogger(l *someip.Logger) ClientOption {
	return func(e *ClientEndpoint) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClientDialRetry overrides the delay between failed dial attempts.
func WithClientDialRetry(d time.Duration) ClientOption {
	return func(e *ClientEndpoint) { e.retry = d }
}

// WithClientMaxRetries overrides the maximum number of dial retries
// (-1 means retry indefinitely), following WithDialerMaxRetries.
func WithClientMaxRetries(n int) ClientOption {
	return func(e *ClientEndpoint) { e.maxRetry = n }
}

// NewClientEndpoint dials remote, retrying after a fixed delay on failure, and
// returns once connected (for TCP) or once the local UDP socket is ready
// to send (UDP has no connection to establish).
func NewClientEndpoint(remote someip.EndpointDefinition, host Host, opts ...ClientOption) (*ClientEndpoint, error) {
	e := &ClientEndpoint{
		remote:   remote,
		host:     host,
		log:      someip.DefaultLogger,
		retry:    defaultDialRetry,
		maxRetry: defaultDialMaxRetries,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if remote.Reliable {
		if err := e.dialTCP(); err != nil {
			return nil, err
		}
		go e.readLoopTCP()
	} else {
		udpConn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return nil, fmt.Errorf("someip/endpoint: client udp socket: %w", err)
		}
		e.udp = udpConn
		go e.readLoopUDP()
	}
	return e, nil
}

func (e *ClientEndpoint) dialTCP() error {
	addr := net.TCPAddrFromAddrPort(netip.AddrPortFrom(e.remote.Address, e.remote.Port))
	var (
		conn    net.Conn
		err     error
		retries int
	)
	for {
		conn, err = net.DialTCP("tcp4", nil, addr)
		if err == nil {
			break
		}
		if e.maxRetry != -1 && retries >= e.maxRetry {
			return fmt.Errorf("someip/endpoint: dial %s: %w (retry=%v)", e.remote, err, e.retry)
		}
		retries++
		select {
		case <-time.After(e.retry):
		case <-e.closed:
			return someip.ErrClosed
		}
	}
	e.conn = conn
	return nil
}

func (e *ClientEndpoint) readLoopTCP() {
	prefix := make([]byte, 8)
	for {
		if _, err := readFull(e.conn, prefix); err != nil {
			return
		}
		size := someip.GetMessageSize(prefix, len(prefix))
		if size < 16 {
			e.log.Error("client endpoint %s: bad length field", e.remote)
			return
		}
		msg := make([]byte, size)
		copy(msg, prefix)
		if _, err := readFull(e.conn, msg[8:]); err != nil {
			return
		}
		e.host.OnMessage(msg, int(size), e, netip.AddrPortFrom(e.remote.Address, e.remote.Port), e.remote.Address)
	}
}

func (e *ClientEndpoint) readLoopUDP() {
	buf := make([]byte, MaxUDPMessageSize)
	for {
		n, err := e.udp.Read(buf)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			continue
		}
		if n > 0 {
			e.frameResponse(buf[:n])
		}
	}
}

// frameResponse frames a datagram received over a client UDP socket the
// same way a server endpoint would, since SOME/IP's coalescing rules are
// per-datagram, not per-role: this includes UDPServerEndpoint.frameDatagram's
// SD carve-out (spec.md §4.3) -- an SD message is delivered only when its
// size is at least the number of bytes that follow it in the datagram;
// an SD message shorter than what trails it is logged and dropped, and
// framing goes on with the rest of the datagram.
func (e *ClientEndpoint) frameResponse(buf []byte) {
	i := 0
	remaining := len(buf)
	for remaining > 0 {
		size := int(someip.GetMessageSize(buf[i:], remaining))
		if size > 8 && size <= remaining {
			remaining -= size
			service := someip.ServiceID(binary.BigEndian.Uint16(buf[i : i+2]))
			if service != someip.SDServiceID || (size > 8 && size >= remaining) {
				e.host.OnMessage(buf[i:i+size], size, e, netip.AddrPortFrom(e.remote.Address, e.remote.Port), e.remote.Address)
			} else {
				e.log.Error("client endpoint %s: SD message shorter than the payload trailing it", e.remote)
			}
			i += size
		} else {
			e.log.Error("client endpoint %s: bad length field", e.remote)
			return
		}
	}
}

// SendTo sends data to the endpoint's remote target. ClientEndpoint
// serves exactly one remote, so target is expected to match it; this
// signature is kept identical to the server endpoints' so the routing
// manager can hold either behind the Endpoint interface.
func (e *ClientEndpoint) SendTo(target someip.EndpointDefinition, data []byte, flush bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote.Reliable {
		if e.conn == nil {
			return someip.ErrClosed
		}
		_, err := e.conn.Write(data)
		return err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(target.Address, target.Port))
	_, err := e.udp.WriteToUDP(data, addr)
	return err
}

// LocalPort returns the locally bound ephemeral port this client dialed
// or sent from.
func (e *ClientEndpoint) LocalPort() uint16 {
	if e.remote.Reliable {
		if e.conn != nil {
			return uint16(e.conn.LocalAddr().(*net.TCPAddr).Port)
		}
		return 0
	}
	if e.udp != nil {
		return uint16(e.udp.LocalAddr().(*net.UDPAddr).Port)
	}
	return 0
}

// Reliable reports the transport this client endpoint uses.
func (e *ClientEndpoint) Reliable() bool { return e.remote.Reliable }

// Close tears down the dial-side connection.
func (e *ClientEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.conn != nil {
			err = e.conn.Close()
		}
		if e.udp != nil {
			err = e.udp.Close()
		}
	})
	return err
}

var _ Endpoint = (*ClientEndpoint)(nil)
