// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/destiny/someip"
)

// TCPServerEndpoint accepts stream connections on one bound local
// address. Unlike UDP, TCP has no datagram boundary, so each connection
// runs its own frame reader that reads exactly one message's worth of
// bytes at a time straight off the stream, rather than splitting one
// read into several messages (spec.md §4.4). Grounded on the teacher's
// accept-loop-plus-per-connection-goroutine shape in core_socket.go's
// accept/Conn pairing.
type TCPServerEndpoint struct {
	listener net.Listener
	host     Host
	port     uint16
	log      *someip.Logger

	mu    sync.Mutex
	conns map[string]*tcpConnection

	closeOnce sync.Once
	closed    chan struct{}
}

// TCPOption configures a TCPServerEndpoint.
type TCPOption func(*TCPServerEndpoint)

// WithTCPLogger sets the endpoint's logger.
func WithTCPLogger(l *someip.Logger) TCPOption {
	return func(e *TCPServerEndpoint) {
		if l != nil {
			e.log = l
		}
	}
}

// NewTCPServerEndpoint binds a TCP listener at addr.
func NewTCPServerEndpoint(addr netip.AddrPort, host Host, opts ...TCPOption) (*TCPServerEndpoint, error) {
	l, err := net.Listen("tcp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("someip/endpoint: tcp listen %s: %w", addr, err)
	}
	port := uint16(l.Addr().(*net.TCPAddr).Port)

	e := &TCPServerEndpoint{
		listener: l,
		host:     host,
		port:     port,
		log:      someip.DefaultLogger,
		conns:    make(map[string]*tcpConnection),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start launches the accept loop.
func (e *TCPServerEndpoint) Start() {
	go e.acceptLoop()
}

func (e *TCPServerEndpoint) acceptLoop() {
	for {
		c, err := e.listener.Accept()
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			e.log.Warn("tcp endpoint :%d accept error: %v", e.port, err)
			continue
		}
		e.adopt(c)
	}
}

func (e *TCPServerEndpoint) adopt(c net.Conn) {
	remote := c.RemoteAddr().(*net.TCPAddr)
	addr, _ := netip.AddrFromSlice(remote.IP)
	key := netip.AddrPortFrom(addr.Unmap(), uint16(remote.Port)).String()

	conn := newTCPConnection(c, e.host, e, addr.Unmap(), uint16(remote.Port), e.log)

	e.mu.Lock()
	e.conns[key] = conn
	e.mu.Unlock()

	go func() {
		conn.readLoop()
		e.mu.Lock()
		delete(e.conns, key)
		e.mu.Unlock()
	}()
}

// SendTo writes to the connection from target if one is already
// established (the only way a server endpoint has a TCP connection to a
// peer: the peer dialed in). Returns ErrNoEndpoint if no such connection
// exists; the routing manager is expected to fall back to a
// ClientEndpoint it dials itself for providers it has not yet heard from.
func (e *TCPServerEndpoint) SendTo(target someip.EndpointDefinition, data []byte, flush bool) error {
	key := netip.AddrPortFrom(target.Address, target.Port).String()
	e.mu.Lock()
	conn, ok := e.conns[key]
	e.mu.Unlock()
	if !ok {
		return someip.ErrNoEndpoint
	}
	return conn.send(data, flush)
}

// LocalPort returns the bound local port.
func (e *TCPServerEndpoint) LocalPort() uint16 { return e.port }

// Reliable is always true for a TCP endpoint.
func (e *TCPServerEndpoint) Reliable() bool { return true }

// Close stops accepting, closes every connection, and closes the
// listener.
func (e *TCPServerEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.listener.Close()
		e.mu.Lock()
		conns := make([]*tcpConnection, 0, len(e.conns))
		for _, c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.Unlock()
		for _, c := range conns {
			c.close()
		}
	})
	return err
}

var _ Endpoint = (*TCPServerEndpoint)(nil)

// tcpConnection is one accepted TCP socket carrying SOME/IP messages. It
// runs its own read loop, framed with Go's io.Reader-based reads instead
// of asio buffers; outbound writes go straight to the socket under
// writeMu, with no queue of their own.
type tcpConnection struct {
	conn   net.Conn
	host   Host
	ep     Endpoint
	remote netip.Addr
	port   uint16
	log    *someip.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
}

func newTCPConnection(c net.Conn, host Host, ep Endpoint, remote netip.Addr, port uint16, log *someip.Logger) *tcpConnection {
	return &tcpConnection{conn: c, host: host, ep: ep, remote: remote, port: port, log: log}
}

// readLoop reads length-delimited SOME/IP messages directly off the
// stream: first the fixed 8-byte header prefix to learn the declared
// length, then exactly that many more bytes. TCP guarantees byte order
// and completeness, so -- unlike UDP -- there is no coalescing or
// malformed-datagram handling to do here; a short read is simply EOF/an
// error and ends the connection.
func (c *tcpConnection) readLoop() {
	defer c.close()

	prefix := make([]byte, 8)
	for {
		if _, err := readFull(c.conn, prefix); err != nil {
			return
		}
		size := someip.GetMessageSize(prefix, len(prefix))
		if size < 16 {
			c.log.Error("tcp connection %s:%d: bad length field", c.remote, c.port)
			return
		}
		msg := make([]byte, size)
		copy(msg, prefix)
		if _, err := readFull(c.conn, msg[8:]); err != nil {
			return
		}
		destination, _ := netip.AddrFromSlice(localIP(c.conn))
		c.host.OnMessage(msg, int(size), c.ep, netip.AddrPortFrom(c.remote, c.port), destination.Unmap())
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func localIP(c net.Conn) net.IP {
	if a, ok := c.LocalAddr().(*net.TCPAddr); ok {
		return a.IP
	}
	return nil
}

// send writes data to the connection. flush is accepted for symmetry
// with SendTo but TCP writes are always flushed to the kernel
// immediately; there is no user-space FIFO needed for a single writer
// per connection the way there is for UDP's one-socket-many-destinations
// fan-out.
func (c *tcpConnection) send(data []byte, flush bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

func (c *tcpConnection) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}
