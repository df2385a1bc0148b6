// Package memnet is an in-process peer transport. Connections open
// asynchronously, like a real network, and deliver data in send order.
package memnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"game-session-hub/internal/peer"
)

// Errors returned by the network.
var (
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrNotAccepting  = errors.New("peer is not accepting connections")
	ErrIDTaken       = errors.New("endpoint id already taken")
	ErrNotOpen       = errors.New("connection not open")
	ErrEndpointClose = errors.New("endpoint closed")
)

const inboxSize = 256

// Network routes dials between endpoints it opened.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// New creates an empty network.
func New() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Open opens an endpoint with a random id.
func (n *Network) Open(ctx context.Context) (peer.Endpoint, error) {
	return n.OpenWithID(ctx, uuid.NewString())
}

// OpenWithID opens an endpoint with a chosen id.
func (n *Network) OpenWithID(ctx context.Context, id string) (peer.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIDTaken, id)
	}
	ep := &Endpoint{net: n, id: id}
	n.endpoints[id] = ep
	return ep, nil
}

func (n *Network) lookup(id string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *Network) remove(id string) {
	n.mu.Lock()
	delete(n.endpoints, id)
	n.mu.Unlock()
}

// Endpoint is one addressable peer on a Network.
type Endpoint struct {
	net *Network
	id  string

	mu     sync.Mutex
	onConn func(peer.Conn)
	conns  []*Conn
	closed bool
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string { return e.id }

// OnConnection registers the inbound connection handler.
func (e *Endpoint) OnConnection(fn func(peer.Conn)) {
	e.mu.Lock()
	e.onConn = fn
	e.mu.Unlock()
}

// Dial connects to remote. Both ends open shortly after the remote handler
// has received its side. The reliable flag is accepted for interface
// compatibility; delivery is always reliable and ordered.
func (e *Endpoint) Dial(ctx context.Context, remote string, reliable bool) (peer.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEndpointClose
	}

	target := e.net.lookup(remote)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, remote)
	}
	target.mu.Lock()
	handler := target.onConn
	target.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAccepting, remote)
	}

	local := newConn(e.id, remote)
	far := newConn(remote, e.id)
	local.peer, far.peer = far, local
	e.track(local)
	target.track(far)

	go func() {
		handler(far)
		far.open()
		local.open()
	}()
	return local, nil
}

func (e *Endpoint) track(c *Conn) {
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
}

// Close closes every connection of the endpoint and releases its id.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := e.conns
	e.conns = nil
	e.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	e.net.remove(e.id)
	return nil
}

// Conn is one side of an in-process channel.
type Conn struct {
	local, remote string
	peer          *Conn

	mu       sync.Mutex
	handlers peer.ConnHandlers
	isOpen   bool
	isClosed bool
	drained  bool // deliver has emptied the inbox after close
	notified bool // OnClose has run

	inbox   chan []byte
	closing chan struct{}
	once    sync.Once
}

func newConn(local, remote string) *Conn {
	c := &Conn{
		local:   local,
		remote:  remote,
		inbox:   make(chan []byte, inboxSize),
		closing: make(chan struct{}),
	}
	go c.deliver()
	return c
}

// RemoteID returns the id of the other endpoint.
func (c *Conn) RemoteID() string { return c.remote }

// IsOpen reports whether data can be sent.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

// SetHandlers replaces the event handlers.
// If the connection already finished closing without an OnClose handler,
// h.OnClose runs before SetHandlers returns.
func (c *Conn) SetHandlers(h peer.ConnHandlers) {
	c.mu.Lock()
	c.handlers = h
	late := c.drained && !c.notified && h.OnClose != nil
	if late {
		c.notified = true
	}
	c.mu.Unlock()
	if late {
		h.OnClose()
	}
}

func (c *Conn) currentHandlers() peer.ConnHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *Conn) open() {
	c.mu.Lock()
	if c.isClosed || c.isOpen {
		c.mu.Unlock()
		return
	}
	c.isOpen = true
	h := c.handlers
	c.mu.Unlock()
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

// Send queues data for the other side. Data accepted before either side
// closes is delivered before the remote OnClose.
func (c *Conn) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	buf := append([]byte(nil), data...)
	select {
	case c.peer.inbox <- buf:
		return nil
	case <-c.peer.closing:
		return ErrNotOpen
	}
}

// deliver hands queued data to OnData in order. After close it drains
// whatever was already queued and then fires OnClose.
func (c *Conn) deliver() {
	for {
		select {
		case data := <-c.inbox:
			c.handle(data)
		case <-c.closing:
			for {
				select {
				case data := <-c.inbox:
					c.handle(data)
				default:
					c.finish()
					return
				}
			}
		}
	}
}

func (c *Conn) handle(data []byte) {
	if h := c.currentHandlers(); h.OnData != nil {
		h.OnData(data)
	}
}

func (c *Conn) finish() {
	c.mu.Lock()
	c.drained = true
	h := c.handlers
	if h.OnClose != nil {
		c.notified = true
	}
	c.mu.Unlock()
	if h.OnClose != nil {
		h.OnClose()
	}
}

// Close closes both sides. Each side's OnClose fires once, after the data
// queued for it.
func (c *Conn) Close() error {
	c.shutdown()
	if c.peer != nil {
		c.peer.shutdown()
	}
	return nil
}

func (c *Conn) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.isOpen = false
		c.isClosed = true
		c.mu.Unlock()
		close(c.closing)
	})
}
