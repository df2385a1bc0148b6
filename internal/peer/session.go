package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"game-session-hub/internal/model"
)

// Role is the side a session plays.
type Role string

// Session roles.
const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

var (
	// ErrRoleConflict is returned when a host tries to dial or a guest tries
	// to host on the same session.
	ErrRoleConflict = errors.New("session already has the other role")
	// ErrEndpointOpen is returned by CreateEndpoint on an open endpoint.
	ErrEndpointOpen = errors.New("endpoint already open")
	// ErrEndpointFailed wraps transport failures while opening an endpoint.
	ErrEndpointFailed = errors.New("failed to open endpoint")
	// ErrConnectFailed wraps dial failures and channels that close before
	// opening.
	ErrConnectFailed = errors.New("failed to connect to peer")
)

// link is one connection attempt and its lifecycle.
type link struct {
	conn      Conn
	opened    chan struct{}
	closed    chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
	announced bool // guarded by Session.mu
}

func newLink(c Conn) *link {
	return &link{conn: c, opened: make(chan struct{}), closed: make(chan struct{})}
}

func (l *link) markOpen()   { l.openOnce.Do(func() { close(l.opened) }) }
func (l *link) markClosed() { l.closeOnce.Do(func() { close(l.closed) }) }

func (l *link) wasOpened() bool {
	select {
	case <-l.opened:
		return true
	default:
		return false
	}
}

// Session owns at most one endpoint and one connection.
//
// Handlers are single-slot: registering OnMessage, OnConnected or
// OnDisconnected again replaces the previous handler. Handlers run outside
// the session lock and may call back into the session.
type Session struct {
	transport Transport
	now       func() time.Time

	mu             sync.Mutex
	role           Role
	endpoint       Endpoint
	link           *link
	onMessage      func(model.PeerMessage)
	onConnected    func()
	onDisconnected func()
}

// NewSession creates an idle session over t.
func NewSession(t Transport) *Session {
	return &Session{transport: t, now: time.Now}
}

// CreateEndpoint opens a host endpoint and returns its id. The first inbound
// connection is accepted; later ones are refused while it is active.
func (s *Session) CreateEndpoint(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.role == RoleGuest {
		s.mu.Unlock()
		return "", ErrRoleConflict
	}
	if s.endpoint != nil {
		s.mu.Unlock()
		return "", ErrEndpointOpen
	}
	s.mu.Unlock()

	ep, err := s.transport.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEndpointFailed, err)
	}

	s.mu.Lock()
	if s.endpoint != nil {
		s.mu.Unlock()
		_ = ep.Close()
		return "", ErrEndpointOpen
	}
	s.endpoint = ep
	s.role = RoleHost
	s.mu.Unlock()

	ep.OnConnection(s.accept)
	log.Info().Str("endpoint_id", ep.ID()).Msg("Hosting peer endpoint")
	return ep.ID(), nil
}

func (s *Session) accept(c Conn) {
	s.mu.Lock()
	if s.role != RoleHost || s.link != nil {
		s.mu.Unlock()
		log.Debug().Str("remote_id", c.RemoteID()).Msg("Refusing extra inbound connection")
		_ = c.Close()
		return
	}
	l := newLink(c)
	s.link = l
	s.mu.Unlock()

	log.Info().Str("remote_id", c.RemoteID()).Msg("Guest connected to endpoint")
	s.wire(l)
}

// ConnectToEndpoint opens a guest endpoint, dials host over a reliable
// channel and returns once the channel is open.
func (s *Session) ConnectToEndpoint(ctx context.Context, host string) error {
	s.mu.Lock()
	if s.role == RoleHost {
		s.mu.Unlock()
		return ErrRoleConflict
	}
	if s.link != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: already connected to %s", ErrConnectFailed, s.link.conn.RemoteID())
	}
	ep := s.endpoint
	s.mu.Unlock()

	if ep == nil {
		opened, err := s.transport.Open(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEndpointFailed, err)
		}
		s.mu.Lock()
		s.endpoint = opened
		s.role = RoleGuest
		s.mu.Unlock()
		ep = opened
	}

	conn, err := ep.Dial(ctx, host, true)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	l := newLink(conn)
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
	s.wire(l)

	select {
	case <-l.opened:
		log.Info().Str("remote_id", host).Msg("Connected to host endpoint")
		return nil
	case <-l.closed:
		s.drop(l)
		return fmt.Errorf("%w: channel closed before opening", ErrConnectFailed)
	case <-ctx.Done():
		s.drop(l)
		_ = conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, ctx.Err())
	}
}

// wire installs the connection handlers and then checks whether the channel
// opened before they were in place.
func (s *Session) wire(l *link) {
	l.conn.SetHandlers(ConnHandlers{
		OnOpen: func() {
			l.markOpen()
			s.announce(l)
		},
		OnData:  func(data []byte) { s.receive(l, data) },
		OnClose: func() { s.closed(l) },
		OnError: func(err error) {
			log.Warn().Err(err).Str("remote_id", l.conn.RemoteID()).Msg("Peer connection error")
		},
	})
	if l.conn.IsOpen() {
		l.markOpen()
		s.announce(l)
	}
}

// announce fires OnConnected at most once per connection, and only when a
// handler is registered and the connection is current and open.
func (s *Session) announce(l *link) {
	s.mu.Lock()
	cb := s.onConnected
	if cb == nil || l.announced || s.link != l || !l.conn.IsOpen() {
		s.mu.Unlock()
		return
	}
	l.announced = true
	s.mu.Unlock()
	cb()
}

func (s *Session) receive(l *link, data []byte) {
	s.mu.Lock()
	cb := s.onMessage
	current := s.link == l
	s.mu.Unlock()
	if !current || cb == nil {
		return
	}

	msg, err := model.DecodePeerMessage(data)
	if err != nil {
		log.Debug().Err(err).Msg("Dropping malformed peer message")
		return
	}
	cb(msg)
}

func (s *Session) closed(l *link) {
	l.markClosed()
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	cb := s.onDisconnected
	s.mu.Unlock()

	log.Info().Str("remote_id", l.conn.RemoteID()).Msg("Peer disconnected")
	if cb != nil && l.wasOpened() {
		cb()
	}
}

func (s *Session) drop(l *link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
}

// OnMessage registers the message handler.
func (s *Session) OnMessage(fn func(model.PeerMessage)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnConnected registers the connected handler. If the connection is
// already open the handler runs before OnConnected returns.
func (s *Session) OnConnected(fn func()) {
	s.mu.Lock()
	s.onConnected = fn
	l := s.link
	s.mu.Unlock()
	if l != nil {
		s.announce(l)
	}
}

// OnDisconnected registers the handler for connections closed by the
// remote side or the transport. Disconnect does not invoke it.
func (s *Session) OnDisconnected(fn func()) {
	s.mu.Lock()
	s.onDisconnected = fn
	s.mu.Unlock()
}

// SendMessage wraps payload in an envelope stamped with the current time
// and sends it. Returns false when not connected or the send fails.
func (s *Session) SendMessage(t model.MessageType, payload any) bool {
	if !t.Valid() {
		return false
	}
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil || !l.conn.IsOpen() {
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Debug().Err(err).Str("type", string(t)).Msg("Failed to encode peer payload")
		return false
	}
	data, err := json.Marshal(model.PeerMessage{Type: t, Payload: raw, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return false
	}
	if err := l.conn.Send(data); err != nil {
		log.Debug().Err(err).Str("type", string(t)).Msg("Peer send failed")
		return false
	}
	return true
}

// IsConnected reports whether the channel is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	return l != nil && l.conn.IsOpen()
}

// EndpointID returns the local endpoint id, or "" before one is open.
func (s *Session) EndpointID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.ID()
}

// RemoteID returns the connected peer's endpoint id, or "".
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.conn.RemoteID()
}

// Role returns the session role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Disconnect closes the connection and the endpoint and resets the session
// so it can host or join again. Safe to call any number of times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	l, ep := s.link, s.endpoint
	s.link, s.endpoint, s.role = nil, nil, RoleNone
	s.mu.Unlock()

	if l != nil {
		_ = l.conn.Close()
		l.markClosed()
	}
	if ep != nil {
		_ = ep.Close()
	}
}
