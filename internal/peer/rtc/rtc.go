// Package rtc is a WebRTC data-channel transport. Endpoints register with a
// signal broker; offers and answers carry complete ICE candidate sets, so
// trickled candidates are not exchanged.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"game-session-hub/internal/peer"
	"game-session-hub/internal/signal"
)

// ErrNotOpen is returned by Send before the channel opens or after it
// closes.
var ErrNotOpen = errors.New("data channel not open")

// Transport opens WebRTC endpoints through a signal broker.
type Transport struct {
	signalURL string
	config    webrtc.Configuration
}

// New creates a transport. iceServers are STUN/TURN URLs; none restricts
// connectivity to host candidates.
func New(signalURL string, iceServers []string) *Transport {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Transport{signalURL: signalURL, config: cfg}
}

// Open registers a new endpoint with the broker.
func (t *Transport) Open(ctx context.Context) (peer.Endpoint, error) {
	client, err := signal.Dial(ctx, t.signalURL, "")
	if err != nil {
		return nil, err
	}
	ep := &Endpoint{
		config: t.config,
		client: client,
		conns:  make(map[string]*Conn),
	}
	go ep.dispatch()
	return ep, nil
}

// Endpoint is one registered peer.
type Endpoint struct {
	config webrtc.Configuration
	client *signal.Client

	mu     sync.Mutex
	onConn func(peer.Conn)
	conns  map[string]*Conn
}

// ID returns the broker-assigned id.
func (e *Endpoint) ID() string { return e.client.ID() }

// OnConnection registers the inbound connection handler.
func (e *Endpoint) OnConnection(fn func(peer.Conn)) {
	e.mu.Lock()
	e.onConn = fn
	e.mu.Unlock()
}

// Dial offers a data channel to remote. The channel is ordered; when
// reliable is false it also drops retransmissions.
func (e *Endpoint) Dial(ctx context.Context, remote string, reliable bool) (peer.Conn, error) {
	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ordered := true
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if !reliable {
		var none uint16
		init.MaxRetransmits = &none
	}
	dc, err := pc.CreateDataChannel("game-"+uuid.NewString(), init)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	c := e.newConn(remote, pc)
	c.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	local, err := e.describe(ctx, pc, offer)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := e.send(signal.TypeOffer, remote, local); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}
	return c, nil
}

// describe sets the local description and waits for ICE gathering to
// finish so the description carries every candidate.
func (e *Endpoint) describe(ctx context.Context, pc *webrtc.PeerConnection, sd webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(sd); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}

func (e *Endpoint) send(t signal.MessageType, dst string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.client.Send(signal.Message{Type: t, Dst: dst, Payload: raw})
}

func (e *Endpoint) newConn(remote string, pc *webrtc.PeerConnection) *Conn {
	c := &Conn{remote: remote, pc: pc, endpoint: e}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.shutdown(false)
		}
	})

	e.mu.Lock()
	if old := e.conns[remote]; old != nil {
		defer old.shutdown(false)
	}
	e.conns[remote] = c
	e.mu.Unlock()
	return c
}

func (e *Endpoint) forget(c *Conn) {
	e.mu.Lock()
	if e.conns[c.remote] == c {
		delete(e.conns, c.remote)
	}
	e.mu.Unlock()
}

func (e *Endpoint) conn(remote string) *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[remote]
}

func (e *Endpoint) dispatch() {
	for m := range e.client.Messages() {
		switch m.Type {
		case signal.TypeOffer:
			e.accept(m)
		case signal.TypeAnswer:
			c := e.conn(m.Src)
			if c == nil {
				continue
			}
			var sd webrtc.SessionDescription
			if err := json.Unmarshal(m.Payload, &sd); err != nil {
				log.Warn().Err(err).Str("remote_id", m.Src).Msg("Malformed answer")
				continue
			}
			if err := c.pc.SetRemoteDescription(sd); err != nil {
				log.Warn().Err(err).Str("remote_id", m.Src).Msg("Failed to apply answer")
				c.shutdown(true)
			}
		case signal.TypeLeave, signal.TypeExpire:
			if c := e.conn(m.Src); c != nil {
				c.shutdown(false)
			}
		case signal.TypeCandidate:
			log.Debug().Str("remote_id", m.Src).Msg("Ignoring trickled candidate")
		}
	}

	e.mu.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()
	for _, c := range conns {
		c.shutdown(false)
	}
}

func (e *Endpoint) accept(m signal.Message) {
	e.mu.Lock()
	handler := e.onConn
	e.mu.Unlock()
	if handler == nil {
		_ = e.send(signal.TypeLeave, m.Src, nil)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(m.Payload, &offer); err != nil {
		log.Warn().Err(err).Str("remote_id", m.Src).Msg("Malformed offer")
		return
	}
	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create peer connection")
		return
	}
	c := e.newConn(m.Src, pc)
	pc.OnDataChannel(c.attach)

	if err := pc.SetRemoteDescription(offer); err != nil {
		log.Warn().Err(err).Str("remote_id", m.Src).Msg("Failed to apply offer")
		c.shutdown(true)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_id", m.Src).Msg("Failed to create answer")
		c.shutdown(true)
		return
	}

	handler(c)

	local, err := e.describe(context.Background(), pc, answer)
	if err != nil {
		c.shutdown(true)
		return
	}
	if err := e.send(signal.TypeAnswer, m.Src, local); err != nil {
		log.Warn().Err(err).Str("remote_id", m.Src).Msg("Failed to send answer")
		c.shutdown(false)
	}
}

// Close closes every connection and leaves the broker.
func (e *Endpoint) Close() error {
	return e.client.Close()
}

// Conn is one WebRTC data channel.
type Conn struct {
	remote   string
	pc       *webrtc.PeerConnection
	endpoint *Endpoint

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	handlers peer.ConnHandlers
	closed   bool
}

func (c *Conn) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = dc.Close()
		return
	}
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		if h := c.currentHandlers(); h.OnOpen != nil {
			h.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if h := c.currentHandlers(); h.OnData != nil {
			h.OnData(msg.Data)
		}
	})
	dc.OnClose(func() { c.shutdown(false) })
	dc.OnError(func(err error) {
		if h := c.currentHandlers(); h.OnError != nil {
			h.OnError(err)
		}
	})
}

// RemoteID returns the remote endpoint id.
func (c *Conn) RemoteID() string { return c.remote }

// IsOpen reports whether the data channel is open.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.dc != nil && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// SetHandlers replaces the event handlers.
func (c *Conn) SetHandlers(h peer.ConnHandlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Conn) currentHandlers() peer.ConnHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// Send writes data to the channel.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	dc, closed := c.dc, c.closed
	c.mu.Unlock()
	if closed || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return dc.Send(data)
}

// Close closes the channel and tells the remote side to leave.
func (c *Conn) Close() error {
	c.shutdown(true)
	return nil
}

// shutdown is re-entrant: closing the channel or the peer connection may
// call back into it.
func (c *Conn) shutdown(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dc, h := c.dc, c.handlers
	c.mu.Unlock()

	c.endpoint.forget(c)
	if notify {
		_ = c.endpoint.send(signal.TypeLeave, c.remote, nil)
	}
	if dc != nil {
		_ = dc.Close()
	}
	_ = c.pc.Close()
	if h.OnClose != nil {
		h.OnClose()
	}
}
