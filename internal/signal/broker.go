package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	maxMessage   = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type endpoint struct {
	id   string
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func (e *endpoint) stop() {
	e.once.Do(func() { close(e.done) })
}

// enqueue delivers without blocking; a stalled endpoint loses the message.
func (e *endpoint) enqueue(m Message) bool {
	select {
	case e.send <- m:
		return true
	case <-e.done:
		return false
	default:
		log.Warn().Str("endpoint_id", e.id).Str("type", string(m.Type)).Msg("Signal endpoint lagging, message dropped")
		return false
	}
}

// Broker registers endpoints and relays messages between them.
type Broker struct {
	mu           sync.RWMutex
	endpoints    map[string]*endpoint
	pingInterval time.Duration
}

// NewBroker creates a broker. Connections are pinged every pingInterval
// and dropped after two missed pongs.
func NewBroker(pingInterval time.Duration) *Broker {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &Broker{endpoints: make(map[string]*endpoint), pingInterval: pingInterval}
}

// Len returns the number of registered endpoints.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

// ServeHTTP upgrades the request and serves one endpoint. The endpoint id
// is taken from the id query parameter, or generated when absent.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Signal upgrade failed")
		return
	}
	defer conn.Close()

	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	ep := &endpoint{id: id, conn: conn, send: make(chan Message, sendBuffer), done: make(chan struct{})}
	if !b.register(ep) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteJSON(Message{Type: TypeIDTaken, Dst: id})
		return
	}
	defer b.unregister(ep)

	ep.enqueue(Message{Type: TypeOpen, Dst: id})
	log.Info().Str("endpoint_id", id).Msg("Signal endpoint open")

	go b.readLoop(ep)
	b.writeLoop(ep)
}

func (b *Broker) register(ep *endpoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.endpoints[ep.id]; taken {
		return false
	}
	b.endpoints[ep.id] = ep
	return true
}

func (b *Broker) unregister(ep *endpoint) {
	ep.stop()
	b.mu.Lock()
	if b.endpoints[ep.id] == ep {
		delete(b.endpoints, ep.id)
	}
	b.mu.Unlock()
	log.Info().Str("endpoint_id", ep.id).Msg("Signal endpoint closed")
}

func (b *Broker) lookup(id string) *endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[id]
}

func (b *Broker) writeLoop(ep *endpoint) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case m := <-ep.send:
			_ = ep.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ep.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = ep.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ep.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ep.done:
			return
		}
	}
}

func (b *Broker) readLoop(ep *endpoint) {
	defer ep.stop()

	deadline := 2*b.pingInterval + writeTimeout
	ep.conn.SetReadLimit(maxMessage)
	_ = ep.conn.SetReadDeadline(time.Now().Add(deadline))
	ep.conn.SetPongHandler(func(string) error {
		return ep.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var m Message
		if err := ep.conn.ReadJSON(&m); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				ep.enqueue(Message{Type: TypeError, Payload: json.RawMessage(`"malformed message"`)})
				continue
			}
			return
		}
		_ = ep.conn.SetReadDeadline(time.Now().Add(deadline))
		b.route(ep, m)
	}
}

func (b *Broker) route(from *endpoint, m Message) {
	if m.Type == TypeHeartbeat {
		return
	}
	if !m.Type.Relayed() || m.Dst == "" {
		from.enqueue(Message{Type: TypeError, Payload: json.RawMessage(`"unroutable message"`)})
		return
	}

	m.Src = from.id
	to := b.lookup(m.Dst)
	if to == nil {
		if m.Type != TypeLeave {
			from.enqueue(Message{Type: TypeExpire, Src: m.Dst})
		}
		return
	}
	to.enqueue(m)
}
