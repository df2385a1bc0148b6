package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const inboxSize = 64

// Client is one endpoint registered with a broker.
type Client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbox   chan Message
	done    chan struct{}
	once    sync.Once
}

// Dial registers an endpoint at the broker URL and waits for the broker to
// confirm it. An empty id lets the broker choose one.
func Dial(ctx context.Context, brokerURL, id string) (*Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signal url: %w", err)
	}
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial signal broker: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoOpen, err)
	}
	switch first.Type {
	case TypeOpen:
	case TypeIDTaken:
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrIDTaken, first.Dst)
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: got %s", ErrNoOpen, first.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		id:    first.Dst,
		conn:  conn,
		inbox: make(chan Message, inboxSize),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ID returns the id confirmed by the broker.
func (c *Client) ID() string { return c.id }

// Messages delivers inbound messages in arrival order. The channel is
// closed when the connection ends.
func (c *Client) Messages() <-chan Message { return c.inbox }

// Done is closed when the client stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send writes m to the broker.
func (c *Client) Send(m Message) error {
	select {
	case <-c.done:
		return ErrClientClose
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(m)
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	defer c.Close()

	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			select {
			case <-c.done:
			default:
				log.Debug().Err(err).Str("endpoint_id", c.id).Msg("Signal connection ended")
			}
			return
		}
		select {
		case c.inbox <- m:
		case <-c.done:
			return
		}
	}
}
