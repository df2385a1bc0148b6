// Package peer manages a two-party game session over a reliable, ordered
// data channel. The channel itself comes from a Transport; memnet provides
// an in-process one and rtc a WebRTC one.
package peer

import "context"

// Transport opens local endpoints.
type Transport interface {
	Open(ctx context.Context) (Endpoint, error)
}

// Endpoint is a local, addressable peer. Its ID is assigned by the
// transport once the endpoint is open.
type Endpoint interface {
	ID() string
	// Dial starts a connection to remote. The returned Conn may not be
	// open yet; OnOpen fires when it is.
	Dial(ctx context.Context, remote string, reliable bool) (Conn, error)
	// OnConnection registers the handler for inbound connections.
	OnConnection(fn func(Conn))
	Close() error
}

// ConnHandlers receives connection events. Nil fields are ignored.
type ConnHandlers struct {
	OnOpen  func()
	OnData  func([]byte)
	OnClose func()
	OnError func(error)
}

// Conn is one data channel between two endpoints.
type Conn interface {
	RemoteID() string
	IsOpen() bool
	Send(data []byte) error
	// SetHandlers replaces the event handlers. Events raised before the
	// first call are not replayed, so callers check IsOpen afterwards.
	SetHandlers(h ConnHandlers)
	Close() error
}
