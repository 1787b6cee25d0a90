package upstream

import (
	"context"

	"github.com/koshedutech/market-broker/internal/downstream/protocol"
)

// Conn is the minimal websocket surface the supervisors need, so tests can
// inject an in-memory fake instead of dialing a real socket.
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Broadcaster fans a frame out to every connected renderer. Implemented by
// downstream.Hub; kept as a narrow interface here so upstream only depends
// on the wire-format package, not the connection-handling one.
type Broadcaster interface {
	Broadcast(msg protocol.Outbound)
}
