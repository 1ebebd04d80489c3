package broadcast

import (
	"context"
	"errors"
)

// ErrChannelDown is returned by Open when the channel cannot be joined.
var ErrChannelDown = errors.New("broadcast channel unavailable")

// ErrConnClosed is returned by Send on a closed connection.
var ErrConnClosed = errors.New("broadcast connection closed")

// Transport opens connections to named broadcast channels.
type Transport interface {
	Open(ctx context.Context, channel string) (Conn, error)
}

// Conn is one replica's membership in a channel. Messages sent are
// delivered to every other member; a member never receives its own.
type Conn interface {
	// Send publishes a payload to the other members.
	Send(ctx context.Context, payload []byte) error

	// Receive yields payloads from other members. The channel is closed
	// when the connection is lost or closed.
	Receive() <-chan []byte

	// Close leaves the channel.
	Close() error
}
