// Package messaging provides the broadcast channels tabs talk over. A
// Transport opens named channels; every payload posted on a channel is
// delivered to every other subscriber of that name, never back to the poster,
// in the order each poster sent them.
package messaging

import "errors"

var (
	// ErrClosed is returned by Post on a closed channel.
	ErrClosed = errors.New("messaging: channel closed")
	// ErrTooLarge is returned by Post when a payload exceeds MaxPayload.
	ErrTooLarge = errors.New("messaging: payload too large")
)

// Handler receives raw payloads. Calls for one channel never overlap.
type Handler func(data []byte)

// Channel is one subscription to a named broadcast channel.
type Channel interface {
	Post(data []byte) error
	Close() error
}

// Bounded is implemented by channels that cap the size of one payload.
type Bounded interface {
	MaxPayload() int
}

// MaxPayload returns the payload cap of ch in bytes, or 0 if it has none.
func MaxPayload(ch Channel) int {
	if b, ok := ch.(Bounded); ok {
		return b.MaxPayload()
	}
	return 0
}

// Transport opens broadcast channels.
type Transport interface {
	Open(name string, handler Handler) (Channel, error)
}
