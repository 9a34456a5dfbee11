package transport

import "github.com/danmuck/handstream/internal/protocol/envelope"

// Sink receives every envelope decoded by a receive loop.
type Sink interface {
	Publish(env envelope.Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(env envelope.Envelope) error

func (f SinkFunc) Publish(env envelope.Envelope) error {
	return f(env)
}

const (
	channelReliable = "reliable"
	channelFast     = "fast"

	directionSent     = "sent"
	directionReceived = "received"
)
