// Package transport moves JSON payloads between pipeline stages with at-least-once delivery.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("transport closed")

// Message is a payload plus string attributes.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Handler processes one delivery. Returning nil acknowledges it; returning an error asks
// the transport to redeliver.
type Handler func(ctx context.Context, data []byte) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Subscriber delivers messages from a subscription until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, subscription string, handler Handler) error
}

// Bus is a Publisher and Subscriber that owns its connections.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Bindings maps a subscription name to the topic it consumes.
type Bindings map[string]string
