// Package broker owns a single logical session to a message broker: connect,
// subscribe (with topic-filter wildcards), publish, and reconnect. It is the
// only package in this repository that talks MQTT wire protocol directly;
// everything above it (rpc, mediator, httpapi) depends on the Client
// interface, never on a concrete broker.
package broker

import "context"

// Message is a decoded message delivered to a subscription handler.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
	QoS     byte
}

// Handler is invoked for every message that matches a subscribed topic
// filter. Multiple handlers may match the same incoming message; each is
// invoked. Handlers must be reentrancy-safe with respect to each other and
// must not block on another RPC call; see the mediator package for how
// command dispatch is moved off this path.
type Handler func(Message)

// Client abstracts the broker operations used by the rest of the system.
// Publish is fire-and-forget (QoS 0 in this system's usage); Subscribe
// accepts MQTT-style topic filters with single-level (+) and multi-level (#)
// wildcards.
type Client interface {
	// Connect blocks until the broker acknowledges the session, or returns
	// an error. Auto-reconnect (bounded exponential backoff) is handled
	// internally once the first Connect succeeds.
	Connect(ctx context.Context) error

	// Close stops the session. No handler is invoked after Close returns.
	Close() error

	// IsConnected reports whether the underlying session is currently up.
	IsConnected() bool

	// Publish is safe to call from multiple goroutines. Publishing while
	// disconnected returns an error; it is never queued.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topicFilter. The returned func
	// unsubscribes. Subscriptions are re-established automatically after a
	// reconnect.
	Subscribe(ctx context.Context, topicFilter string, handler Handler) (unsubscribe func() error, err error)
}
