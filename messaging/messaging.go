// Package messaging publishes retrieval results to an AMQP broker.
// Publishers reconnect automatically and wait for broker confirmations.
package messaging

import "context"

// PublishOptions contains options for publishing messages with AMQP-specific features.
type PublishOptions struct {
	Exchange    string         // AMQP exchange name
	RoutingKey  string         // AMQP routing key
	ContentType string         // MIME type of the body, defaults to application/octet-stream
	Headers     map[string]any // Message headers
	Mandatory   bool           // AMQP mandatory flag
}

// Publisher sends messages to an exchange.
type Publisher interface {
	// Publish blocks until the broker confirmed the message, ctx is done or the
	// publisher is closed.
	Publish(ctx context.Context, options PublishOptions, data []byte) error

	// IsReady reports whether a confirmed channel is currently available.
	IsReady() bool

	// Close stops reconnecting and releases the connection.
	Close() error
}
