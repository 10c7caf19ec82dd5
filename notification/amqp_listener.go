package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/messaging"
)

const defaultPublishTimeout = 10 * time.Second

// AMQPListener publishes every distributed value as a JSON message.
// Publishing errors are logged and never reach the distributing caller.
type AMQPListener[T any] struct {
	publisher messaging.Publisher
	options   messaging.PublishOptions
	timeout   time.Duration
	log       logger.Logger
}

// NewAMQPListener creates a listener publishing to exchange with routingKey.
func NewAMQPListener[T any](publisher messaging.Publisher, exchange, routingKey string, log logger.Logger) *AMQPListener[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &AMQPListener[T]{
		publisher: publisher,
		options: messaging.PublishOptions{
			Exchange:    exchange,
			RoutingKey:  routingKey,
			ContentType: "application/json",
		},
		timeout: defaultPublishTimeout,
		log:     log,
	}
}

// WithTimeout bounds how long a single Handle call may block.
func (l *AMQPListener[T]) WithTimeout(d time.Duration) *AMQPListener[T] {
	if d > 0 {
		l.timeout = d
	}
	return l
}

// Handle publishes value as JSON. Encoding and publish errors are logged, never returned.
func (l *AMQPListener[T]) Handle(value T) {
	data, err := json.Marshal(value)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to encode distributed value")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.publisher.Publish(ctx, l.options, data); err != nil {
		l.log.Error().
			Err(err).
			Str("exchange", l.options.Exchange).
			Str("routing_key", l.options.RoutingKey).
			Msg("Failed to publish distributed value")
	}
}
