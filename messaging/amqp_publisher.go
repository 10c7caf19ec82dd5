package messaging

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-retrieval/logger"
	rtrace "github.com/gaborage/go-retrieval/trace"
)

// AMQPPublisher is a confirm-mode AMQP publisher with automatic reconnection.
type AMQPPublisher struct {
	m               sync.RWMutex
	brokerURL       string
	exchange        string
	exchangeKind    string
	log             logger.Logger
	connection      amqpConnection
	channel         amqpChannel
	done            chan struct{}
	closeOnce       sync.Once
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool

	reconnectDelay time.Duration
	reInitDelay    time.Duration
	resendDelay    time.Duration
	confirmTimeout time.Duration
}

// Reconnection delays
const (
	defaultReconnectDelay = 5 * time.Second
	defaultReInitDelay    = 2 * time.Second
	defaultResendDelay    = 5 * time.Second
	defaultConfirmTimeout = 30 * time.Second
)

// OpenTelemetry constants
const (
	messagingTracerName     = "github.com/gaborage/go-retrieval/messaging"
	messagingSystemRabbitMQ = "rabbitmq"
	operationPublish        = "publish"
)

var (
	errNotConnected  = errors.New("not connected to AMQP broker")
	errAlreadyClosed = errors.New("AMQP publisher already closed")
	errShutdown      = errors.New("AMQP publisher is shutting down")
)

var _ Publisher = (*AMQPPublisher)(nil)

// PublisherOption configures an AMQPPublisher.
type PublisherOption func(*AMQPPublisher)

// WithExchange declares the named durable exchange whenever a channel is (re)initialized.
func WithExchange(name, kind string) PublisherOption {
	return func(p *AMQPPublisher) {
		p.exchange = name
		p.exchangeKind = kind
	}
}

// WithConfirmTimeout bounds how long a single publish attempt waits for its confirmation.
func WithConfirmTimeout(d time.Duration) PublisherOption {
	return func(p *AMQPPublisher) {
		if d > 0 {
			p.confirmTimeout = d
		}
	}
}

// NewAMQPPublisher creates a publisher and starts connecting in the background.
func NewAMQPPublisher(brokerURL string, log logger.Logger, opts ...PublisherOption) *AMQPPublisher {
	p := newPublisher(brokerURL, log, opts...)
	go p.handleReconnect()
	return p
}

func newPublisher(brokerURL string, log logger.Logger, opts ...PublisherOption) *AMQPPublisher {
	if log == nil {
		log = logger.Nop()
	}
	p := &AMQPPublisher{
		brokerURL:      brokerURL,
		exchangeKind:   amqp.ExchangeTopic,
		log:            log,
		done:           make(chan struct{}),
		reconnectDelay: defaultReconnectDelay,
		reInitDelay:    defaultReInitDelay,
		resendDelay:    defaultResendDelay,
		confirmTimeout: defaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsReady returns true if a confirmed channel is available.
func (p *AMQPPublisher) IsReady() bool {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.isReady
}

func startPublishSpan(ctx context.Context, options PublishOptions, dataLen int) (context.Context, trace.Span) {
	destination := options.Exchange
	if destination == "" {
		destination = options.RoutingKey
	}

	ctx, span := otel.Tracer(messagingTracerName).Start(ctx, destination+" "+operationPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
	)

	attrs := []attribute.KeyValue{
		attribute.String(string(semconv.MessagingSystemKey), messagingSystemRabbitMQ),
		semconv.MessagingOperationName(operationPublish),
		semconv.MessagingDestinationName(destination),
		semconv.MessagingMessageBodySize(dataLen),
	}
	if options.RoutingKey != "" {
		attrs = append(attrs, attribute.String("messaging.rabbitmq.routing_key", options.RoutingKey))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Publish sends data and waits for the broker's confirmation. Failed attempts and
// negative acknowledgements are retried until ctx is done.
func (p *AMQPPublisher) Publish(ctx context.Context, options PublishOptions, data []byte) error {
	startTime := time.Now()
	ctx, span := startPublishSpan(ctx, options, len(data))
	defer span.End()

	if !p.IsReady() {
		p.log.Warn().
			Str("exchange", options.Exchange).
			Str("routing_key", options.RoutingKey).
			Msg("AMQP publisher not ready, message not published")
		return failSpan(span, errNotConnected)
	}

	for {
		select {
		case <-ctx.Done():
			return failSpan(span, ctx.Err())
		case <-p.done:
			return failSpan(span, errShutdown)
		default:
		}

		confirms, err := p.unsafePublish(ctx, options, data)
		if err != nil {
			p.log.Warn().Err(err).Msg("Publish failed, retrying...")
			select {
			case <-ctx.Done():
				return failSpan(span, ctx.Err())
			case <-p.done:
				return failSpan(span, errShutdown)
			case <-time.After(p.resendDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return failSpan(span, ctx.Err())
		case <-p.done:
			return failSpan(span, errShutdown)
		case confirm := <-confirms:
			if confirm.Ack {
				p.log.Debug().
					Str("exchange", options.Exchange).
					Str("routing_key", options.RoutingKey).
					Uint64("delivery_tag", confirm.DeliveryTag).
					Dur("elapsed", time.Since(startTime)).
					Msg("Message published")
				span.SetStatus(codes.Ok, "")
				return nil
			}
			p.log.Warn().
				Uint64("delivery_tag", confirm.DeliveryTag).
				Msg("Message publish not acknowledged, retrying...")
			span.AddEvent("amqp.publish.retry", trace.WithAttributes(
				attribute.String("reason", "message not acknowledged"),
				attribute.String("delivery_tag", strconv.FormatUint(confirm.DeliveryTag, 10)),
			))
		case <-time.After(p.confirmTimeout):
			p.log.Warn().Msg("Publish confirmation timeout, retrying...")
			span.AddEvent("amqp.publish.retry", trace.WithAttributes(
				attribute.String("reason", "confirmation timeout"),
			))
		}
	}
}

// unsafePublish publishes without waiting for the confirmation and returns the
// confirmation channel belonging to the channel used.
func (p *AMQPPublisher) unsafePublish(ctx context.Context, options PublishOptions, data []byte) (<-chan amqp.Confirmation, error) {
	p.m.RLock()
	if !p.isReady {
		p.m.RUnlock()
		return nil, errNotConnected
	}
	channel := p.channel
	confirms := p.notifyConfirm
	p.m.RUnlock()

	contentType := options.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	publishing := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         data,
		Headers:      amqp.Table{},
	}
	if options.Headers != nil {
		maps.Copy(publishing.Headers, options.Headers)
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	for key, value := range carrier {
		publishing.Headers[key] = value
	}
	requestID := rtrace.EnsureRequestID(ctx)
	publishing.Headers[rtrace.HeaderXRequestID] = requestID
	publishing.CorrelationId = requestID
	publishing.MessageId = uuid.New().String()

	if err := channel.PublishWithContext(ctx, options.Exchange, options.RoutingKey, options.Mandatory, false, publishing); err != nil {
		return nil, err
	}
	return confirms, nil
}

// Close stops reconnecting and closes channel and connection.
func (p *AMQPPublisher) Close() error {
	err := errAlreadyClosed
	p.closeOnce.Do(func() {
		close(p.done)

		p.m.Lock()
		defer p.m.Unlock()
		p.isReady = false

		err = nil
		if p.channel != nil {
			if closeErr := p.channel.Close(); closeErr != nil {
				err = closeErr
			}
		}
		if p.connection != nil {
			if closeErr := p.connection.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		p.log.Info().Msg("AMQP publisher closed")
	})
	return err
}

// handleReconnect manages the connection lifecycle until Close is called.
func (p *AMQPPublisher) handleReconnect() {
	for {
		p.setReady(false)
		p.log.Info().Str("broker_url", redactBrokerURL(p.brokerURL)).Msg("Attempting to connect to AMQP broker")

		conn, err := getAmqpDialFunc()(p.brokerURL)
		if err != nil {
			p.log.Error().Err(err).Msg("Failed to connect to AMQP broker, retrying...")
			select {
			case <-p.done:
				return
			case <-time.After(p.reconnectDelay):
			}
			continue
		}
		p.changeConnection(conn)
		p.log.Info().Msg("Connected to AMQP broker")

		if done := p.handleReInit(conn); done {
			return
		}
	}
}

// handleReInit (re)initializes channels on conn. It returns true once the publisher
// is closed and false when the connection was lost.
func (p *AMQPPublisher) handleReInit(conn amqpConnection) bool {
	for {
		p.setReady(false)

		if err := p.init(conn); err != nil {
			p.log.Error().Err(err).Msg("Failed to initialize AMQP channel, retrying...")
			select {
			case <-p.done:
				return true
			case <-p.connClosed():
				p.log.Info().Msg("AMQP connection closed, reconnecting...")
				return false
			case <-time.After(p.reInitDelay):
			}
			continue
		}

		select {
		case <-p.done:
			return true
		case <-p.connClosed():
			p.log.Info().Msg("AMQP connection closed, reconnecting...")
			return false
		case <-p.chanClosed():
			p.log.Info().Msg("AMQP channel closed, reinitializing...")
		}
	}
}

// init opens a channel in confirm mode and declares the configured exchange.
func (p *AMQPPublisher) init(conn amqpConnection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return err
	}
	if p.exchange != "" {
		if err := ch.ExchangeDeclare(p.exchange, p.exchangeKind, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
	}

	p.changeChannel(ch)
	p.setReady(true)
	p.log.Info().Str("exchange", p.exchange).Msg("AMQP publisher initialized and ready")
	return nil
}

func (p *AMQPPublisher) setReady(ready bool) {
	p.m.Lock()
	p.isReady = ready
	p.m.Unlock()
}

func (p *AMQPPublisher) connClosed() <-chan *amqp.Error {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.notifyConnClose
}

func (p *AMQPPublisher) chanClosed() <-chan *amqp.Error {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.notifyChanClose
}

func (p *AMQPPublisher) changeConnection(connection amqpConnection) {
	p.m.Lock()
	defer p.m.Unlock()
	p.connection = connection
	p.notifyConnClose = make(chan *amqp.Error, 1)
	p.connection.NotifyClose(p.notifyConnClose)
}

func (p *AMQPPublisher) changeChannel(channel amqpChannel) {
	p.m.Lock()
	defer p.m.Unlock()
	p.channel = channel
	p.notifyChanClose = make(chan *amqp.Error, 1)
	p.notifyConfirm = make(chan amqp.Confirmation, 1)
	p.channel.NotifyClose(p.notifyChanClose)
	p.channel.NotifyPublish(p.notifyConfirm)
}
