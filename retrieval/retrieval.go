package retrieval

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/trace"
)

const tracerName = "github.com/gaborage/go-retrieval/retrieval"

var (
	protocolPattern    = regexp.MustCompile(`(?i)^([a-z]+)://`)
	supportedProtocols = map[string]struct{}{"http": {}, "https": {}}

	defaultTransport = NewHTTPTransport()
)

// IsSupportedLocation reports whether the location uses an allowed scheme (http or https).
func IsSupportedLocation(location string) bool {
	m := protocolPattern.FindStringSubmatch(location)
	if m == nil {
		return false
	}
	_, ok := supportedProtocols[strings.ToLower(m[1])]
	return ok
}

// Retrieval executes GET requests and keeps the outcome of the most recent one.
// All methods are safe for concurrent use; Get does not hold the lock during I/O.
type Retrieval struct {
	mu        sync.Mutex
	transport Transport
	log       logger.Logger
	tracer    oteltrace.Tracer
	cfg       Config

	lastRequested string
	outcome       *Outcome
	lastErr       error
}

// Option configures a Retrieval.
type Option func(*Retrieval)

// WithTracerProvider sets the provider used for request spans.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(r *Retrieval) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithConfig applies cfg through the validating setters.
func WithConfig(cfg Config) Option {
	return func(r *Retrieval) {
		r.configure(cfg)
	}
}

// New creates a Retrieval with default configuration. A nil transport selects the
// shared HTTPTransport, a nil logger discards all output.
func New(transport Transport, log logger.Logger, opts ...Option) *Retrieval {
	if transport == nil {
		transport = defaultTransport
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Retrieval{
		transport: transport,
		log:       log,
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CopyConfiguration creates a new Retrieval sharing transport, logger and tracer,
// with a copy of the configuration and no result state.
func (r *Retrieval) CopyConfiguration() *Retrieval {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &Retrieval{
		transport: r.transport,
		log:       r.log,
		tracer:    r.tracer,
		cfg:       r.cfg,
	}
}

// Configure applies all settings of cfg. Invalid values are rejected individually
// exactly as by the single setters.
func (r *Retrieval) Configure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configure(cfg)
}

func (r *Retrieval) configure(cfg Config) {
	r.setTimeout(cfg.Timeout)
	r.setUserAgent(cfg.UserAgent)
	r.setMaximumFollowedRedirects(cfg.MaximumFollowedRedirects)
}

// Config returns a copy of the current configuration.
func (r *Retrieval) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetTimeout sets the connect and idle read timeout. Non-positive values are ignored.
func (r *Retrieval) SetTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setTimeout(timeout)
}

func (r *Retrieval) setTimeout(timeout time.Duration) {
	if timeout <= 0 {
		r.log.Warn().
			Dur("timeout", timeout).
			Dur("current", r.cfg.Timeout).
			Msg("Rejected non-positive timeout, keeping previous value")
		return
	}
	r.cfg.Timeout = timeout
}

// Timeout returns the configured timeout.
func (r *Retrieval) Timeout() time.Duration {
	return r.Config().Timeout
}

// SetUserAgent sets the User-Agent header. Blank values are rejected and the
// previous value is kept.
func (r *Retrieval) SetUserAgent(userAgent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setUserAgent(userAgent)
}

func (r *Retrieval) setUserAgent(userAgent string) {
	if strings.TrimSpace(userAgent) == "" {
		r.log.Warn().
			Str("current", r.cfg.UserAgent).
			Msg("Rejected blank user agent, keeping previous value")
		return
	}
	r.cfg.UserAgent = userAgent
}

// UserAgent returns the configured user agent.
func (r *Retrieval) UserAgent() string {
	return r.Config().UserAgent
}

// SetMaximumFollowedRedirects sets the redirect limit. Negative values are limited
// to 0; values above 10 are accepted but logged.
func (r *Retrieval) SetMaximumFollowedRedirects(limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setMaximumFollowedRedirects(limit)
}

func (r *Retrieval) setMaximumFollowedRedirects(limit int) {
	if limit < 0 {
		r.log.Warn().
			Int("requested", limit).
			Msg("Attempted to set a negative number of maximum allowed redirects, limiting to 0")
		limit = 0
	} else if limit > unusualRedirectLimit {
		r.log.Warn().
			Int("requested", limit).
			Msg("Allowing a high number of redirects to be followed, consider reducing it")
	}
	r.cfg.MaximumFollowedRedirects = limit
}

// MaximumFollowedRedirects returns the configured redirect limit.
func (r *Retrieval) MaximumFollowedRedirects() int {
	return r.Config().MaximumFollowedRedirects
}

// Get requests the given location. It returns true if any response was obtained,
// regardless of its status code. On false, LastError tells why and all previously
// held results are cleared.
func (r *Retrieval) Get(ctx context.Context, location string) bool {
	r.mu.Lock()
	r.lastRequested = location
	r.outcome = nil
	r.lastErr = nil
	cfg := r.cfg
	r.mu.Unlock()

	if !IsSupportedLocation(location) {
		err := NewUnsupportedProtocolError(location)
		r.log.Warn().Str("url", location).Msg("Unsupported or missing protocol, request not executed")
		r.fail(err)
		return false
	}

	ctx, span := r.tracer.Start(ctx, "retrieval.get",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("url.full", location),
			attribute.String("user_agent.original", cfg.UserAgent),
			attribute.Int("retrieval.max_redirects", cfg.MaximumFollowedRedirects),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := r.transport.Do(ctx, &TransportRequest{
		URL:          location,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaximumFollowedRedirects,
		Headers:      trace.OutgoingHeaders(ctx),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		r.log.Warn().
			Err(err).
			Str("url", location).
			Dur("elapsed", time.Since(start)).
			Msg("Request execution failed")
		r.fail(NewTransportError(location, err))
		return false
	}

	outcome := newOutcome(location, resp)
	span.SetAttributes(
		attribute.Int("http.response.status_code", outcome.Status),
		attribute.Int("retrieval.redirects", len(resp.RedirectChain)),
		attribute.String("retrieval.resolved", outcome.Resolved),
	)
	if !outcome.IsCompleteContent() {
		span.SetStatus(codes.Error, "incomplete content")
	}

	r.log.Debug().
		Str("url", location).
		Str("resolved", outcome.Resolved).
		Int("status", outcome.Status).
		Int("bytes", len(outcome.Body)).
		Dur("elapsed", time.Since(start)).
		Msg("Request completed")

	r.mu.Lock()
	r.outcome = outcome
	r.mu.Unlock()
	return true
}

func (r *Retrieval) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = nil
	r.lastErr = err
}

// LastRequestedLocation returns the location passed to the most recent Get, whether
// it succeeded or not.
func (r *Retrieval) LastRequestedLocation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRequested
}

// LastResolvedLocation returns the location finally reached after redirects, or ""
// if the last Get obtained no response.
func (r *Retrieval) LastResolvedLocation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return ""
	}
	return r.outcome.Resolved
}

// StatusCode returns the status of the last response, 0 if there is none.
func (r *Retrieval) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return 0
	}
	return r.outcome.Status
}

// IsCompleteContent reports whether the last response carries complete content.
func (r *Retrieval) IsCompleteContent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome != nil && r.outcome.IsCompleteContent()
}

// BodyBytes returns the decompressed body of the last response, nil if there is none.
func (r *Retrieval) BodyBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return nil
	}
	return r.outcome.Body
}

// Headers returns the headers of the last response, nil if there is none.
func (r *Retrieval) Headers() *Headers {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return nil
	}
	return r.outcome.Header
}

// Outcome returns the complete last outcome, nil if there is none.
func (r *Retrieval) Outcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// LastError returns why the last Get returned false, nil otherwise.
func (r *Retrieval) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}
