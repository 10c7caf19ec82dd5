// Package fetcher periodically retrieves information from a pool of candidate URLs.
//
// Each Tick picks one URL of the pool at random, retrieves it with a fresh executor
// derived from the configured template and decodes complete responses. Decoded
// payloads may replace the URL pool and impose a minimum interval on the fetcher.
// Consecutive failures are counted; once the count exceeds the configured threshold
// failure listeners are notified exactly once until the next success.
//
// Fetchers do not schedule themselves, see package scheduler.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gaborage/go-retrieval/notification"
	"github.com/gaborage/go-retrieval/observability"
	"github.com/gaborage/go-retrieval/retrieval"
	"github.com/gaborage/go-retrieval/store"
)

const (
	// DefaultRetrievalInterval applies until a preferred interval is set.
	DefaultRetrievalInterval = 30 * time.Minute

	// DefaultFailureThreshold is the number of consecutive failures tolerated silently.
	DefaultFailureThreshold = 3

	meterName = "github.com/gaborage/go-retrieval/fetcher"
)

const outcomeSuccess = "success"

// Failure is handed to failure listeners once the consecutive failure count exceeds
// the threshold
type Failure struct {
	FetcherID           string
	ConsecutiveFailures int
	LastLocation        string
	Err                 error
}

// Fetcher holds the latest information retrieved from a set of equivalent sources.
// All methods are safe for concurrent use. Tick itself does not prevent overlapping
// executions; schedulers are expected to serialize ticks per fetcher.
type Fetcher[T any] struct {
	decoder Decoder[T]
	opts    options

	mu                  sync.Mutex
	template            *retrieval.Retrieval
	urls                []string
	preferredInterval   time.Duration
	minimumInterval     time.Duration
	actualInterval      time.Duration
	consecutiveFailures int
	lastResult          *retrieval.RetrievedData[T]

	inFlight  atomic.Int32
	successes notification.Hub[*retrieval.RetrievedData[T]]
	failures  notification.Hub[*Failure]
	attempts  metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates an unconfigured fetcher using decoder for complete responses.
func New[T any](decoder Decoder[T], opts ...Option) *Fetcher[T] {
	if decoder == nil {
		panic("fetcher: New requires a decoder")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f := &Fetcher[T]{
		decoder:        decoder,
		opts:           o,
		actualInterval: DefaultRetrievalInterval,
	}

	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	attempts, err := observability.CreateCounter(meter, "retrieval.fetch.attempts", "Fetch attempts by outcome",
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		o.log.Warn().Err(err).Msg("Failed to create fetch attempt counter")
	}
	f.attempts = attempts

	duration, err := observability.CreateHistogram(meter, "retrieval.fetch.duration", "Duration of fetch attempts that reached the network",
		metric.WithUnit("ms"),
	)
	if err != nil {
		o.log.Warn().Err(err).Msg("Failed to create fetch duration histogram")
	}
	f.duration = duration
	return f
}

// ID returns the fetcher's identity.
func (f *Fetcher[T]) ID() string {
	return f.opts.id
}

// SetTemplate sets the configuration every retrieval is derived from. The
// configuration is copied; nil disables fetching until a template is set again.
func (f *Fetcher[T]) SetTemplate(cfg *retrieval.Config) {
	if cfg == nil {
		f.mu.Lock()
		f.template = nil
		f.mu.Unlock()
		f.opts.log.Warn().
			Str("fetcher", f.opts.id).
			Msg("Retrieval template removed, fetching disabled until a new template is set")
		return
	}

	retrievalOpts := []retrieval.Option{retrieval.WithConfig(*cfg)}
	if f.opts.tracerProvider != nil {
		retrievalOpts = append(retrievalOpts, retrieval.WithTracerProvider(f.opts.tracerProvider))
	}
	template := retrieval.New(f.opts.transport, f.opts.log, retrievalOpts...)

	f.mu.Lock()
	f.template = template
	f.mu.Unlock()
}

// Template returns a copy of the current template configuration.
func (f *Fetcher[T]) Template() (retrieval.Config, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.template == nil {
		return retrieval.Config{}, false
	}
	return f.template.Config(), true
}

// SetNextRetrievalURLs replaces the pool of candidate URLs. Nil or empty input empties
// the pool.
func (f *Fetcher[T]) SetNextRetrievalURLs(urls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setNextRetrievalURLs(urls)
}

func (f *Fetcher[T]) setNextRetrievalURLs(urls []string) {
	if len(urls) == 0 {
		reason := "empty"
		if urls == nil {
			reason = "nil"
		}
		f.opts.log.Warn().
			Str("fetcher", f.opts.id).
			Str("reason", reason).
			Msg("Retrieval URLs were reset")
		f.urls = nil
		return
	}
	f.urls = slices.Clone(urls)
}

// NextRetrievalURLs returns a snapshot of the candidate URLs.
func (f *Fetcher[T]) NextRetrievalURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.urls)
}

// SetPreferredRetrievalInterval sets the interval the application would like to use.
// The actual interval may be longer if the source demands a minimum interval.
func (f *Fetcher[T]) SetPreferredRetrievalInterval(interval time.Duration) {
	if interval <= 0 {
		f.opts.log.Warn().
			Str("fetcher", f.opts.id).
			Dur("interval", interval).
			Msg("Ignoring non-positive preferred retrieval interval")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preferredInterval = interval
	f.recalculateInterval()
}

// PreferredRetrievalInterval returns the preferred interval, 0 if never set.
func (f *Fetcher[T]) PreferredRetrievalInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preferredInterval
}

// ActualRetrievalInterval returns the interval ticks should be scheduled at.
func (f *Fetcher[T]) ActualRetrievalInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actualInterval
}

func (f *Fetcher[T]) recalculateInterval() {
	base := f.preferredInterval
	if base <= 0 {
		base = DefaultRetrievalInterval
	}
	previous := f.actualInterval
	f.actualInterval = max(base, f.minimumInterval)
	if f.actualInterval != previous {
		f.opts.log.Info().
			Str("fetcher", f.opts.id).
			Dur("previous", previous).
			Dur("interval", f.actualInterval).
			Msg("Retrieval interval changed")
	}
}

// LatestRetrievedInformation returns the last successfully decoded result, nil if
// there never was one. Failures do not clear it.
func (f *Fetcher[T]) LatestRetrievedInformation() *retrieval.RetrievedData[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastResult
}

// ConsecutiveFailures returns the number of failed fetches since the last success.
func (f *Fetcher[T]) ConsecutiveFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consecutiveFailures
}

// State returns the current operational state.
func (f *Fetcher[T]) State() State {
	if f.inFlight.Load() > 0 {
		return Fetching
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.template == nil:
		return Unconfigured
	case len(f.urls) == 0:
		return Idle
	default:
		return Armed
	}
}

// OnSuccess subscribes listener to every successfully decoded result.
func (f *Fetcher[T]) OnSuccess(listener notification.Listener[*retrieval.RetrievedData[T]]) {
	if !f.successes.Subscribe(listener) {
		f.opts.log.Warn().Str("fetcher", f.opts.id).Msg("Ignored success listener without identity")
	}
}

// OnFailureThreshold subscribes listener to threshold violations.
func (f *Fetcher[T]) OnFailureThreshold(listener notification.Listener[*Failure]) {
	if !f.failures.Subscribe(listener) {
		f.opts.log.Warn().Str("fetcher", f.opts.id).Msg("Ignored failure listener without identity")
	}
}

// Tick performs one fetch. It returns nil on success and otherwise the reason of the
// failure as *retrieval.Error. Misconfiguration (no template, no URLs) is reported
// without touching the failure count.
func (f *Fetcher[T]) Tick(ctx context.Context) error {
	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	template := f.template
	urls := f.urls
	f.mu.Unlock()

	if template == nil {
		err := retrieval.NewMissingTemplateError()
		f.opts.log.Error().Str("fetcher", f.opts.id).Msg("Attempted to fetch without retrieval template")
		f.record(ctx, string(retrieval.MissingTemplate))
		return err
	}
	if len(urls) == 0 {
		err := retrieval.NewNoCandidateURLsError()
		f.opts.log.Error().Str("fetcher", f.opts.id).Msg("Attempted to fetch without any URL to fetch from")
		f.record(ctx, string(retrieval.NoCandidateURLs))
		return err
	}

	location := urls[f.opts.intn(len(urls))]
	r := template.CopyConfiguration()

	start := time.Now()
	decoded, outcome, err := f.retrieve(ctx, r, location)
	f.observe(ctx, time.Since(start))
	if err != nil {
		f.fail(ctx, location, err)
		return err
	}
	f.succeed(ctx, outcome, decoded)
	return nil
}

func (f *Fetcher[T]) retrieve(ctx context.Context, r *retrieval.Retrieval, location string) (Decoded[T], *retrieval.Outcome, error) {
	if !r.Get(ctx, location) {
		return Decoded[T]{}, nil, r.LastError()
	}
	outcome := r.Outcome()
	if !outcome.IsCompleteContent() {
		return Decoded[T]{}, nil, retrieval.NewIncompleteContentError(location, outcome.Status)
	}
	decoded, err := f.decode(location, outcome)
	if err != nil {
		return Decoded[T]{}, nil, err
	}
	return decoded, outcome, nil
}

// decode runs the decoder and reports every failure, panics included, as a
// DecodeFailure for location.
func (f *Fetcher[T]) decode(location string, outcome *retrieval.Outcome) (decoded Decoded[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			f.opts.log.Error().Str("fetcher", f.opts.id).Str("url", location).Interface("panic", r).Msg("Decoder panicked")
			decoded, err = Decoded[T]{}, retrieval.NewDecodeError(location, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	decoded, err = f.decoder(outcome)
	if err != nil && !retrieval.IsErrorType(err, retrieval.DecodeFailure) {
		err = retrieval.NewDecodeError(location, err)
	}
	return decoded, err
}

func (f *Fetcher[T]) succeed(ctx context.Context, outcome *retrieval.Outcome, decoded Decoded[T]) {
	retrievedAt := f.opts.now()
	result := retrieval.NewRetrievedData(retrievedAt, outcome.Requested, outcome.Resolved, decoded.Value)

	f.mu.Lock()
	f.lastResult = result
	f.consecutiveFailures = 0
	if decoded.NextURLs != nil {
		f.setNextRetrievalURLs(decoded.NextURLs)
	}
	f.minimumInterval = max(decoded.MinimumInterval, 0)
	f.recalculateInterval()
	f.mu.Unlock()

	f.opts.log.Debug().
		Str("fetcher", f.opts.id).
		Str("url", outcome.Requested).
		Str("resolved", outcome.Resolved).
		Msg("Fetched information")
	f.record(ctx, outcomeSuccess)

	if f.opts.store != nil {
		if err := f.opts.store.Save(ctx, f.opts.id, store.Snapshot{RetrievedAt: retrievedAt, Outcome: outcome}); err != nil {
			f.opts.log.Warn().Err(err).Str("fetcher", f.opts.id).Msg("Failed to persist retrieval snapshot")
		}
	}

	f.successes.Distribute(result)
}

func (f *Fetcher[T]) fail(ctx context.Context, location string, err error) {
	f.mu.Lock()
	f.consecutiveFailures++
	count := f.consecutiveFailures
	f.mu.Unlock()

	kind := "unknown"
	var retrievalErr *retrieval.Error
	if errors.As(err, &retrievalErr) {
		kind = string(retrievalErr.Type())
	}
	f.record(ctx, kind)

	f.opts.log.Warn().
		Err(err).
		Str("fetcher", f.opts.id).
		Str("url", location).
		Int("consecutive_failures", count).
		Msg("Fetch failed")

	if count != f.opts.failureThreshold+1 {
		return
	}
	f.opts.log.Error().
		Str("fetcher", f.opts.id).
		Int("consecutive_failures", count).
		Int("threshold", f.opts.failureThreshold).
		Msg("Consecutive failures exceeded threshold")
	f.failures.Distribute(&Failure{
		FetcherID:           f.opts.id,
		ConsecutiveFailures: count,
		LastLocation:        location,
		Err:                 err,
	})
}

func (f *Fetcher[T]) record(ctx context.Context, outcome string) {
	if f.attempts == nil {
		return
	}
	f.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fetcher", f.opts.id),
		attribute.String("outcome", outcome),
	))
}

func (f *Fetcher[T]) observe(ctx context.Context, elapsed time.Duration) {
	if f.duration == nil {
		return
	}
	f.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("fetcher", f.opts.id),
	))
}

// Restore loads the persisted snapshot, decodes it and makes it available as latest
// retrieved information. It reports whether a snapshot was restored. Listeners are
// not notified and neither URLs nor intervals are changed.
func (f *Fetcher[T]) Restore(ctx context.Context) (bool, error) {
	if f.opts.store == nil {
		return false, nil
	}
	snapshot, ok, err := f.opts.store.Load(ctx, f.opts.id)
	if err != nil || !ok || snapshot.Outcome == nil {
		return false, err
	}
	decoded, err := f.decode(snapshot.Outcome.Requested, snapshot.Outcome)
	if err != nil {
		return false, err
	}
	result := retrieval.NewRetrievedData(snapshot.RetrievedAt, snapshot.Outcome.Requested, snapshot.Outcome.Resolved, decoded.Value)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastResult == nil {
		f.lastResult = result
	}
	return true, nil
}
