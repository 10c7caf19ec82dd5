package fetcher

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/retrieval"
	"github.com/gaborage/go-retrieval/store"
)

// Store persists the last successful retrieval of a fetcher.
type Store interface {
	Save(ctx context.Context, id string, snapshot store.Snapshot) error
	Load(ctx context.Context, id string) (store.Snapshot, bool, error)
}

// Option configures a Fetcher.
type Option func(*options)

type options struct {
	id               string
	log              logger.Logger
	transport        retrieval.Transport
	failureThreshold int
	store            Store
	meterProvider    metric.MeterProvider
	tracerProvider   trace.TracerProvider
	intn             func(n int) int
	now              func() time.Time
}

func defaultOptions() options {
	return options{
		id:               uuid.NewString(),
		log:              logger.Nop(),
		failureThreshold: DefaultFailureThreshold,
		intn:             rand.IntN,
		now:              time.Now,
	}
}

// WithID sets the identity reported to failure listeners and used as storage key.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithTransport sets the transport used by every retrieval.
func WithTransport(transport retrieval.Transport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithFailureThreshold sets how many consecutive failures are tolerated before failure
// listeners are notified. Negative values are treated as 0.
func WithFailureThreshold(threshold int) Option {
	return func(o *options) {
		o.failureThreshold = max(threshold, 0)
	}
}

// WithStore persists successful retrievals and enables Restore.
func WithStore(s Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithMeterProvider sets the provider for fetch metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider sets the provider for retrieval spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRandom sets the source used to choose among candidate URLs.
func WithRandom(src rand.Source) Option {
	return func(o *options) {
		if src == nil {
			return
		}
		var mu sync.Mutex
		r := rand.New(src)
		o.intn = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return r.IntN(n)
		}
	}
}

// WithClock sets the time source for retrieval timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
