package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gaborage/go-retrieval/config"
	"github.com/gaborage/go-retrieval/fetcher"
	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/messaging"
	"github.com/gaborage/go-retrieval/notification"
	"github.com/gaborage/go-retrieval/observability"
	"github.com/gaborage/go-retrieval/retrieval"
	"github.com/gaborage/go-retrieval/scheduler"
	"github.com/gaborage/go-retrieval/server"
	"github.com/gaborage/go-retrieval/store"
)

const serverShutdownTimeout = 10 * time.Second

// Daemon owns every long-lived component started by the run command.
type Daemon struct {
	cfg       *config.Config
	log       logger.Logger
	provider  observability.Provider
	store     *store.LevelDB
	publisher messaging.Publisher
	transport *retrieval.HTTPTransport
	scheduler *scheduler.Scheduler
	server    *server.Server
	fetchers  []*fetcher.Fetcher[string]
}

// NewDaemon builds the components described by cfg. Nothing is scheduled until Run.
func NewDaemon(cfg *config.Config, log logger.Logger, version string) (*Daemon, error) {
	if log == nil {
		log = logger.Nop()
	}
	d := &Daemon{cfg: cfg, log: log}

	provider, err := observability.NewProvider(observability.Config{
		Enabled:        cfg.Observability.Enabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Endpoint,
		Protocol:       cfg.Observability.Protocol,
		Insecure:       cfg.Observability.Insecure,
	}, log)
	if err != nil {
		return nil, err
	}
	d.provider = provider

	if cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			d.close()
			return nil, err
		}
		d.store = s
	}

	if cfg.Messaging.BrokerURL != "" {
		d.publisher = messaging.NewAMQPPublisher(cfg.Messaging.BrokerURL, log,
			messaging.WithExchange(cfg.Messaging.Exchange, "topic"),
		)
	}

	d.transport = retrieval.NewHTTPTransport()
	d.scheduler = scheduler.New(log,
		scheduler.WithShutdownTimeout(cfg.Scheduler.ShutdownTimeout),
		scheduler.WithTracerProvider(provider.TracerProvider()),
	)

	for _, fc := range cfg.Fetchers {
		f, err := d.newFetcher(fc)
		if err != nil {
			d.close()
			return nil, err
		}
		d.fetchers = append(d.fetchers, f)
	}

	if cfg.Server.Enabled {
		d.server = server.New(cfg.Server, cfg.Observability.ServiceName, log,
			server.WithTracerProvider(provider.TracerProvider()),
		)
		d.scheduler.RegisterRoutes(d.server.Echo(), cfg.Scheduler.CIDRAllowlist, cfg.Scheduler.TrustedProxies)
	}

	return d, nil
}

func (d *Daemon) newFetcher(fc config.FetcherConfig) (*fetcher.Fetcher[string], error) {
	dec, err := retrieval.BodyAsStringWithHeaderCharset(fc.Charset)
	if err != nil {
		return nil, fmt.Errorf("fetcher %s: %w", fc.ID, err)
	}

	opts := []fetcher.Option{
		fetcher.WithID(fc.ID),
		fetcher.WithLogger(d.log),
		fetcher.WithTransport(d.transport),
		fetcher.WithFailureThreshold(fc.Threshold()),
		fetcher.WithMeterProvider(d.provider.MeterProvider()),
		fetcher.WithTracerProvider(d.provider.TracerProvider()),
	}
	if d.store != nil {
		opts = append(opts, fetcher.WithStore(d.store))
	}

	f := fetcher.New(fetcher.ValueOnly(dec), opts...)
	f.SetTemplate(&retrieval.Config{
		Timeout:                  d.cfg.Retrieval.Timeout,
		UserAgent:                d.cfg.Retrieval.UserAgent,
		MaximumFollowedRedirects: d.cfg.Retrieval.MaxRedirects,
	})
	f.SetNextRetrievalURLs(fc.URLs)
	f.SetPreferredRetrievalInterval(fc.Interval)

	if d.publisher != nil {
		f.OnSuccess(notification.NewAMQPListener[*retrieval.RetrievedData[string]](
			d.publisher, d.cfg.Messaging.Exchange, d.cfg.Messaging.RoutingKey, d.log,
		))
	}
	f.OnFailureThreshold(notification.Func(func(failure *fetcher.Failure) {
		d.log.Error().
			Err(failure.Err).
			Str("fetcher", failure.FetcherID).
			Int("consecutive_failures", failure.ConsecutiveFailures).
			Str("location", failure.LastLocation).
			Msg("Fetcher reached its failure threshold")
	}))

	return f, nil
}

// Fetchers returns the configured fetchers in configuration order.
func (d *Daemon) Fetchers() []*fetcher.Fetcher[string] {
	return d.fetchers
}

// Run restores snapshots, schedules every fetcher and serves the status API
// until ctx is canceled. All components are stopped before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	for i, f := range d.fetchers {
		if restored, err := f.Restore(ctx); err != nil {
			d.log.Warn().Err(err).Str("fetcher", f.ID()).Msg("Failed to restore snapshot")
		} else if restored {
			d.log.Info().Str("fetcher", f.ID()).Msg("Restored last retrieved information")
		}

		if err := d.scheduler.Register(f, d.cfg.Fetchers[i].StartImmediately()); err != nil {
			_ = d.scheduler.Shutdown()
			return err
		}
	}

	d.log.Info().Int("fetchers", len(d.fetchers)).Msg("Fetchers scheduled")

	serverErr := make(chan error, 1)
	if d.server != nil {
		go func() {
			if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.log.Info().Msg("Shutdown signal received")
	case runErr = <-serverErr:
		d.log.Error().Err(runErr).Msg("Status server failed")
	}

	return errors.Join(runErr, d.shutdown())
}

func (d *Daemon) shutdown() error {
	var errs []error

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server: %w", err))
		}
	}
	if err := d.scheduler.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close releases resources that do not depend on the scheduler having stopped.
func (d *Daemon) close() {
	if d.transport != nil {
		d.transport.CloseIdleConnections()
	}
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to close AMQP publisher")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to close snapshot store")
		}
	}
	if d.provider != nil {
		if err := observability.Shutdown(d.provider, observability.DefaultShutdownTimeout); err != nil {
			d.log.Warn().Err(err).Msg("Failed to shut down observability provider")
		}
	}
}
