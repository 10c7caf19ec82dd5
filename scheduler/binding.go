// Package scheduler drives recurring fetchers on gocron, one duration job per
// fetcher, rescheduled whenever the fetcher's actual interval changes.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gaborage/go-retrieval/logger"
	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight ticks.
	DefaultShutdownTimeout = 30 * time.Second

	tracerName = "github.com/gaborage/go-retrieval/scheduler"
	jobTag     = "fetcher"

	triggerScheduled = "scheduled"
	triggerManual    = "manual"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithShutdownTimeout overrides DefaultShutdownTimeout. Non-positive values are ignored.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithTracerProvider sets the provider used for tick spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// Scheduler ticks registered targets on their actual retrieval interval.
// The gocron scheduler is created lazily on the first registration.
type Scheduler struct {
	log             logger.Logger
	tracer          trace.Tracer
	shutdownTimeout time.Duration

	scheduler gocron.Scheduler
	targets   map[string]*targetEntry
	closed    bool
	mu        sync.RWMutex // protects scheduler, targets and closed

	wg sync.WaitGroup // in-flight ticks
}

// New creates a Scheduler. A nil logger disables logging.
func New(log logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}

	s := &Scheduler{
		log:             log,
		tracer:          otel.Tracer(tracerName),
		shutdownTimeout: DefaultShutdownTimeout,
		targets:         make(map[string]*targetEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register schedules target every target.ActualRetrievalInterval(). With runNow
// the first tick happens immediately instead of one interval from now.
func (s *Scheduler) Register(target Target, runNow bool) error {
	if target == nil {
		return &ValidationError{Field: "target", Message: "must not be nil"}
	}

	id := strings.TrimSpace(target.ID())
	if id == "" {
		return &ValidationError{Field: "id", Message: "must not be blank. Give the fetcher an identifier."}
	}

	interval := target.ActualRetrievalInterval()
	if interval <= 0 {
		return &ValidationError{
			Field:   "interval",
			Message: fmt.Sprintf("of '%s' must be positive, got %v", id, interval),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShuttingDown
	}

	if _, exists := s.targets[id]; exists {
		return &ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("'%s' already registered. Choose a unique identifier.", id),
		}
	}

	if err := s.ensureSchedulerInitialized(); err != nil {
		return err
	}

	entry := newTargetEntry(target, interval)
	opts := s.jobOptions(id)
	if runNow {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	job, err := s.scheduler.NewJob(gocron.DurationJob(interval), gocron.NewTask(s.scheduledTick(entry)), opts...)
	if err != nil {
		return fmt.Errorf("scheduler: failed to schedule fetcher '%s': %w", id, err)
	}
	entry.setJob(job)
	s.targets[id] = entry

	s.log.Info().
		Str("fetcherID", id).
		Dur("interval", interval).
		Msg("Fetcher registered")

	return nil
}

// Unregister stops future ticks of id. A tick already running completes.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.targets[id]
	if !ok {
		return ErrUnknownTarget
	}
	delete(s.targets, id)
	entry.removed.Store(true)

	if job := entry.job(); job != nil && s.scheduler != nil {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			s.log.Warn().Err(err).Str("fetcherID", id).Msg("Failed to remove gocron job")
		}
	}

	s.log.Info().Str("fetcherID", id).Msg("Fetcher unregistered")
	return nil
}

// Trigger requests an out-of-schedule tick of id. The tick runs asynchronously
// and is dropped if a tick of the same target is still running.
func (s *Scheduler) Trigger(id string) error {
	s.mu.RLock()
	entry, ok := s.targets[id]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrShuttingDown
	}
	if !ok {
		return ErrUnknownTarget
	}

	if !entry.limiter.Allow() {
		entry.metadata.incrementSkipped()
		return ErrThrottled
	}

	go s.run(entry, triggerManual)
	return nil
}

// Jobs returns a snapshot of every registered target ordered by ID.
func (s *Scheduler) Jobs() []*FetchMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*FetchMetadata, 0, len(s.targets))
	for _, entry := range s.targets {
		var next time.Time
		if job := entry.job(); job != nil {
			next, _ = job.NextRun()
		}
		jobs = append(jobs, entry.metadata.snapshot(next))
	}

	slices.SortFunc(jobs, func(a, b *FetchMetadata) int {
		return strings.Compare(a.FetcherID, b.FetcherID)
	})
	return jobs
}

// Shutdown stops scheduling new ticks and waits up to the shutdown timeout for
// in-flight ticks to finish. Calling it more than once is a no-op.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sched := s.scheduler
	s.mu.Unlock()

	s.log.Info().Msg("Initiating graceful scheduler shutdown")

	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			s.log.Error().Err(err).Msg("Error stopping scheduler")
			return fmt.Errorf("scheduler: shutdown failed: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("All in-flight ticks completed")
		return nil
	case <-time.After(s.shutdownTimeout):
		s.log.Warn().
			Dur("timeout", s.shutdownTimeout).
			Msg("Shutdown timeout reached, some ticks may not have completed")
		return fmt.Errorf("scheduler: shutdown timeout after %v", s.shutdownTimeout)
	}
}

// ensureSchedulerInitialized must be called with s.mu held.
func (s *Scheduler) ensureSchedulerInitialized() error {
	if s.scheduler != nil {
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithStopTimeout(s.shutdownTimeout))
	if err != nil {
		return fmt.Errorf("scheduler: failed to create gocron scheduler: %w", err)
	}
	s.scheduler = sched
	s.scheduler.Start()

	s.log.Info().Msg("Scheduler initialized and started")
	return nil
}

func (s *Scheduler) jobOptions(id string) []gocron.JobOption {
	return []gocron.JobOption{
		gocron.WithName(id),
		gocron.WithTags(jobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
}

// scheduledTick is the task handed to gocron for entry.
func (s *Scheduler) scheduledTick(entry *targetEntry) func() {
	return func() {
		if entry.removed.Load() {
			return
		}

		// A quarter interval of slack absorbs timer jitter between gocron and the limiter.
		slack := entry.currentInterval() / 4
		if !entry.limiter.AllowN(time.Now().Add(slack), 1) {
			s.log.Debug().
				Str("fetcherID", entry.metadata.FetcherID).
				Msg("Tick skipped - previous tick is less than one interval old")
			entry.metadata.incrementSkipped()
			return
		}

		s.run(entry, triggerScheduled)
	}
}

// run ticks entry unless the scheduler is closing or a tick is already running.
func (s *Scheduler) run(entry *targetEntry, trigger string) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.log.Warn().
			Str("fetcherID", entry.metadata.FetcherID).
			Str("triggerType", trigger).
			Msg("Tick skipped - scheduler is shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	if !entry.tryLock() {
		s.log.Warn().
			Str("fetcherID", entry.metadata.FetcherID).
			Str("triggerType", trigger).
			Msg("Tick skipped - fetcher is already running")
		entry.metadata.incrementSkipped()
		return
	}

	s.execute(entry, trigger)
	entry.unlock()

	// gocron must not be updated from inside one of its own tasks.
	go s.reconcileInterval(entry)
}

// execute ticks the target with panic recovery and records the result.
func (s *Scheduler) execute(entry *targetEntry, trigger string) {
	id := entry.metadata.FetcherID
	ctx, span := s.tracer.Start(context.Background(), "scheduler.tick",
		trace.WithAttributes(
			attribute.String("fetcher.id", id),
			attribute.String("scheduler.trigger", trigger),
		))
	defer span.End()

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("fetcherID", id).
				Interface("panic", r).
				Msg("Tick panicked - recovered and marked as failed")
			span.SetStatus(codes.Error, "panic")
			entry.metadata.incrementFailed(fmt.Sprintf("panic: %v", r))
		}
	}()

	err := entry.target.Tick(ctx)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn().
			Err(err).
			Str("fetcherID", id).
			Str("triggerType", trigger).
			Dur("duration", duration).
			Msg("Tick failed")
		entry.metadata.incrementFailed(err.Error())
		return
	}

	s.log.Debug().
		Str("fetcherID", id).
		Str("triggerType", trigger).
		Dur("duration", duration).
		Msg("Tick completed")
	entry.metadata.incrementSuccess()
}

// reconcileInterval reschedules entry when the target's actual interval moved
// during the last tick.
func (s *Scheduler) reconcileInterval(entry *targetEntry) {
	interval := entry.target.ActualRetrievalInterval()
	previous := entry.currentInterval()
	if interval <= 0 || interval == previous || entry.removed.Load() {
		return
	}

	s.mu.RLock()
	sched, closed := s.scheduler, s.closed
	s.mu.RUnlock()
	if sched == nil || closed {
		return
	}

	id := entry.metadata.FetcherID
	job := entry.job()
	if job == nil {
		return
	}

	updated, err := sched.Update(job.ID(), gocron.DurationJob(interval), gocron.NewTask(s.scheduledTick(entry)), s.jobOptions(id)...)
	if err != nil {
		s.log.Error().Err(err).Str("fetcherID", id).Msg("Failed to reschedule fetcher")
		return
	}
	entry.setJob(updated)
	entry.setInterval(interval)

	s.log.Info().
		Str("fetcherID", id).
		Dur("previous", previous).
		Dur("interval", interval).
		Msg("Fetcher rescheduled")
}
