package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"
)

// Target is anything the scheduler can tick on a recurring interval.
// fetcher.Fetcher satisfies it for every payload type.
type Target interface {
	ID() string
	Tick(ctx context.Context) error
	ActualRetrievalInterval() time.Duration
}

// targetEntry binds a registered target to its gocron job, metadata and
// execution guards.
type targetEntry struct {
	target   Target
	metadata *FetchMetadata

	// limiter refuses ticks arriving faster than the target's actual interval.
	limiter *rate.Limiter

	mu        sync.Mutex
	gocronJob gocron.Job
	interval  time.Duration
	running   bool

	removed atomic.Bool
}

func newTargetEntry(target Target, interval time.Duration) *targetEntry {
	return &targetEntry{
		target:   target,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		metadata: &FetchMetadata{
			FetcherID: target.ID(),
			Interval:  interval.String(),
		},
	}
}

// tryLock reports whether the caller may tick the target. It returns false
// while another tick of the same target is still running.
func (e *targetEntry) tryLock() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return false
	}

	e.running = true
	return true
}

func (e *targetEntry) unlock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

func (e *targetEntry) job() gocron.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gocronJob
}

func (e *targetEntry) setJob(j gocron.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gocronJob = j
}

func (e *targetEntry) currentInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// setInterval records a new interval and retunes the limiter.
func (e *targetEntry) setInterval(interval time.Duration) {
	e.mu.Lock()
	e.interval = interval
	e.mu.Unlock()

	e.limiter.SetLimit(rate.Every(interval))
	e.metadata.setInterval(interval)
}
