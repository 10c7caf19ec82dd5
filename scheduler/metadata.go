package scheduler

import (
	"sync"
	"time"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// FetchMetadata describes a registered target for the /_sys/fetch endpoint.
type FetchMetadata struct {
	// FetcherID is the identifier the target reported at registration.
	FetcherID string `json:"fetcherId"`

	// Interval is the tick interval currently scheduled, e.g. "30m0s".
	Interval string `json:"interval"`

	NextExecutionTime *time.Time `json:"nextExecutionTime,omitempty"`
	LastExecutionTime *time.Time `json:"lastExecutionTime,omitempty"`

	// LastExecutionStatus is "success" or "failure" (empty if never run).
	LastExecutionStatus string `json:"lastExecutionStatus,omitempty"`
	LastError           string `json:"lastError,omitempty"`

	TotalExecutions int64 `json:"totalExecutions"`
	SuccessCount    int64 `json:"successCount"`
	FailureCount    int64 `json:"failureCount"`

	// SkippedCount counts triggers dropped because a tick was still running
	// or the previous tick was less than one interval ago.
	SkippedCount int64 `json:"skippedCount"`

	mu sync.Mutex `json:"-"`
}

func (m *FetchMetadata) incrementSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuccessCount++
	m.TotalExecutions++
	now := time.Now()
	m.LastExecutionTime = &now
	m.LastExecutionStatus = statusSuccess
	m.LastError = ""
}

func (m *FetchMetadata) incrementFailed(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailureCount++
	m.TotalExecutions++
	now := time.Now()
	m.LastExecutionTime = &now
	m.LastExecutionStatus = statusFailure
	m.LastError = err
}

// incrementSkipped leaves the last execution fields untouched.
func (m *FetchMetadata) incrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedCount++
}

func (m *FetchMetadata) setInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Interval = interval.String()
}

// snapshot returns a copy safe to hand out. next is filled from the live
// gocron job when it is known.
func (m *FetchMetadata) snapshot(next time.Time) *FetchMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &FetchMetadata{
		FetcherID:           m.FetcherID,
		Interval:            m.Interval,
		LastExecutionStatus: m.LastExecutionStatus,
		LastError:           m.LastError,
		TotalExecutions:     m.TotalExecutions,
		SuccessCount:        m.SuccessCount,
		FailureCount:        m.FailureCount,
		SkippedCount:        m.SkippedCount,
	}

	if m.LastExecutionTime != nil {
		t := *m.LastExecutionTime
		snap.LastExecutionTime = &t
	}
	if !next.IsZero() {
		snap.NextExecutionTime = &next
	}

	return snap
}
