// Package jobs holds the two background passes of the monitor: metric
// evaluation and alert delivery. Each pass is guarded so that at most one
// instance of a job runs at a time.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pulseboard/internal/metrics"
	"pulseboard/internal/state"
)

// Job names used in logs, metrics and the scheduler
const (
	EvaluationJob = "evaluation"
	DeliveryJob   = "delivery"
)

// ErrPassInProgress is returned when a pass is requested while another pass
// of the same job is still running. The request is dropped, not queued.
var ErrPassInProgress = fmt.Errorf("pass already in progress: %w", state.ErrHeld)

// recordRun updates the job metrics for a finished or skipped pass
func recordRun(job string, started time.Time, err error) {
	switch {
	case errors.Is(err, ErrPassInProgress):
		metrics.JobRunsTotal.WithLabelValues(job, "skipped").Inc()
		return
	case err != nil:
		metrics.JobRunsTotal.WithLabelValues(job, "failed").Inc()
	default:
		metrics.JobRunsTotal.WithLabelValues(job, "success").Inc()
		metrics.JobLastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
	metrics.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// lastResult keeps the outcome of the most recent completed pass
type lastResult[T any] struct {
	mu  sync.RWMutex
	val T
	ok  bool
}

func (l *lastResult[T]) set(v T) {
	l.mu.Lock()
	l.val, l.ok = v, true
	l.mu.Unlock()
}

func (l *lastResult[T]) get() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.val, l.ok
}
