package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"pulseboard/internal/logger"
	"pulseboard/internal/metrics"
	"pulseboard/internal/state"
)

// Entry is one periodic task
type Entry struct {
	Name     string
	Interval time.Duration
	// Upper bound for one run; zero means no limit
	Timeout time.Duration
	// Run once right after Start instead of waiting a full interval
	RunOnStart bool
	// An error wrapping state.ErrHeld is logged as a skipped fire
	Run func(ctx context.Context) error
}

// Scheduler fires each entry on its own fixed-interval ticker. A run that
// is still in flight when the next tick arrives causes that tick to be
// dropped. Nothing about past runs survives a restart.
type Scheduler struct {
	entries []Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler for entries
func New(entries ...Entry) (*Scheduler, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, errors.New("scheduler entry name is required")
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate scheduler entry %q", e.Name)
		}
		seen[e.Name] = true
		if e.Interval <= 0 {
			return nil, fmt.Errorf("entry %q: interval must be positive", e.Name)
		}
		if e.Run == nil {
			return nil, fmt.Errorf("entry %q: run func is required", e.Name)
		}
	}
	return &Scheduler{entries: entries}, nil
}

// Start launches one goroutine per entry. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	log := logger.WithComponent("scheduler")
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, e := range s.entries {
		log.Info().
			Str("job", e.Name).
			Dur("interval", e.Interval).
			Bool("run_on_start", e.RunOnStart).
			Msg("scheduling job")

		s.wg.Add(1)
		go s.loop(ctx, e)
	}
}

// Stop cancels future fires and waits for every entry goroutine to return.
// A run in progress sees its context cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log := logger.WithComponent("scheduler")
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	defer s.wg.Done()

	if e.RunOnStart {
		s.fire(ctx, e)
	}

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, e)
		}
	}
}

// fire runs e once, containing panics and logging the outcome
func (s *Scheduler) fire(ctx context.Context, e Entry) {
	if ctx.Err() != nil {
		return
	}
	log := logger.WithComponent("scheduler").With().Str("job", e.Name).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panic recovered")
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
		}
	}()

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	err := e.Run(runCtx)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrHeld):
		log.Warn().Msg("previous pass still running, skipping this fire")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Info().Msg("job interrupted by shutdown")
	default:
		log.Error().Err(err).Msg("job failed")
	}
}
