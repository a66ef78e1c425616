package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/logger"
	"pulseboard/internal/scheduler"
	"pulseboard/internal/state"
)

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		entries []scheduler.Entry
	}{
		{"missing name", []scheduler.Entry{{Interval: time.Second, Run: noop}}},
		{"zero interval", []scheduler.Entry{{Name: "a", Run: noop}}},
		{"missing run", []scheduler.Entry{{Name: "a", Interval: time.Second}}},
		{"duplicate", []scheduler.Entry{
			{Name: "a", Interval: time.Second, Run: noop},
			{Name: "a", Interval: time.Second, Run: noop},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scheduler.New(tt.entries...)
			assert.Error(t, err)
		})
	}
}

func TestScheduler_FiresEachEntry(t *testing.T) {
	var fast, slow atomic.Int32
	s, err := scheduler.New(
		scheduler.Entry{Name: "fast", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		scheduler.Entry{Name: "slow", Interval: 25 * time.Millisecond, Run: func(context.Context) error {
			slow.Add(1)
			return errors.New("always fails")
		}},
	)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 && slow.Load() >= 2 },
		2*time.Second, 5*time.Millisecond, "failing entries keep firing")
}

func TestScheduler_FirstFireWaitsOneInterval(t *testing.T) {
	var runs atomic.Int32
	s, err := scheduler.New(scheduler.Entry{Name: "later", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	require.NoError(t, err)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Zero(t, runs.Load())
}

func TestScheduler_RunOnStart(t *testing.T) {
	var runs atomic.Int32
	s, err := scheduler.New(scheduler.Entry{
		Name: "now", Interval: time.Hour, RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	var runs atomic.Int32
	s, err := scheduler.New(scheduler.Entry{Name: "panicky", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		panic("boom")
	}})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_SkippedPassIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { logger.Logger = zerolog.Nop() })

	var runs atomic.Int32
	s, err := scheduler.New(scheduler.Entry{Name: "busy", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return fmt.Errorf("evaluation: %w", state.ErrHeld)
	}})
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	out := buf.String()
	assert.Contains(t, out, "skipping this fire")
	assert.NotContains(t, out, "job failed", "a held guard is not a failure")
}

func TestScheduler_StopCancelsRunAndWaits(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	s, err := scheduler.New(scheduler.Entry{
		Name: "long", Interval: time.Hour, RunOnStart: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	<-started
	s.Stop()
	assert.True(t, cancelled.Load(), "Stop returns only after the run observed cancellation")

	s.Stop()
}

func TestScheduler_Timeout(t *testing.T) {
	errs := make(chan error, 1)
	s, err := scheduler.New(scheduler.Entry{
		Name: "bounded", Interval: time.Hour, Timeout: 10 * time.Millisecond, RunOnStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			errs <- ctx.Err()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not bounded by its timeout")
	}
}
