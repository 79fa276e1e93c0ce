package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"orderbroker/internal/scheduler"

	"github.com/stretchr/testify/require"
)

func TestAddValidates(t *testing.T) {
	s := scheduler.New(nil)
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Add(scheduler.Task{Name: "", Interval: time.Second, Run: noop}))
	require.Error(t, s.Add(scheduler.Task{Name: "drain", Interval: 0, Run: noop}))
	require.NoError(t, s.Add(scheduler.Task{Name: "drain", Interval: time.Second, Run: noop}))
	require.Error(t, s.Add(scheduler.Task{Name: "drain", Interval: time.Second, Run: noop}))
}

func TestExclusiveSkipsWhileRunning(t *testing.T) {
	s := scheduler.New(nil)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(scheduler.Task{Name: "drain", Interval: time.Hour, Run: noop}))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Exclusive(context.Background(), "drain", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var calls atomic.Int64
	err := s.Exclusive(context.Background(), "drain", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.ErrorIs(t, err, scheduler.ErrBusy)
	require.Zero(t, calls.Load())

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, s.Exclusive(context.Background(), "drain", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.EqualValues(t, 1, calls.Load())
}

func TestExclusiveUnknownTask(t *testing.T) {
	s := scheduler.New(nil)
	require.Error(t, s.Exclusive(context.Background(), "missing", func(context.Context) error { return nil }))
}

func TestExclusivePassesTaskError(t *testing.T) {
	s := scheduler.New(nil)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add(scheduler.Task{Name: "drain", Interval: time.Hour, Run: noop}))

	boom := errors.New("boom")
	require.ErrorIs(t, s.Exclusive(context.Background(), "drain", func(context.Context) error { return boom }), boom)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := scheduler.New(nil)
	var calls atomic.Int64
	require.NoError(t, s.Add(scheduler.Task{
		Name:     "sweep",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			calls.Add(1)
			return errors.New("ignored")
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
