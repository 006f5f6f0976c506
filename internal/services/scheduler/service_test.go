package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestParse(t *testing.T) {
	sched, err := Parse("0 2 * * *")
	require.NoError(t, err)

	from := time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 3, 16, 2, 0, 0, 0, time.Local), sched.Next(from))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("every night")

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfig))
}

func TestRun_InvalidSchedule(t *testing.T) {
	svc := NewWithClock(testLogger(), testclock.NewClock(time.Now()))

	err := svc.Run(context.Background(), "61 * * * *", func(context.Context) error {
		t.Fatal("pass must not run")
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfig))
}

func TestRun_RunsPassOnEachTick(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 15, 1, 0, 0, 0, time.Local))
	svc := NewWithClock(testLogger(), clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := make(chan time.Time, 2)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, "0 2 * * *", func(context.Context) error {
			passes <- clk.Now()
			return errors.New("one database failed")
		})
	}()

	require.NoError(t, clk.WaitAdvance(time.Hour, time.Second, 1))
	select {
	case at := <-passes:
		assert.Equal(t, time.Date(2024, 3, 15, 2, 0, 0, 0, time.Local), at)
	case <-time.After(time.Second):
		t.Fatal("first pass did not run")
	}

	// A failed pass does not stop the loop.
	require.NoError(t, clk.WaitAdvance(24*time.Hour, time.Second, 1))
	select {
	case at := <-passes:
		assert.Equal(t, time.Date(2024, 3, 16, 2, 0, 0, 0, time.Local), at)
	case <-time.After(time.Second):
		t.Fatal("second pass did not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_StopsWhenCancelledDuringPass(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 15, 1, 59, 0, 0, time.Local))
	svc := NewWithClock(testLogger(), clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, "0 2 * * *", func(context.Context) error {
			calls++
			cancel()
			return context.Canceled
		})
	}()

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
