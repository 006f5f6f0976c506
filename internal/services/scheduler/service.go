// Package scheduler runs backup passes on a cron schedule.
package scheduler

import (
	"context"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// PassFunc runs one backup pass.
type PassFunc func(ctx context.Context) error

// Service defines the interface for the pass scheduler.
type Service interface {
	Run(ctx context.Context, schedule string, pass PassFunc) error
}

// Impl implements the scheduler Service interface.
type Impl struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new scheduler service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clock:  clock.WallClock,
		logger: logger,
	}
}

// NewWithClock creates a new scheduler service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, clk clock.Clock) *Impl {
	return &Impl{
		clock:  clk,
		logger: logger,
	}
}

// Parse parses a standard five-field cron expression.
func Parse(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, models.NewConfigError("schedule", "invalid cron expression "+schedule, err)
	}
	return sched, nil
}

// Run waits for each tick of schedule and runs pass. A failing pass is logged
// and the loop continues. Run returns nil once ctx is cancelled.
func (s *Impl) Run(ctx context.Context, schedule string, pass PassFunc) error {
	sched, err := Parse(schedule)
	if err != nil {
		return err
	}

	for {
		now := s.clock.Now()
		next := sched.Next(now)

		s.logger.Info().
			Str("schedule", schedule).
			Time("next_run", next).
			Msg("waiting for next pass")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-s.clock.After(next.Sub(now)):
		}

		if err := pass(ctx); err != nil {
			s.logger.Error().Err(err).Msg("backup pass failed")
		}

		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopped")
			return nil
		}
	}
}
