package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/config"
	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/fgeck/dbbackup-cloud/internal/services/mailer"
	"github.com/fgeck/dbbackup-cloud/internal/services/runner"
	"github.com/fgeck/dbbackup-cloud/internal/services/storage"
	"github.com/rs/zerolog/log"
)

var errConfigRequired = errors.New("config file is required")

// loadOptions reads and validates the configuration file.
func loadOptions() (*models.BackupOptions, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, errConfigRequired
	}

	opts, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(opts); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	if len(opts.ActiveDatabases()) == 0 {
		log.Warn().Msg("no database is active, passes will back up nothing")
	}

	log.Info().
		Str("config", configFile).
		Str("bucket", opts.BucketName).
		Int("databases", len(opts.Databases)).
		Msg("configuration loaded")

	return opts, nil
}

// newRunner builds the storage client and only then the runner. A client
// that cannot be built is reported by email when the email settings allow it.
func newRunner(ctx context.Context, opts *models.BackupOptions) (*runner.Impl, error) {
	store, err := storage.NewS3Store(ctx, *opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to create storage client")
		notifyStartupFailure(ctx, opts, err)
		return nil, err
	}
	return runner.New(log.Logger, store), nil
}

func notifyStartupFailure(ctx context.Context, opts *models.BackupOptions, cause error) {
	m := mailer.New(log.Logger)
	if err := m.ValidateConfig(opts.Email); err != nil {
		log.Warn().Err(err).Msg("startup failure not reported by email")
		return
	}

	host, _ := os.Hostname()
	body := mailer.FormatReport(models.FailureReport{
		Host:         host,
		Database:     "(all databases)",
		Bucket:       opts.BucketName,
		StartTime:    time.Now(),
		FailedStep:   models.StepInit,
		ErrorMessage: cause.Error(),
	})
	if err := m.SendMail(ctx, body, opts.Email); err != nil {
		log.Error().Err(err).Msg("failed to send startup failure report")
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func logPass(result *models.PassResult) {
	for _, db := range result.Databases {
		if db.Error != nil {
			log.Error().
				Str("database", db.Database).
				Str("step", db.FailedStep).
				Err(db.Error).
				Msg("database failed")
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("databases", len(result.Databases)).
		Int("failed", result.Failed()).
		Strs("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("pass finished")
}
