// Package runner orchestrates a backup pass over all configured databases.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/fgeck/dbbackup-cloud/internal/services/archiver"
	"github.com/fgeck/dbbackup-cloud/internal/services/mailer"
	"github.com/fgeck/dbbackup-cloud/internal/services/retention"
	"github.com/fgeck/dbbackup-cloud/internal/services/ssh"
	"github.com/fgeck/dbbackup-cloud/internal/services/stager"
	"github.com/fgeck/dbbackup-cloud/internal/services/storage"
	"github.com/fgeck/dbbackup-cloud/internal/services/wol"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// allDatabases labels failure reports that concern the whole pass.
const allDatabases = "(all databases)"

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, opts models.BackupOptions) (*models.PassResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	stagerSvc    stager.Service
	archiverSvc  archiver.Service
	storageSvc   storage.Service
	retentionSvc retention.Service
	mailerSvc    mailer.Service
	wolSvc       wol.Service
	sshSvc       ssh.Service
	clock        clock.Clock
	host         string
	logger       zerolog.Logger
}

// New creates a new runner service backed by store.
func New(logger zerolog.Logger, store storage.ObjectStore) *Impl {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Impl{
		stagerSvc:    stager.New(logger),
		archiverSvc:  archiver.New(logger),
		storageSvc:   storage.New(logger, store),
		retentionSvc: retention.New(logger, store),
		mailerSvc:    mailer.New(logger),
		wolSvc:       wol.New(logger),
		sshSvc:       ssh.New(logger),
		clock:        clock.WallClock,
		host:         host,
		logger:       logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	stagerSvc stager.Service,
	archiverSvc archiver.Service,
	storageSvc storage.Service,
	retentionSvc retention.Service,
	mailerSvc mailer.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	clk clock.Clock,
) *Impl {
	return &Impl{
		stagerSvc:    stagerSvc,
		archiverSvc:  archiverSvc,
		storageSvc:   storageSvc,
		retentionSvc: retentionSvc,
		mailerSvc:    mailerSvc,
		wolSvc:       wolSvc,
		sshSvc:       sshSvc,
		clock:        clk,
		host:         "test-host",
		logger:       logger,
	}
}

// Run performs one pass. A failing database is reported by email and does
// not stop the pass. The returned error is set only when the pass itself
// could not run: invalid email settings, an unreachable storage host or
// cancellation.
func (s *Impl) Run(ctx context.Context, opts models.BackupOptions) (*models.PassResult, error) {
	result := &models.PassResult{
		RunID:     uuid.NewString(),
		StartTime: s.clock.Now(),
	}
	logger := s.logger.With().Str("run_id", result.RunID).Logger()

	logger.Info().
		Str("bucket", opts.BucketName).
		Int("databases", len(opts.Databases)).
		Int("active", len(opts.ActiveDatabases())).
		Msg("starting backup pass")

	if err := s.mailerSvc.ValidateConfig(opts.Email); err != nil {
		logger.Error().Err(err).Msg("email settings are invalid, pass aborted")
		return s.finish(result), err
	}

	if opts.WOL != nil {
		if err := s.wake(ctx, *opts.WOL); err != nil {
			logger.Error().Err(err).Msg("storage host did not wake, pass aborted")
			s.notify(context.WithoutCancel(ctx), opts, result, models.DatabaseResult{Database: allDatabases, FailedStep: models.StepWake, Error: err}, "")
			return s.finish(result), err
		}
	}

	for _, db := range opts.Databases {
		if err := ctx.Err(); err != nil {
			logger.Warn().Msg("backup pass cancelled")
			return s.finish(result), err
		}

		if !db.IsActive {
			logger.Info().Str("database", db.BackupName).Msg("database inactive, skipped")
			result.Skipped = append(result.Skipped, db.BackupName)
			continue
		}

		// A started database runs to completion even if the pass is cancelled.
		dbCtx := context.WithoutCancel(ctx)
		dbResult, source := s.backupDatabase(dbCtx, logger, opts, db)
		result.Databases = append(result.Databases, dbResult)

		if dbResult.Error != nil {
			logger.Error().
				Err(dbResult.Error).
				Str("database", dbResult.Database).
				Str("step", dbResult.FailedStep).
				Msg("database backup failed")
			s.notify(dbCtx, opts, result, dbResult, source)
		}
	}

	if opts.SSHShutdown != nil {
		if err := s.shutdown(ctx, *opts.SSHShutdown); err != nil {
			logger.Error().Err(err).Msg("storage host shutdown failed")
			s.notify(context.WithoutCancel(ctx), opts, result, models.DatabaseResult{Database: allDatabases, FailedStep: models.StepShutdown, Error: err}, "")
		}
	}

	s.finish(result)
	logger.Info().
		Int("succeeded", len(result.Databases)-result.Failed()).
		Int("failed", result.Failed()).
		Int("skipped", len(result.Skipped)).
		Dur("duration", result.Duration).
		Msg("backup pass completed")

	return result, nil
}

// backupDatabase runs the pipeline for one database and returns its result
// along with the live database path when it could be derived.
func (s *Impl) backupDatabase(
	ctx context.Context,
	logger zerolog.Logger,
	opts models.BackupOptions,
	db models.DatabaseConfig,
) (models.DatabaseResult, string) {
	start := s.clock.Now()
	res := models.DatabaseResult{Database: label(db)}
	logger = logger.With().Str("database", res.Database).Logger()

	fail := func(step string, err error) models.DatabaseResult {
		res.FailedStep = step
		res.Error = err
		res.Duration = s.clock.Now().Sub(start)
		return res
	}

	paths, err := s.stagerSvc.CheckPathsExist(db)
	if err != nil {
		return fail(models.StepPaths, err), ""
	}

	if err := s.storageSvc.CheckBucketExists(ctx, opts.BucketName); err != nil {
		return fail(models.StepBucket, err), paths.Source
	}

	if err := s.stagerSvc.CopyDatabaseToFolder(ctx, paths.Source, paths.Staged); err != nil {
		return fail(models.StepCopy, err), paths.Source
	}

	archivePath, err := s.archiverSvc.ArchiveToFolder(ctx, paths.Staged, paths.ArchivePrefix, db.DatabaseName)
	if err != nil {
		return fail(models.StepArchive, err), paths.Source
	}
	res.ArchivePath = archivePath
	if info, err := os.Stat(archivePath); err == nil {
		res.ArchiveSize = info.Size()
	}

	key, err := s.storageSvc.CopyArchiveToCloud(ctx, opts.BucketName, archivePath)
	if err != nil {
		return fail(models.StepUpload, err), paths.Source
	}
	res.UploadedKey = key

	if err := s.storageSvc.CompareChecksum(ctx, opts.BucketName, archivePath); err != nil {
		return fail(models.StepVerify, err), paths.Source
	}

	res.LocalDeleted, err = s.retentionSvc.CleanupFolder(ctx, db, opts.ArchiveDepthInDays)
	if err != nil {
		return fail(models.StepCleanup, err), paths.Source
	}

	res.RemoteDeleted, err = s.retentionSvc.CleanupCloud(ctx, opts.BucketName, db.BackupName, opts.ArchiveDepthInDays)
	if err != nil {
		return fail(models.StepCleanup, err), paths.Source
	}

	res.Duration = s.clock.Now().Sub(start)
	logger.Info().
		Str("key", res.UploadedKey).
		Int("local_deleted", len(res.LocalDeleted)).
		Int("remote_deleted", len(res.RemoteDeleted)).
		Dur("duration", res.Duration).
		Msg("database backed up")

	return res, paths.Source
}

func (s *Impl) wake(ctx context.Context, cfg models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wake-on-lan failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("wake-on-lan failed: %w", result.Error)
	}
	if !result.TargetReady {
		return errors.New("storage host did not become ready")
	}

	s.logger.Info().
		Int("endpoint_probes", result.Attempts).
		Dur("wait_duration", result.WaitDuration).
		Msg("storage host awake")
	return nil
}

func (s *Impl) shutdown(ctx context.Context, cfg models.SSHShutdownConfig) error {
	result, err := s.sshSvc.Shutdown(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ssh shutdown failed: %w", err)
	}
	if result.Error != nil && !result.CommandRun {
		return fmt.Errorf("ssh shutdown failed: %w", result.Error)
	}
	return nil
}

// notify emails a failure report. A failed send is only logged.
func (s *Impl) notify(
	ctx context.Context,
	opts models.BackupOptions,
	pass *models.PassResult,
	res models.DatabaseResult,
	source string,
) {
	body := mailer.FormatReport(models.FailureReport{
		RunID:        pass.RunID,
		Host:         s.host,
		Database:     res.Database,
		Source:       source,
		Bucket:       opts.BucketName,
		StartTime:    pass.StartTime,
		Duration:     s.clock.Now().Sub(pass.StartTime),
		FailedStep:   res.FailedStep,
		ErrorMessage: res.Error.Error(),
	})

	if err := s.mailerSvc.SendMail(ctx, body, opts.Email); err != nil {
		s.logger.Error().Err(err).Str("run_id", pass.RunID).Msg("failed to send failure report")
	}
}

func (s *Impl) finish(result *models.PassResult) *models.PassResult {
	result.Duration = s.clock.Now().Sub(result.StartTime)
	return result
}

func label(db models.DatabaseConfig) string {
	if db.BackupName != "" {
		return db.BackupName
	}
	return db.DatabaseName
}
