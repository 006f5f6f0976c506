// Package retention removes archives older than the retention window, both
// from the local backup directory and from the bucket.
package retention

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/fgeck/dbbackup-cloud/internal/services/stager"
	"github.com/fgeck/dbbackup-cloud/internal/services/storage"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Service defines the interface for retention cleanup.
type Service interface {
	CleanupFolder(ctx context.Context, cfg models.DatabaseConfig, depthDays int) ([]string, error)
	CleanupCloud(ctx context.Context, bucket, namePrefix string, depthDays int) ([]string, error)
}

// Impl implements the retention Service interface.
type Impl struct {
	store  storage.ObjectStore
	times  stager.TimeReader
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger, store storage.ObjectStore) *Impl {
	return &Impl{
		store:  store,
		times:  stager.FileTimes{},
		clock:  clock.WallClock,
		logger: logger,
	}
}

// NewWithDeps creates a new retention service with custom time sources (for testing).
func NewWithDeps(logger zerolog.Logger, store storage.ObjectStore, tr stager.TimeReader, clk clock.Clock) *Impl {
	return &Impl{
		store:  store,
		times:  tr,
		clock:  clk,
		logger: logger,
	}
}

// Cutoff returns local midnight of now's day moved back depthDays days.
func Cutoff(now time.Time, depthDays int) time.Time {
	now = now.Local()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	return midnight.AddDate(0, 0, -depthDays)
}

// CleanupFolder deletes files in the backup directory whose name starts with
// the archive prefix and whose creation time is before the cutoff.
func (s *Impl) CleanupFolder(ctx context.Context, cfg models.DatabaseConfig, depthDays int) ([]string, error) {
	if depthDays < 0 {
		return nil, negativeWindow(depthDays)
	}

	entries, err := os.ReadDir(cfg.BackupPath)
	if err != nil {
		return nil, models.NewIOError("cleanup", cfg.BackupPath, "cannot read backup directory", err)
	}

	cutoff := Cutoff(s.clock.Now(), depthDays)
	var deleted []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), cfg.BackupName) {
			continue
		}

		path := filepath.Join(cfg.BackupPath, entry.Name())
		created, err := s.times.CreationTime(path)
		if err != nil {
			return deleted, models.NewIOError("cleanup", path, "cannot read creation time of", err)
		}
		if !created.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return deleted, models.NewIOError("cleanup", path, "cannot delete", err)
		}
		deleted = append(deleted, path)

		s.logger.Info().
			Str("file", path).
			Time("created", created).
			Msg("expired archive deleted")
	}

	return deleted, nil
}

// CleanupCloud deletes objects keyed with namePrefix that were last modified
// before the cutoff. The store must answer 204 No Content for each deletion.
func (s *Impl) CleanupCloud(ctx context.Context, bucket, namePrefix string, depthDays int) ([]string, error) {
	if depthDays < 0 {
		return nil, negativeWindow(depthDays)
	}

	objects, err := s.store.ListObjects(ctx, bucket, namePrefix)
	if err != nil {
		return nil, models.NewUploadError("cleanup", namePrefix, "cannot list bucket "+bucket+" for", err)
	}

	cutoff := Cutoff(s.clock.Now(), depthDays)
	var deleted []string

	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, namePrefix) || !obj.LastModified.Before(cutoff) {
			continue
		}

		status, err := s.store.DeleteObject(ctx, bucket, obj.Key)
		if err != nil {
			return deleted, models.NewUploadError("cleanup", obj.Key, "cannot delete from bucket "+bucket+":", err)
		}
		if status != 0 && status != http.StatusNoContent {
			return deleted, models.NewUploadError("cleanup", obj.Key,
				"store answered "+http.StatusText(status)+" deleting", nil)
		}
		deleted = append(deleted, obj.Key)

		s.logger.Info().
			Str("bucket", bucket).
			Str("key", obj.Key).
			Time("last_modified", obj.LastModified).
			Msg("expired object deleted")
	}

	return deleted, nil
}

func negativeWindow(depthDays int) error {
	return models.NewConfigError("cleanup", fmt.Sprintf("retention window must not be negative, got %d day(s)", depthDays), nil)
}
