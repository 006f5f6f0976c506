// Package stager copies live database files into their backup directory.
package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/djherbis/times"
	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for staging operations.
type Service interface {
	CheckPathsExist(cfg models.DatabaseConfig) (models.StagePaths, error)
	CopyDatabaseToFolder(ctx context.Context, source, destination string) error
}

// TimeReader reports the creation time of a file.
type TimeReader interface {
	CreationTime(path string) (time.Time, error)
}

// FileTimes reads creation times from the filesystem. Platforms without a
// birth time fall back to the modification time.
type FileTimes struct{}

// CreationTime returns the birth time of path when available.
func (FileTimes) CreationTime(path string) (time.Time, error) {
	ts, err := times.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if ts.HasBirthTime() {
		return ts.BirthTime(), nil
	}
	return ts.ModTime(), nil
}

// Impl implements the stager Service interface.
type Impl struct {
	times  TimeReader
	logger zerolog.Logger
}

// New creates a new stager service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		times:  FileTimes{},
		logger: logger,
	}
}

// NewWithTimeReader creates a new stager service with a custom time source (for testing).
func NewWithTimeReader(logger zerolog.Logger, tr TimeReader) *Impl {
	return &Impl{
		times:  tr,
		logger: logger,
	}
}

// CheckPathsExist derives the source, staged and archive-prefix paths of a
// database. It never touches the filesystem.
func (s *Impl) CheckPathsExist(cfg models.DatabaseConfig) (models.StagePaths, error) {
	switch {
	case cfg.DatabasePath == "":
		return models.StagePaths{}, models.NewConfigError("paths", "database directory is not set", nil)
	case cfg.DatabaseName == "":
		return models.StagePaths{}, models.NewConfigError("paths", "database file name is not set", nil)
	case cfg.BackupPath == "":
		return models.StagePaths{}, models.NewConfigError("paths", "backup directory is not set", nil)
	case cfg.BackupName == "":
		return models.StagePaths{}, models.NewConfigError("paths", "archive name is not set", nil)
	}

	return models.StagePaths{
		Source:        filepath.Join(cfg.DatabasePath, cfg.DatabaseName),
		Staged:        filepath.Join(cfg.BackupPath, cfg.DatabaseName),
		ArchivePrefix: filepath.Join(cfg.BackupPath, cfg.BackupName),
	}, nil
}

// CopyDatabaseToFolder copies source to destination. An existing destination
// is replaced only when its creation time differs from the source's.
func (s *Impl) CopyDatabaseToFolder(ctx context.Context, source, destination string) error {
	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.NewNotFoundError("copy", source, "database file does not exist:")
		}
		return models.NewIOError("copy", source, "cannot stat database file", err)
	}

	if err := s.removeStale(source, destination); err != nil {
		return err
	}

	if _, err := os.Stat(destination); err == nil {
		return models.NewIOError("copy", destination, "destination already exists:", nil)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return models.NewIOError("copy", filepath.Dir(destination), "cannot create backup directory", err)
	}

	written, err := copyFile(source, destination)
	if err != nil {
		_ = os.Remove(destination)
		return models.NewIOError("copy", destination, "cannot copy database to", err)
	}

	s.logger.Info().
		Str("source", source).
		Str("destination", destination).
		Int64("size_bytes", written).
		Msg("database copied")

	return nil
}

func (s *Impl) removeStale(source, destination string) error {
	if _, err := os.Stat(destination); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	srcTime, err := s.times.CreationTime(source)
	if err != nil {
		return models.NewIOError("copy", source, "cannot read creation time of", err)
	}
	dstTime, err := s.times.CreationTime(destination)
	if err != nil {
		return models.NewIOError("copy", destination, "cannot read creation time of", err)
	}

	if dstTime.Equal(srcTime) {
		return nil
	}

	if err := os.Remove(destination); err != nil {
		return models.NewIOError("copy", destination, "cannot delete stale copy", err)
	}

	s.logger.Info().
		Str("file", destination).
		Time("created", dstTime).
		Msg("stale copy deleted")

	return nil
}

func copyFile(source, destination string) (int64, error) {
	in, err := os.Open(source) //nolint:gosec // path comes from configuration
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return written, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return written, fmt.Errorf("sync: %w", err)
	}
	return written, out.Close()
}
