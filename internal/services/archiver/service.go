// Package archiver packs staged database files into dated zip archives.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// DateLayout is the date suffix of archive names (YYYYMMDD).
const DateLayout = "20060102"

// Service defines the interface for archive operations.
type Service interface {
	ArchiveToFolder(ctx context.Context, stagedPath, archivePrefix, entryName string) (string, error)
}

// Impl implements the archiver Service interface.
type Impl struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new archiver service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clock:  clock.WallClock,
		logger: logger,
	}
}

// NewWithClock creates a new archiver service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, clk clock.Clock) *Impl {
	return &Impl{
		clock:  clk,
		logger: logger,
	}
}

// ArchiveName returns the archive path for the given prefix on the local
// calendar day of now.
func ArchiveName(archivePrefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s.zip", archivePrefix, now.Format(DateLayout))
}

// ArchiveToFolder writes a single-entry zip of stagedPath named after today's
// date. An archive from an earlier run on the same day is replaced.
func (s *Impl) ArchiveToFolder(ctx context.Context, stagedPath, archivePrefix, entryName string) (string, error) {
	archivePath := ArchiveName(archivePrefix, s.clock.Now().Local())

	if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", models.NewIOError("archive", archivePath, "cannot delete existing archive", err)
	}

	size, err := writeArchive(stagedPath, archivePath, entryName)
	if err != nil {
		_ = os.Remove(archivePath)
		return "", models.NewIOError("archive", archivePath, "cannot create archive", err)
	}

	s.logger.Info().
		Str("source", stagedPath).
		Str("archive", archivePath).
		Str("size", humanize.IBytes(uint64(size))). //nolint:gosec // size is never negative
		Msg("database archived")

	return archivePath, nil
}

func writeArchive(stagedPath, archivePath, entryName string) (int64, error) {
	in, err := os.Open(stagedPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // path comes from configuration
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(out)

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	hdr.Name = entryName
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}

	st, err := out.Stat()
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	return st.Size(), out.Close()
}
