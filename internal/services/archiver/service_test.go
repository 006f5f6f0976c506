package archiver

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock/testclock"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testClock() *testclock.Clock {
	return testclock.NewClock(time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local))
}

func readEntries(t *testing.T, path string) map[string]string {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	entries := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		entries[f.Name] = string(data)
	}
	return entries
}

func TestArchiveName(t *testing.T) {
	name := ArchiveName("/srv/backup/Accounting", time.Date(2024, 1, 5, 23, 59, 0, 0, time.Local))

	assert.Equal(t, "/srv/backup/Accounting-20240105.zip", name)
}

func TestArchiveToFolder_Success(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "acct.db")
	require.NoError(t, os.WriteFile(staged, []byte("ledger data"), 0o600))

	svc := NewWithClock(testLogger(), testClock())
	path, err := svc.ArchiveToFolder(context.Background(), staged, filepath.Join(dir, "Accounting"), "acct.db")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Accounting-20240315.zip"), path)
	assert.Equal(t, map[string]string{"acct.db": "ledger data"}, readEntries(t, path))
}

func TestArchiveToFolder_SameDayReplacesArchive(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "acct.db")
	prefix := filepath.Join(dir, "Accounting")
	svc := NewWithClock(testLogger(), testClock())

	require.NoError(t, os.WriteFile(staged, []byte("first"), 0o600))
	first, err := svc.ArchiveToFolder(context.Background(), staged, prefix, "acct.db")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(staged, []byte("second"), 0o600))
	second, err := svc.ArchiveToFolder(context.Background(), staged, prefix, "acct.db")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"acct.db": "second"}, readEntries(t, second))

	matches, err := filepath.Glob(prefix + "-*.zip")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestArchiveToFolder_NextDayKeepsPreviousArchive(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "acct.db")
	prefix := filepath.Join(dir, "Accounting")
	require.NoError(t, os.WriteFile(staged, []byte("data"), 0o600))

	clk := testClock()
	svc := NewWithClock(testLogger(), clk)

	_, err := svc.ArchiveToFolder(context.Background(), staged, prefix, "acct.db")
	require.NoError(t, err)
	clk.Advance(24 * time.Hour)
	_, err = svc.ArchiveToFolder(context.Background(), staged, prefix, "acct.db")
	require.NoError(t, err)

	matches, err := filepath.Glob(prefix + "-*.zip")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestArchiveToFolder_MissingStagedFile(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "Accounting")

	svc := NewWithClock(testLogger(), testClock())
	_, err := svc.ArchiveToFolder(context.Background(), filepath.Join(dir, "missing.db"), prefix, "acct.db")

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIO))
	assert.NoFileExists(t, prefix+"-20240315.zip")
}

func TestArchiveToFolder_MissingDirectory(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "acct.db")
	require.NoError(t, os.WriteFile(staged, []byte("data"), 0o600))

	svc := NewWithClock(testLogger(), testClock())
	_, err := svc.ArchiveToFolder(context.Background(), staged, filepath.Join(dir, "nope", "Accounting"), "acct.db")

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIO))
}
