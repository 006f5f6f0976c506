package retention

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTimeReader struct {
	creationTimeFunc func(path string) (time.Time, error)
}

func (m *mockTimeReader) CreationTime(path string) (time.Time, error) {
	if m.creationTimeFunc != nil {
		return m.creationTimeFunc(path)
	}
	return time.Time{}, nil
}

type mockObjectStore struct {
	listObjectsFunc  func(ctx context.Context, bucket, prefix string) ([]models.RemoteObject, error)
	deleteObjectFunc func(ctx context.Context, bucket, key string) (int, error)
}

func (m *mockObjectStore) ListBuckets(context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]models.RemoteObject, error) {
	if m.listObjectsFunc != nil {
		return m.listObjectsFunc(ctx, bucket, prefix)
	}
	return nil, nil
}

func (m *mockObjectStore) PutObject(context.Context, string, string, string, string) (int, error) {
	return http.StatusOK, nil
}

func (m *mockObjectStore) DeleteObject(ctx context.Context, bucket, key string) (int, error) {
	if m.deleteObjectFunc != nil {
		return m.deleteObjectFunc(ctx, bucket, key)
	}
	return http.StatusNoContent, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

var now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local)

func daysAgo(n int) time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local).AddDate(0, 0, -n)
}

func TestCutoff(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local), Cutoff(now, 7))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.Local), Cutoff(now, 15))
}

func TestCleanupFolder_DeletesExpiredArchives(t *testing.T) {
	dir := t.TempDir()
	files := map[string]time.Time{
		"Accounting-20240307.zip": daysAgo(8),
		"Accounting-20240309.zip": daysAgo(6),
		"Payroll-20240301.zip":    daysAgo(14),
	}
	for name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Accounting-dir"), 0o750))

	tr := &mockTimeReader{
		creationTimeFunc: func(path string) (time.Time, error) {
			created, ok := files[filepath.Base(path)]
			if !ok {
				t.Fatalf("unexpected creation time lookup for %s", path)
			}
			return created, nil
		},
	}

	svc := NewWithDeps(testLogger(), &mockObjectStore{}, tr, testclock.NewClock(now))
	deleted, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{
		BackupPath: dir,
		BackupName: "Accounting",
	}, 7)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "Accounting-20240307.zip")}, deleted)
	assert.NoFileExists(t, filepath.Join(dir, "Accounting-20240307.zip"))
	assert.FileExists(t, filepath.Join(dir, "Accounting-20240309.zip"))
	assert.FileExists(t, filepath.Join(dir, "Payroll-20240301.zip"))
	assert.DirExists(t, filepath.Join(dir, "Accounting-dir"))
}

func TestCleanupFolder_ExactlyAtCutoffIsKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Accounting-20240308.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	tr := &mockTimeReader{
		creationTimeFunc: func(string) (time.Time, error) {
			return time.Date(2024, 3, 8, 0, 0, 0, 0, time.Local), nil
		},
	}

	svc := NewWithDeps(testLogger(), &mockObjectStore{}, tr, testclock.NewClock(now))
	deleted, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{BackupPath: dir, BackupName: "Accounting"}, 7)

	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.FileExists(t, path)
}

func TestCleanupFolder_ZeroWindowKeepsToday(t *testing.T) {
	dir := t.TempDir()
	files := map[string]time.Time{
		"Accounting-20240314.zip": daysAgo(1),
		"Accounting-20240315.zip": time.Date(2024, 3, 15, 2, 0, 0, 0, time.Local),
	}
	for name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	tr := &mockTimeReader{
		creationTimeFunc: func(path string) (time.Time, error) {
			return files[filepath.Base(path)], nil
		},
	}

	svc := NewWithDeps(testLogger(), &mockObjectStore{}, tr, testclock.NewClock(now))
	deleted, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{BackupPath: dir, BackupName: "Accounting"}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "Accounting-20240314.zip")}, deleted)
	assert.FileExists(t, filepath.Join(dir, "Accounting-20240315.zip"))
}

func TestCleanupFolder_NegativeWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Accounting-20240315.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	svc := NewWithDeps(testLogger(), &mockObjectStore{}, &mockTimeReader{}, testclock.NewClock(now))
	deleted, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{BackupPath: dir, BackupName: "Accounting"}, -1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfig))
	assert.Empty(t, deleted)
	assert.FileExists(t, path)
}

func TestCleanupFolder_MissingDirectory(t *testing.T) {
	svc := NewWithDeps(testLogger(), &mockObjectStore{}, &mockTimeReader{}, testclock.NewClock(now))
	_, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{
		BackupPath: filepath.Join(t.TempDir(), "missing"),
		BackupName: "Accounting",
	}, 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIO))
}

func TestCleanupFolder_CreationTimeError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Accounting-20240301.zip"), []byte("x"), 0o600))

	tr := &mockTimeReader{
		creationTimeFunc: func(string) (time.Time, error) {
			return time.Time{}, errors.New("stat failed")
		},
	}

	svc := NewWithDeps(testLogger(), &mockObjectStore{}, tr, testclock.NewClock(now))
	_, err := svc.CleanupFolder(context.Background(), models.DatabaseConfig{BackupPath: dir, BackupName: "Accounting"}, 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIO))
	assert.Contains(t, err.Error(), "Accounting-20240301.zip")
}

func TestCleanupCloud_DeletesExpiredObjects(t *testing.T) {
	var listedPrefix string
	var deletedKeys []string

	store := &mockObjectStore{
		listObjectsFunc: func(_ context.Context, bucket, prefix string) ([]models.RemoteObject, error) {
			assert.Equal(t, "backups-co", bucket)
			listedPrefix = prefix
			return []models.RemoteObject{
				{Key: "Accounting-20240307.zip", LastModified: daysAgo(8)},
				{Key: "Accounting-20240309.zip", LastModified: daysAgo(6)},
				{Key: "Accounting-20240315.zip", LastModified: daysAgo(0)},
			}, nil
		},
		deleteObjectFunc: func(_ context.Context, _ string, key string) (int, error) {
			deletedKeys = append(deletedKeys, key)
			return http.StatusNoContent, nil
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	deleted, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", 7)

	require.NoError(t, err)
	assert.Equal(t, "Accounting", listedPrefix)
	assert.Equal(t, []string{"Accounting-20240307.zip"}, deleted)
	assert.Equal(t, deleted, deletedKeys)
}

func TestCleanupCloud_UnexpectedStatus(t *testing.T) {
	store := &mockObjectStore{
		listObjectsFunc: func(context.Context, string, string) ([]models.RemoteObject, error) {
			return []models.RemoteObject{{Key: "Accounting-20240301.zip", LastModified: daysAgo(14)}}, nil
		},
		deleteObjectFunc: func(context.Context, string, string) (int, error) {
			return http.StatusOK, nil
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	deleted, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpload))
	assert.Contains(t, err.Error(), "Accounting-20240301.zip")
	assert.Empty(t, deleted)
}

func TestCleanupCloud_DeleteError(t *testing.T) {
	store := &mockObjectStore{
		listObjectsFunc: func(context.Context, string, string) ([]models.RemoteObject, error) {
			return []models.RemoteObject{{Key: "Accounting-20240301.zip", LastModified: daysAgo(14)}}, nil
		},
		deleteObjectFunc: func(context.Context, string, string) (int, error) {
			return http.StatusForbidden, errors.New("AccessDenied")
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	_, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpload))
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestCleanupCloud_ListError(t *testing.T) {
	store := &mockObjectStore{
		listObjectsFunc: func(context.Context, string, string) ([]models.RemoteObject, error) {
			return nil, errors.New("NoSuchBucket")
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	_, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpload))
}

func TestCleanupCloud_ZeroWindowKeepsToday(t *testing.T) {
	var removed []string
	store := &mockObjectStore{
		listObjectsFunc: func(context.Context, string, string) ([]models.RemoteObject, error) {
			return []models.RemoteObject{
				{Key: "Accounting-20240314.zip", LastModified: daysAgo(1)},
				{Key: "Accounting-20240315.zip", LastModified: time.Date(2024, 3, 15, 2, 0, 0, 0, time.Local)},
			}, nil
		},
		deleteObjectFunc: func(_ context.Context, _, key string) (int, error) {
			removed = append(removed, key)
			return http.StatusNoContent, nil
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	deleted, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"Accounting-20240314.zip"}, deleted)
	assert.Equal(t, []string{"Accounting-20240314.zip"}, removed)
}

func TestCleanupCloud_NegativeWindow(t *testing.T) {
	store := &mockObjectStore{
		listObjectsFunc: func(context.Context, string, string) ([]models.RemoteObject, error) {
			t.Fatal("store must not be listed for a negative window")
			return nil, nil
		},
	}

	svc := NewWithDeps(testLogger(), store, &mockTimeReader{}, testclock.NewClock(now))
	_, err := svc.CleanupCloud(context.Background(), "backups-co", "Accounting", -1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfig))
}
