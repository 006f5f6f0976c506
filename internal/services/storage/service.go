// Package storage uploads archives to object storage and verifies them.
//
// Verification relies on the store reporting the MD5 of an object as its
// ETag, which holds for objects uploaded in a single PUT. Multipart ETags
// carry a "-<parts>" suffix and are rejected as not comparable.
package storage

import (
	"context"
	"crypto/md5" //nolint:gosec // integrity comparison with the store's ETag, not security
	"crypto/sha1" //nolint:gosec // checksum algorithm supported by S3, not security
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for cloud upload and verification.
type Service interface {
	CheckBucketExists(ctx context.Context, bucket string) error
	CopyArchiveToCloud(ctx context.Context, bucket, archivePath string) (string, error)
	CompareChecksum(ctx context.Context, bucket, archivePath string) error
}

// Impl implements the storage Service interface.
type Impl struct {
	store  ObjectStore
	logger zerolog.Logger
}

// New creates a new storage service on top of store.
func New(logger zerolog.Logger, store ObjectStore) *Impl {
	return &Impl{
		store:  store,
		logger: logger,
	}
}

// CheckBucketExists fails with a configuration error when bucket is not
// among the account's buckets.
func (s *Impl) CheckBucketExists(ctx context.Context, bucket string) error {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return models.NewUploadError("bucket", bucket, "cannot list buckets while looking for", err)
	}

	for _, name := range buckets {
		if name == bucket {
			return nil
		}
	}
	return models.NewConfigError("bucket", "bucket "+bucket+" does not exist in the store", nil)
}

// CopyArchiveToCloud uploads archivePath under its base name and returns the key.
func (s *Impl) CopyArchiveToCloud(ctx context.Context, bucket, archivePath string) (string, error) {
	sum, size, err := fileDigest(archivePath, sha1.New()) //nolint:gosec // see import
	if err != nil {
		return "", models.NewIOError("upload", archivePath, "cannot hash archive", err)
	}

	key := filepath.Base(archivePath)
	status, err := s.store.PutObject(ctx, bucket, key, archivePath, base64.StdEncoding.EncodeToString(sum))
	if err != nil {
		return "", models.NewUploadError("upload", archivePath, "cannot upload to bucket "+bucket+":", err)
	}
	if status != 0 && status != http.StatusOK {
		return "", models.NewUploadError("upload", archivePath,
			"store answered "+http.StatusText(status)+" for", nil)
	}

	s.logger.Info().
		Str("archive", archivePath).
		Str("bucket", bucket).
		Str("key", key).
		Str("size", humanize.IBytes(uint64(size))). //nolint:gosec // size is never negative
		Msg("archive uploaded")

	return key, nil
}

// CompareChecksum compares the MD5 of archivePath with the ETag of the
// uploaded object. A missing object counts as a failed upload.
func (s *Impl) CompareChecksum(ctx context.Context, bucket, archivePath string) error {
	sum, _, err := fileDigest(archivePath, md5.New()) //nolint:gosec // see import
	if err != nil {
		return models.NewIOError("verify", archivePath, "cannot hash archive", err)
	}
	local := hex.EncodeToString(sum)

	key := filepath.Base(archivePath)
	objects, err := s.store.ListObjects(ctx, bucket, key)
	if err != nil {
		return models.NewUploadError("verify", key, "cannot list bucket "+bucket+" for", err)
	}

	for _, obj := range objects {
		if obj.Key != key {
			continue
		}

		remote, ok := ETagDigest(obj.ETag)
		if !ok {
			return models.NewIntegrityError("verify", key, "multipart ETag "+obj.ETag+" cannot be compared for")
		}
		if !strings.EqualFold(local, remote) {
			return models.NewIntegrityError("verify", key,
				"checksum of "+archivePath+" differs from object in bucket "+bucket+":")
		}

		s.logger.Info().
			Str("key", key).
			Str("md5", local).
			Msg("archive checksum verified")
		return nil
	}

	return models.NewUploadError("verify", key, "uploaded object not found in bucket "+bucket+":", nil)
}

// ETagDigest strips the quoting from an ETag. It reports false for multipart
// ETags, which are not a digest of the object content.
func ETagDigest(etag string) (string, bool) {
	digest := strings.ToLower(strings.Trim(etag, `"`))
	if digest == "" || strings.Contains(digest, "-") {
		return digest, false
	}
	return digest, true
}

func fileDigest(path string, h hash.Hash) ([]byte, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is produced by the archiver
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), n, nil
}
