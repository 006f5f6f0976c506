package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/fgeck/dbbackup-cloud/internal/models"
)

// ObjectStore is the subset of object storage the pipeline relies on.
// Status values are raw HTTP status codes, 0 when the transport did not
// expose one.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]models.RemoteObject, error)
	PutObject(ctx context.Context, bucket, key, filePath, sha1Base64 string) (int, error)
	DeleteObject(ctx context.Context, bucket, key string) (int, error)
}

// API wraps the S3 client calls used by S3Store for mocking.
type API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements ObjectStore on an S3-compatible service.
type S3Store struct {
	client API
}

// NewS3Store builds an S3 client for the configured endpoint and credentials.
// Failures here mean the pass must not start.
func NewS3Store(ctx context.Context, opts models.BackupOptions) (*S3Store, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, models.NewConfigError("storage", "access key and secret key are required", nil)
	}

	httpClient := awshttp.NewBuildableClient().WithTimeout(10 * time.Minute)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
		config.WithHTTPClient(httpClient),
		// Failures are reported once, never retried.
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, models.NewConfigError("storage", "cannot load S3 configuration", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.ServiceURL != "" {
			o.BaseEndpoint = aws.String(opts.ServiceURL)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{client: client}, nil
}

// NewS3StoreWithClient wraps an existing client (for testing).
func NewS3StoreWithClient(client API) *S3Store {
	return &S3Store{client: client}
}

// ListBuckets returns the names of all buckets visible to the credentials.
func (s *S3Store) ListBuckets(ctx context.Context) ([]string, error) {
	out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, describe(err)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

// ListObjects returns every object under prefix, following pagination.
func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix string) ([]models.RemoteObject, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []models.RemoteObject
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, describe(err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, toRemoteObject(obj))
		}
	}
	return objects, nil
}

// PutObject uploads filePath under key, asking the store to verify the
// supplied SHA-1 checksum.
func (s *S3Store) PutObject(ctx context.Context, bucket, key, filePath, sha1Base64 string) (int, error) {
	f, err := os.Open(filePath) //nolint:gosec // path is produced by the archiver
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
	}
	if sha1Base64 != "" {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmSha1
		input.ChecksumSHA1 = aws.String(sha1Base64)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return errorStatus(err), describe(err)
	}
	return rawStatus(out.ResultMetadata), nil
}

// DeleteObject removes key from bucket.
func (s *S3Store) DeleteObject(ctx context.Context, bucket, key string) (int, error) {
	out, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errorStatus(err), describe(err)
	}
	return rawStatus(out.ResultMetadata), nil
}

func toRemoteObject(obj types.Object) models.RemoteObject {
	return models.RemoteObject{
		Key:          aws.ToString(obj.Key),
		ETag:         aws.ToString(obj.ETag),
		LastModified: aws.ToTime(obj.LastModified),
		Size:         aws.ToInt64(obj.Size),
	}
}

func rawStatus(md middleware.Metadata) int {
	if resp, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && resp != nil {
		return resp.StatusCode
	}
	return 0
}

func errorStatus(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// describe prefixes SDK errors with the service error code when there is one.
func describe(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %w", ae.ErrorCode(), err)
	}
	if status := errorStatus(err); status != 0 {
		return fmt.Errorf("%s: %w", http.StatusText(status), err)
	}
	return err
}
