// Package s3 implements object storage over Amazon S3 or any S3-compatible
// endpoint (MinIO, LocalStack, Ceph RGW).
//
// This file contains the configuration, client factory, constructor, and
// the error classification and backoff helpers shared by all operations.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/docket-io/docket/pkg/objstore"
)

// Config contains configuration for the S3 object store.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	// Empty means AWS S3 proper.
	Endpoint string

	// Region is the bucket region. Required by the SDK even for
	// S3-compatible services that ignore it.
	Region string

	// Bucket is the bucket name. The bucket must already exist.
	Bucket string

	// AccessKeyID and SecretAccessKey are static credentials. When both
	// are empty the SDK's default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "docket/" results in keys like "docket/payloads/...".
	KeyPrefix string

	// ForcePathStyle uses path-style addressing (bucket in the path
	// rather than the host). Required by MinIO and LocalStack.
	ForcePathStyle bool

	// MaxRetries is the number of retry attempts for transient errors
	// (default: 3).
	MaxRetries uint

	// InitialBackoff is the backoff before the first retry (default:
	// 100ms). Subsequent retries back off exponentially up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff between retries (default: 2s).
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential backoff multiplier
	// (default: 2.0).
	BackoffMultiplier float64

	// Metrics receives backend measurements. Nil disables instrumentation.
	Metrics objstore.Metrics
}

// DefaultConfig returns the default configuration for a bucket.
func DefaultConfig(bucket string) Config {
	return Config{
		Region:            "us-east-1",
		Bucket:            bucket,
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryConfig holds retry settings for S3 operations.
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Store is the S3 implementation of objstore.Store.
//
// Thread safety: safe for concurrent use. Concurrent puts to the same key
// are last-write-wins, which is acceptable because payload keys are derived
// from record ids and written once.
type Store struct {
	client    *awss3.Client
	presigner *awss3.PresignClient
	bucket    string
	keyPrefix string
	retry     retryConfig
	metrics   objstore.Metrics

	mu     sync.RWMutex
	closed bool
}

// NewClientFromConfig creates an S3 client from configuration parameters.
func NewClientFromConfig(ctx context.Context, cfg Config) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"", // session token (empty for static credentials)
			)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return client, nil
}

// New creates an S3 object store and verifies bucket access. The bucket
// must already exist; this function does not create it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client, err := NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewWithClient(ctx, client, cfg)
}

// NewWithClient creates an S3 object store around an existing client.
// Useful for tests that point the client at a container endpoint.
func NewWithClient(ctx context.Context, client *awss3.Client, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	// Apply retry defaults.
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}
	backoffMultiplier := cfg.BackoffMultiplier
	if backoffMultiplier == 0 {
		backoffMultiplier = 2.0
	}

	// Verify bucket access before accepting writes.
	_, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    client,
		presigner: awss3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   cfg.Metrics,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: backoffMultiplier,
		},
	}, nil
}

// objectKey returns the full S3 object key for a cleaned object key.
func (s *Store) objectKey(key string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + key
	}
	return key
}

// isRetryableError returns true if the error is transient and the operation
// should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()

		// Throttling errors - retryable
		if code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestThrottled" || code == "SlowDown" ||
			code == "ProvisionedThroughputExceededException" {
			return true
		}

		// Server errors (5xx) - retryable
		if code == "InternalError" || code == "ServiceUnavailable" ||
			code == "ServiceException" || code == "InternalServiceException" {
			return true
		}

		// Not found, access denied, invalid request - not retryable
		if code == "NoSuchKey" || code == "NotFound" ||
			code == "AccessDenied" || code == "Forbidden" ||
			code == "InvalidRequest" {
			return false
		}
	}

	// Check error message for common patterns.
	errStr := err.Error()
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500") {
		return true
	}

	return false
}

// isNotFoundError returns true if the error indicates the object doesn't
// exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// calculateBackoff returns the backoff duration for a given attempt using
// the store's retry config.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// Ensure Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)
