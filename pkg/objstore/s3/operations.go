// Package s3 implements object storage over Amazon S3 or any S3-compatible
// endpoint.
//
// This file contains the objstore.Store operations. Transient failures
// (throttling, 5xx, network timeouts) are retried with exponential backoff;
// everything that survives the retry budget surfaces as a Backend error so
// the ingestion pipeline classifies it as transient too.
package s3

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/internal/telemetry"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// Put uploads the object, buffering it in memory so transient failures can
// be retried with a fresh reader.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	ctx, span := telemetry.StartObjstoreSpan(ctx, "put", key,
		telemetry.Backend("s3_compatible"), telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	err := s.put(ctx, key, r, size)
	s.observe("put", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	if err == nil && s.metrics != nil {
		s.metrics.RecordBytes("s3_compatible", "write", size)
	}
	return err
}

func (s *Store) put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return dserrors.NewBackendError("reading object data", err)
	}
	if int64(len(data)) != size {
		return dserrors.NewBackendError("object size mismatch", nil)
	}

	objKey := s.objectKey(cleaned)
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("put: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", objKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("s3_compatible", "put")
			}

			select {
			case <-ctx.Done():
				return dserrors.NewCancelledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
			Body:   bytes.NewReader(data),
		})

		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("put: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "key", objKey, "error", lastErr)
	}

	return dserrors.NewBackendError("failed to put object", lastErr)
}

// Get returns a reader for the object, or NotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := telemetry.StartObjstoreSpan(ctx, "get", key,
		telemetry.Backend("s3_compatible"), telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	rc, err := s.get(ctx, key)
	s.observe("get", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return rc, err
}

func (s *Store) get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	objKey := s.objectKey(cleaned)

	var result *awss3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("get: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", objKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("s3_compatible", "get")
			}

			select {
			case <-ctx.Done():
				return nil, dserrors.NewCancelledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})

		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, dserrors.NewNotFoundError(cleaned, "object")
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("get: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "key", objKey, "error", lastErr)
	}

	if lastErr != nil {
		return nil, dserrors.NewBackendError("failed to get object", lastErr)
	}

	// Wrap the body to track bytes read.
	return &countingReadCloser{
		ReadCloser: result.Body,
		metrics:    s.metrics,
	}, nil
}

// Delete removes the object. S3 DeleteObject succeeds on absent keys, so
// deleting an absent key is naturally a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, span := telemetry.StartObjstoreSpan(ctx, "delete", key,
		telemetry.Backend("s3_compatible"), telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	err := s.del(ctx, key)
	s.observe("delete", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	objKey := s.objectKey(cleaned)
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("delete: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", objKey)
			if s.metrics != nil {
				s.metrics.RecordRetry("s3_compatible", "delete")
			}

			select {
			case <-ctx.Done():
				return dserrors.NewCancelledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})

		if lastErr == nil {
			return nil
		}

		if isNotFoundError(lastErr) {
			return nil
		}

		if !isRetryableError(lastErr) {
			break
		}
	}

	return dserrors.NewBackendError("failed to delete object", lastErr)
}

// Exists reports whether the object is visible in the bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := telemetry.StartObjstoreSpan(ctx, "exists", key,
		telemetry.Backend("s3_compatible"), telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	ok, err := s.exists(ctx, key)
	s.observe("exists", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return ok, err
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return false, err
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	objKey := s.objectKey(cleaned)
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			if s.metrics != nil {
				s.metrics.RecordRetry("s3_compatible", "exists")
			}

			select {
			case <-ctx.Done():
				return false, dserrors.NewCancelledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})

		if lastErr == nil {
			return true, nil
		}

		if isNotFoundError(lastErr) {
			return false, nil
		}

		if !isRetryableError(lastErr) {
			break
		}
	}

	return false, dserrors.NewBackendError("failed to check object", lastErr)
}

// SignedURL returns a presigned GET URL for the object.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, span := telemetry.StartObjstoreSpan(ctx, "signed_url", key,
		telemetry.Backend("s3_compatible"), telemetry.Bucket(s.bucket))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(cleaned)),
	}, awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", dserrors.NewBackendError("failed to presign object URL", err)
	}
	return req.URL, nil
}

// PutText stores a small text object.
func (s *Store) PutText(ctx context.Context, key string, text string) error {
	data := []byte(text)
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// GetText returns a small text object, or NotFound.
func (s *Store) GetText(ctx context.Context, key string) (string, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", dserrors.NewBackendError("reading object text", err)
	}
	return string(data), nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return dserrors.NewBackendError("bucket is unreachable", err)
	}
	return nil
}

// Close marks the store as closed. The underlying HTTP client is shared
// SDK state and needs no teardown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// checkOpen fails with a Backend error when the store has been closed.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}
	return nil
}

// observe reports one operation to the metrics sink.
func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		if code := dserrors.CodeOf(err); code != 0 {
			outcome = code.String()
		} else {
			outcome = "error"
		}
	}
	s.metrics.ObserveOperation("s3_compatible", op, outcome, time.Since(start))
}

// countingReadCloser reports bytes read to the metrics sink on Close.
type countingReadCloser struct {
	io.ReadCloser
	metrics objstore.Metrics
	n       int64
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if c.metrics != nil && c.n > 0 {
		c.metrics.RecordBytes("s3_compatible", "read", c.n)
	}
	return c.ReadCloser.Close()
}
