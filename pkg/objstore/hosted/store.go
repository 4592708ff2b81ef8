// Package hosted implements object storage against the hosted object store
// service over its REST API. Objects are addressed as
// /v1/objects/<key>; requests carry a bearer API key. Transient failures
// (429, 5xx, network timeouts) are retried with the same exponential
// backoff envelope the S3 backend uses.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docket-io/docket/internal/logger"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// Config contains configuration for the hosted object store client.
type Config struct {
	// Endpoint is the base URL of the hosted service.
	// Example: "https://objects.example.com".
	Endpoint string

	// APIKey is the bearer token for authentication.
	APIKey string

	// Timeout bounds each HTTP request (default: 30s).
	Timeout time.Duration

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

// DefaultConfig returns the default configuration for an endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryConfig holds retry settings for hosted store requests.
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Store is the hosted-service implementation of objstore.Store.
type Store struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retryConfig
	metrics    objstore.Metrics

	mu     sync.RWMutex
	closed bool
}

// New creates a hosted object store client.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("hosted store endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("hosted store API key is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
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

	return &Store{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: cfg.Metrics,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: backoffMultiplier,
		},
	}, nil
}

// objectURL returns the service URL for a cleaned object key.
func (s *Store) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/v1/objects/" + strings.Join(segments, "/")
}

// newRequest builds an authenticated request.
func (s *Store) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	return req, nil
}

// isRetryableStatus reports whether an HTTP status indicates a transient
// failure worth retrying.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// isRetryableError reports whether a transport error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure")
}

// calculateBackoff returns the backoff duration for a given attempt.
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

// doWithRetry performs the request built by build, retrying transient
// failures. The caller owns the returned response body.
func (s *Store) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug(op+": retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries)
			if s.metrics != nil {
				s.metrics.RecordRetry("hosted", op)
			}

			select {
			case <-ctx.Done():
				return nil, dserrors.NewCancelledError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := build()
		if err != nil {
			return nil, dserrors.NewBackendError("building request", err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				break
			}
			logger.Debug(op+": transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "error", err)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			logger.Debug(op+": transient status", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, dserrors.NewBackendError(fmt.Sprintf("%s failed after %d attempts", op, s.retry.maxRetries+1), lastErr)
}

// Put uploads the object. The body is buffered so transient failures can be
// retried with a fresh reader.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	start := time.Now()
	err := s.put(ctx, key, r, size)
	s.observe("put", start, err)
	if err == nil && s.metrics != nil {
		s.metrics.RecordBytes("hosted", "write", size)
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

	resp, err := s.doWithRetry(ctx, "put", func() (*http.Request, error) {
		req, err := s.newRequest(ctx, http.MethodPut, s.objectURL(cleaned), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = size
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return s.statusError(cleaned, resp)
	}
	return nil
}

// Get returns a reader for the object, or NotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.get(ctx, key)
	s.observe("get", start, err)
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

	resp, err := s.doWithRetry(ctx, "get", func() (*http.Request, error) {
		return s.newRequest(ctx, http.MethodGet, s.objectURL(cleaned), nil)
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, dserrors.NewNotFoundError(cleaned, "object")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.statusError(cleaned, resp)
	}

	return &countingReadCloser{ReadCloser: resp.Body, metrics: s.metrics}, nil
}

// Delete removes the object. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.del(ctx, key)
	s.observe("delete", start, err)
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

	resp, err := s.doWithRetry(ctx, "delete", func() (*http.Request, error) {
		return s.newRequest(ctx, http.MethodDelete, s.objectURL(cleaned), nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return s.statusError(cleaned, resp)
	}
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.exists(ctx, key)
	s.observe("exists", start, err)
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

	resp, err := s.doWithRetry(ctx, "exists", func() (*http.Request, error) {
		return s.newRequest(ctx, http.MethodHead, s.objectURL(cleaned), nil)
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, s.statusError(cleaned, resp)
	}
}

// SignedURL asks the service to mint a presigned GET URL for the object.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
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

	payload, err := json.Marshal(map[string]any{
		"ttl_seconds": int(ttl.Seconds()),
	})
	if err != nil {
		return "", dserrors.NewBackendError("marshaling signed URL request", err)
	}

	resp, err := s.doWithRetry(ctx, "signed_url", func() (*http.Request, error) {
		req, err := s.newRequest(ctx, http.MethodPost, s.objectURL(cleaned)+"/signed-url", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", dserrors.NewNotFoundError(cleaned, "object")
	}
	if resp.StatusCode != http.StatusOK {
		return "", s.statusError(cleaned, resp)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", dserrors.NewBackendError("decoding signed URL response", err)
	}
	if result.URL == "" {
		return "", dserrors.NewBackendError("service returned empty signed URL", nil)
	}
	return result.URL, nil
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

// HealthCheck verifies the service is reachable and healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return dserrors.NewBackendError("building health request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dserrors.NewBackendError("service is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dserrors.NewBackendError(fmt.Sprintf("service health check returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Close marks the store as closed and drops idle connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.httpClient.CloseIdleConnections()
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

// statusError converts an unexpected HTTP response into a Backend error.
func (s *Store) statusError(key string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &dserrors.StoreError{
		Code:    dserrors.ErrBackend,
		Message: fmt.Sprintf("service returned %d: %s", resp.StatusCode, msg),
		Path:    key,
	}
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
	s.metrics.ObserveOperation("hosted", op, outcome, time.Since(start))
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
		c.metrics.RecordBytes("hosted", "read", c.n)
	}
	return c.ReadCloser.Close()
}

// Ensure Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)
