package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/pkg/config"
)

// OpsServer is the operational HTTP listener in front of a running engine.
//
// It serves:
//   - GET /healthz: Liveness probe
//   - GET /healthz/components: Per-component health with latency
//   - GET /metrics: Prometheus scrape endpoint (404 when metrics are off)
//   - GET /v1/stats: Record store and pipeline statistics
//   - GET /v1/payloads/*: Payload bodies for signed local-backend URLs
//
// The server supports graceful shutdown and is safe to stop twice.
type OpsServer struct {
	server       *http.Server
	engine       *Engine
	addr         string
	shutdownOnce sync.Once
}

// NewOpsServer creates the ops listener for an engine. The server is
// created in a stopped state; call Start to begin serving.
func NewOpsServer(cfg config.OpsConfig, eng *Engine) *OpsServer {
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newOpsRouter(eng),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &OpsServer{
		server: server,
		engine: eng,
		addr:   cfg.ListenAddr,
	}
}

// Start runs the listener and blocks until the context is cancelled or the
// listener fails. Cancellation triggers graceful shutdown.
func (s *OpsServer) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening", "addr", s.addr)
		logger.Debug("Ops endpoints available",
			"health", fmt.Sprintf("http://%s/healthz", s.addr),
			"stats", fmt.Sprintf("http://%s/v1/stats", s.addr),
			"metrics", fmt.Sprintf("http://%s/metrics", s.addr),
		)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
				// Start already returned through ctx.Done; nobody is
				// left to read the error.
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Ops server shutdown signal received")
		// Don't reuse the cancelled ctx, it would abort the drain.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("ops server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. It is safe to call multiple times and
// concurrently with Start.
func (s *OpsServer) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Ops server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("ops server shutdown error: %w", err)
			logger.Error("Ops server shutdown error", "error", err)
		} else {
			logger.Info("Ops server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the configured listen address.
func (s *OpsServer) Addr() string {
	return s.addr
}
