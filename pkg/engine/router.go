package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docket-io/docket/internal/bufpool"
	"github.com/docket-io/docket/internal/logger"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/metrics"
	"github.com/docket-io/docket/pkg/objstore"
	objstorefs "github.com/docket-io/docket/pkg/objstore/fs"
)

// HealthCheckTimeout is the maximum time allowed for component health
// checks, so a slow backend cannot block health probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

// newOpsRouter creates and configures the chi router for the ops listener.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
func newOpsRouter(eng *Engine) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &opsHandlers{engine: eng}

	// Health routes - unauthenticated
	r.Get("/healthz", h.Liveness)
	r.Get("/healthz/components", h.Components)

	// Prometheus scrape endpoint; serves 404 while metrics are off
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/payloads/*", h.Payload)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

// opsHandlers holds the handlers served on the ops listener.
type opsHandlers struct {
	engine *Engine
}

// Response is the wrapper every ops JSON endpoint replies with:
//   - Status indicates the overall result ("healthy", "unhealthy")
//   - Timestamp provides response time for debugging
//   - Data contains the response payload (optional)
//   - Error contains error details when Status indicates failure (optional)
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func healthyResponse(data interface{}) Response {
	return Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func unhealthyResponse(errMsg string) Response {
	return Response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

func unhealthyResponseWithData(data interface{}) Response {
	return Response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode ops response", "error", err)
	}
}

// Liveness handles GET /healthz - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive. Designed for
// process supervisors and the status CLI command.
func (h *opsHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.engine.startedAt)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "docket",
		"started_at": h.engine.startedAt.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// ComponentHealth is the health status of a single engine component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Components handles GET /healthz/components - per-component health.
//
// Checks the record store, the object storage backend, and the task
// journal. Returns 200 OK when all are healthy, 503 Service Unavailable
// when any is not.
func (h *opsHandlers) Components(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	components := make([]ComponentHealth, 0, 3)
	allHealthy := true

	check := func(name string, fn func(context.Context) error) {
		start := time.Now()
		err := fn(ctx)
		health := ComponentHealth{
			Name:    name,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		} else {
			health.Status = "healthy"
		}
		components = append(components, health)
	}

	check("record_store", func(ctx context.Context) error {
		_, err := h.engine.store.Stats(ctx)
		return err
	})
	check("object_store", h.engine.objects.HealthCheck)
	check("journal", h.engine.journal.Healthcheck)

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(components))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(components))
	}
}

// Stats handles GET /v1/stats - record store and pipeline statistics.
// The snapshot is served unwrapped so scripts can consume it directly.
func (h *opsHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Payload handles GET /v1/payloads/* - the serving side of the local
// backend's signed URLs.
//
// The token names the object; the path is informational but must match the
// token's key so a link cannot be retargeted. Payloads are only served when
// the local backend is selected and a signing key is configured.
func (h *opsHandlers) Payload(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.cfg.ObjectStore
	if objstore.Backend(cfg.Backend) != objstore.BackendLocal || cfg.Local.SigningKey == "" {
		http.NotFound(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusForbidden)
		return
	}

	key, err := objstorefs.VerifyURLToken(cfg.Local.SigningKey, token)
	if err != nil {
		if errors.Is(err, objstorefs.ErrExpiredToken) {
			http.Error(w, "token expired", http.StatusGone)
		} else {
			http.Error(w, "invalid token", http.StatusForbidden)
		}
		return
	}

	if requested, perr := url.PathUnescape(chi.URLParam(r, "*")); perr == nil && requested != "" && requested != key {
		http.Error(w, "token does not match path", http.StatusForbidden)
		return
	}

	rc, err := h.engine.objects.Get(r.Context(), key)
	if err != nil {
		if dserrors.IsNotFoundError(err) {
			http.NotFound(w, r)
			return
		}
		logger.ErrorCtx(r.Context(), "Payload read failed", "key", key, "error", err)
		http.Error(w, "payload read failed", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := bufpool.Copy(w, rc); err != nil {
		logger.DebugCtx(r.Context(), "Payload stream aborted", "key", key, "error", err)
	}
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/healthz" || strings.HasPrefix(path, "/healthz/")
}

// requestLogger logs one line per ops request. It also installs the
// request's correlation fields into the context, so whatever a handler
// logs through the *Ctx functions names the same client and operation.
// Runs after RealIP, so RemoteAddr is already the client address.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := logger.WithContext(r.Context(), &logger.LogContext{
			Operation: r.Method + " " + r.URL.Path,
			ClientIP:  r.RemoteAddr,
		})
		r = r.WithContext(ctx)
		requestID := middleware.GetReqID(ctx)

		logger.DebugCtx(ctx, "Ops request started", "request_id", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		done := []any{
			"request_id", requestID,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Probes fire every few seconds; keep them out of INFO output.
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(ctx, "Ops request completed", done...)
		} else {
			logger.InfoCtx(ctx, "Ops request completed", done...)
		}
	})
}
