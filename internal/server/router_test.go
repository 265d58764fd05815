package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
	snaphandler "github.com/FACorreiaa/data-snap/internal/domain/snap/handler"
	snaprepo "github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	snapservice "github.com/FACorreiaa/data-snap/internal/domain/snap/service"
	"github.com/FACorreiaa/data-snap/pkg/metrics"
	"github.com/FACorreiaa/data-snap/pkg/middleware"
	"github.com/FACorreiaa/data-snap/pkg/storage"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newOptions(t *testing.T) Options {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	files, err := storage.NewLocalStorage(t.TempDir(), 0)
	require.NoError(t, err)
	m := metrics.New()

	svc := snapservice.NewSnapService(snaprepo.NewMemorySessionRepository(), ocr.NewTesseractRecognizer(nil), files, m, logger)
	return Options{
		Logger:         logger,
		Metrics:        m,
		MetricsEnabled: true,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimiter:    middleware.NewRateLimiter(100, 100, logger),
		SnapHandler:    snaphandler.NewSnapHandler(svc, logger, 1<<20),
		OCREngine:      "tesseract",
	}
}

func TestRouter_Health(t *testing.T) {
	opts := newOptions(t)

	rec := httptest.NewRecorder()
	NewRouter(opts).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "disabled", body.Database)

	opts.Database = pingFunc(func(ctx context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	NewRouter(opts).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_RateLimitClientAddress(t *testing.T) {
	limited := func(t *testing.T, opts Options) int {
		t.Helper()
		router := NewRouter(opts)
		status := 0
		for i := range 3 {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
			req.RemoteAddr = "192.0.2.10:40000"
			req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			status = rec.Code
		}
		return status
	}

	t.Run("forwarded headers ignored by default", func(t *testing.T) {
		opts := newOptions(t)
		opts.RateLimiter = middleware.NewRateLimiter(1, 1, opts.Logger)
		assert.Equal(t, http.StatusTooManyRequests, limited(t, opts))
	})

	t.Run("trusted proxy", func(t *testing.T) {
		opts := newOptions(t)
		opts.TrustProxy = true
		opts.RateLimiter = middleware.NewRateLimiter(1, 1, opts.Logger)
		assert.Equal(t, http.StatusCreated, limited(t, opts))
	})
}

func TestRouter_MetricsAndRoutes(t *testing.T) {
	opts := newOptions(t)
	router := NewRouter(opts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `datasnap_http_requests_total{method="POST",route="/api/sessions`)
	assert.Contains(t, rec.Body.String(), `status="201"`)

	// Template routes are absent without a database
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
