// Package server assembles the HTTP router of the API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	snaphandler "github.com/FACorreiaa/data-snap/internal/domain/snap/handler"
	templatehandler "github.com/FACorreiaa/data-snap/internal/domain/template/handler"
	"github.com/FACorreiaa/data-snap/pkg/httputil"
	"github.com/FACorreiaa/data-snap/pkg/metrics"
	"github.com/FACorreiaa/data-snap/pkg/middleware"
)

// Pinger reports database health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries everything the router mounts
type Options struct {
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	MetricsEnabled  bool
	CORSOrigins     []string
	TrustProxy      bool
	RateLimiter     *middleware.RateLimiter
	SnapHandler     *snaphandler.SnapHandler
	TemplateHandler *templatehandler.TemplateHandler // optional
	Database        Pinger                           // optional
	OCREngine       string
}

type healthResponse struct {
	Status    string `json:"status"`
	OCREngine string `json:"ocr_engine"`
	Database  string `json:"database"`
}

// NewRouter builds the chi router with the middleware chain and all routes
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.Get("/healthz", health(opts))
	if opts.MetricsEnabled {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		opts.SnapHandler.Routes(r)
		if opts.TemplateHandler != nil {
			opts.TemplateHandler.Routes(r)
		}
	})

	return r
}

func health(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", OCREngine: opts.OCREngine, Database: "disabled"}
		status := http.StatusOK

		if opts.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			resp.Database = "ok"
			if err := opts.Database.Ping(ctx); err != nil {
				opts.Logger.Warn("database health check failed", slog.Any("error", err))
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}

		httputil.WriteJSON(w, status, resp)
	}
}
