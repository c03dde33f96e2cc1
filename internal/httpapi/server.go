// Package httpapi exposes the ingest service as a JSON API.
//
// Authentication happens upstream: a proxy sets the X-Owner-ID header and
// every dataset route is scoped to that owner.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"chemviz/internal/ingest"
	"chemviz/internal/logging"
	"chemviz/internal/metrics"
)

// OwnerHeader carries the authenticated owner id.
const OwnerHeader = "X-Owner-ID"

// ServiceName is reported by the health endpoint.
const ServiceName = "Chemical Equipment Parameter Visualizer API"

// DefaultMaxUploadBytes bounds an uploaded CSV when Options leaves it unset.
const DefaultMaxUploadBytes int64 = 10 << 20

type Options struct {
	MaxUploadBytes int64

	// Now stamps generated reports. Defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	svc  *ingest.Service
	opts Options
	log  *zap.Logger
}

func New(svc *ingest.Service, opts Options, log *zap.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{svc: svc, opts: opts, log: logging.Component(log, "httpapi")}
}

// Routes returns the full router. Paths keep their trailing slash.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health/", s.health)

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)

			r.Post("/upload/", s.upload)
			r.Get("/history/", s.history)
			r.Get("/summary/{id}/", s.summary)
			r.Get("/dataset/{id}/", s.detail)
			r.Delete("/dataset/{id}/", s.delete)
			r.Get("/report/{id}/", s.report)
		})
	})
	return r
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeError(w, r, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// instrument records request metrics and logs one line per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		labels := metrics.Labels{"status": strconv.Itoa(code)}
		metrics.IncCounter(metrics.HTTPRequestsTotal, 1, labels)
		metrics.ObserveSince(metrics.HTTPRequestDurationSeconds, start, labels)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", code),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
