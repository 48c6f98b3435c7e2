// Package httpkit provides the HTTP server boilerplate shared by all four
// trust-plane services: router construction, the fixed request-checking
// order from spec.md §4.3 (media type -> body size -> ...), structured
// slog request logging, panic recovery, and the shared error/health/metrics
// rendering from spec.md §6.2.
//
// Grounded on the teacher's cmd/api/main.go (gorilla/mux + slog) and
// internal/middleware/rate_limiter.go's middleware-as-decorator shape.
package httpkit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenteconomy/trustplane/internal/apperror"
)

// Metrics is the Prometheus instrumentation every service registers and
// exposes on /metrics. Grounded on the teacher's go.mod dependency on
// github.com/prometheus/client_golang, which internal/monitoring reimplemented
// by hand instead of importing (see DESIGN.md) — this wires the real client.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// Server bundles a gorilla/mux router with the shared middleware stack.
type Server struct {
	Router  *mux.Router
	Logger  *slog.Logger
	Metrics *Metrics
	reg     *prometheus.Registry
}

// New builds a router with recovery, logging, and metrics middleware
// already applied, plus /health and /metrics wired in.
func New(service string, logger *slog.Logger, healthFn func() map[string]any) *Server {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustplane",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code.",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustplane",
			Subsystem: service,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration)

	router := mux.NewRouter()
	s := &Server{Router: router, Logger: logger, Metrics: m, reg: reg}

	router.Use(s.recoverMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if healthFn != nil {
			for k, v := range healthFn() {
				body[k] = v
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return s
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("panic recovered", "route", r.URL.Path, "panic", rec)
				WriteError(w, apperror.New("INTERNAL", http.StatusInternalServerError, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if m, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
			route = m
		}

		s.Metrics.RequestsTotal.WithLabelValues(route, r.Method, http.StatusText(rec.status)).Inc()
		s.Metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		s.Logger.Info("request", "method", r.Method, "route", route, "status", rec.status, "duration_ms", elapsed.Milliseconds())
	})
}

// MaxBodyBytes wraps the handler with spec.md §6.2's body-size cap and
// returns PAYLOAD_TOO_LARGE when exceeded. It is applied per-route (not
// globally) because upload endpoints use a different cap than JSON ones.
func MaxBodyBytes(max int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > max {
			WriteError(w, apperror.Code("PAYLOAD_TOO_LARGE", "request body exceeds the configured limit"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next(w, r)
	}
}

// RequireContentType enforces spec.md §6.2's media-type check, first in the
// fixed validation order.
func RequireContentType(expected string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if !contentTypeMatches(ct, expected) {
			WriteError(w, apperror.Code("UNSUPPORTED_MEDIA_TYPE", "expected "+expected))
			return
		}
		next(w, r)
	}
}

func contentTypeMatches(got, expected string) bool {
	if len(got) < len(expected) {
		return false
	}
	return got[:len(expected)] == expected
}

// WriteJSON renders v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError renders the shared error envelope from spec.md §6.2:
// {"error":"<CODE>","message":"<human>","details":{}}.
func WriteError(w http.ResponseWriter, err *apperror.Error) {
	if err == nil {
		err = apperror.New("INTERNAL", http.StatusInternalServerError, "internal server error")
	}
	WriteJSON(w, err.HTTP, err)
}

// DecodeJSON decodes the request body into v, mapping any decode failure to
// INVALID_JSON per spec.md §7.
func DecodeJSON(r *http.Request, v any) *apperror.Error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperror.Code("INVALID_JSON", "request body is not valid JSON")
	}
	return nil
}

// BearerToken extracts the envelope from an "Authorization: Bearer <token>"
// header, the transport spec.md §6.2 uses for asset upload and read
// endpoints that authenticate the caller without a JSON body.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}
