// Package server exposes the moderation HTTP API: sessions, note templates,
// health and metrics. Session and template routes resolve the acting
// moderator, which is recorded on every action, and rate limit mutations per
// moderator and session. Every request carries a correlation id.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/telemetry"
	"github.com/onnwee/live-moderation/templates"
)

// Check is a named readiness check.
type Check struct {
	Fn   func(ctx context.Context) error
	Name string
}

// Deps are the services the API serves.
type Deps struct {
	Sessions  *moderation.Manager
	Templates *templates.Registry
	// Clock is used for journal windows and auto-archiving; defaults to time.Now.
	Clock   func() time.Time
	Archive templates.ArchivePolicy
	Checks  []Check
}

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	creds := loadCredentials()
	limiter := newMutationLimiter(ctx, loadLimitConfig())
	cors := loadCORSPolicy()

	h := NewHandlers(deps)

	r := mux.NewRouter()
	r.Use(withCorrelation)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet)

	sessions := r.PathPrefix("/sessions").Subrouter()
	sessions.Use(authenticate(creds), limitMutations(limiter))
	h.registerSessionRoutes(sessions)

	tmpl := r.PathPrefix("/templates").Subrouter()
	tmpl.Use(authenticate(creds), limitMutations(limiter))
	h.registerTemplateRoutes(tmpl)

	return cors.wrap(r)
}

// withCorrelation injects the correlation id and opens a server span named
// after the matched route template.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("route", route), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode))
			span.SetStatus(code, msg)
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
