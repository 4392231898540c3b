// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ActionsApplied      *prometheus.CounterVec // by action type
	StackOperations     *prometheus.CounterVec // undo|redo, applied|empty
	TimeoutsExpired     prometheus.Counter
	JournalEvictions    prometheus.Counter
	MirrorCalls         *prometheus.CounterVec // by kind and outcome
	TemplateTransitions *prometheus.CounterVec // by target status
	ChatMessages        *prometheus.CounterVec // queued|approved|rejected|flagged

	// Histograms (seconds)
	MirrorDuration *prometheus.HistogramVec

	// Gauges
	OpenSessions   prometheus.Gauge
	ChatQueueDepth prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ActionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_actions_applied_total", Help: "Moderation actions applied locally"}, []string{"type"})
		StackOperations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_stack_operations_total", Help: "Undo and redo requests"}, []string{"op", "result"})
		TimeoutsExpired = promauto.NewCounter(prometheus.CounterOpts{Name: "moderation_timeouts_expired_total", Help: "Timeouts lifted by the expiry scheduler"})
		JournalEvictions = promauto.NewCounter(prometheus.CounterOpts{Name: "moderation_journal_evictions_total", Help: "Journal entries dropped by the retention cap"})
		MirrorCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_mirror_calls_total", Help: "Calls to the external moderation system"}, []string{"kind", "outcome"})
		TemplateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_template_transitions_total", Help: "Note template lifecycle transitions"}, []string{"to"})
		ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "moderation_chat_messages_total", Help: "Chat queue events"}, []string{"event"})
		MirrorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "moderation_mirror_duration_seconds", Help: "Mirror call duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}}, []string{"kind"})
		OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "moderation_open_sessions", Help: "Currently open moderation sessions"})
		ChatQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "moderation_chat_queue_depth", Help: "Pending chat messages across sessions"})
	})
}

// IncAction counts an applied action of the given type.
func IncAction(actionType string) {
	if ActionsApplied != nil {
		ActionsApplied.WithLabelValues(actionType).Inc()
	}
}

// IncStackOp counts an undo or redo request; applied is false when the stack was empty.
func IncStackOp(op string, applied bool) {
	if StackOperations == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "empty"
	}
	StackOperations.WithLabelValues(op, result).Inc()
}

// ObserveMirrorCall records one mirror attempt.
func ObserveMirrorCall(kind string, err error, d time.Duration) {
	if MirrorCalls != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		MirrorCalls.WithLabelValues(kind, outcome).Inc()
	}
	if MirrorDuration != nil {
		MirrorDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// IncTemplateTransition counts a template moving into status to.
func IncTemplateTransition(to string) {
	if TemplateTransitions != nil {
		TemplateTransitions.WithLabelValues(to).Inc()
	}
}

// IncChatEvent counts a chat queue event.
func IncChatEvent(event string) {
	if ChatMessages != nil {
		ChatMessages.WithLabelValues(event).Inc()
	}
}

// AddChatQueueDepth adjusts the pending chat message gauge.
func AddChatQueueDepth(delta int) {
	if ChatQueueDepth != nil {
		ChatQueueDepth.Add(float64(delta))
	}
}

// SetOpenSessions records the current session count.
func SetOpenSessions(n int) {
	if OpenSessions != nil {
		OpenSessions.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
