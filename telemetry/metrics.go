// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
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
	RequestsRelayed   *prometheus.CounterVec // labelled by origin
	PollCycles        prometheus.Counter
	PollErrors        prometheus.Counter
	ChatMessagesSeen  prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	SessionsStarted   prometheus.Counter

	// Histograms (seconds)
	FetchDuration prometheus.Observer

	// Gauges
	QueueDepthGauge     prometheus.Gauge
	ActiveSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RequestsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lilybot_requests_relayed_total", Help: "Song requests appended to a queue and relayed"}, []string{"origin"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "lilybot_poll_cycles_total", Help: "Live chat poll cycles completed"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "lilybot_poll_errors_total", Help: "Live chat fetches that failed and ended a session"})
		ChatMessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "lilybot_chat_messages_total", Help: "Live chat messages inspected"})
		DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "lilybot_chat_duplicates_total", Help: "Live chat messages skipped by de-duplication"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "lilybot_sessions_started_total", Help: "Poll sessions started"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lilybot_chat_fetch_duration_seconds", Help: "Live chat page fetch duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "lilybot_queue_depth", Help: "Total queued requests across all channels"})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "lilybot_active_sessions", Help: "Currently polling sessions"})
	})
}

// SetQueueDepth records the total number of queued requests.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetActiveSessions records the number of live poll sessions.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// CountRelayed increments the relayed-requests counter for an origin.
func CountRelayed(origin string) {
	if RequestsRelayed != nil {
		RequestsRelayed.WithLabelValues(origin).Inc()
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

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
