package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrSnakeDoc/chiron/internal/errs"
)

var (
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chiron_summary_fetch_total",
			Help: "Summary fetches by outcome",
		},
		[]string{"outcome"}, // "ok", "network", "validation", "superseded"
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chiron_summary_fetch_duration_seconds",
			Help:    "Duration of summary fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chiron_stream_messages_total",
			Help: "Stream messages by outcome",
		},
		[]string{"outcome"}, // "ok", "invalid"
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chiron_stream_reconnects_total",
			Help: "Reconnect attempts scheduled after a stream failure",
		},
	)

	StreamState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chiron_stream_state",
			Help: "Current stream connection state (0 idle, 1 connecting, 2 streaming, 3 reconnecting, 4 offline)",
		},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chiron_cache_writes_total",
			Help: "Cache writes by source",
		},
		[]string{"source"}, // "fetch", "stream", "persisted"
	)

	CacheRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chiron_cache_rejected_total",
			Help: "Writes dropped because the snapshot was older than the cached one",
		},
	)

	SyncTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chiron_sync_triggers_total",
			Help: "Sync coordinator decisions by reason and result",
		},
		[]string{"reason", "result"}, // result: "fired", "throttled", "offline"
	)
)

// RecordFetch records one fetch outcome. A nil err counts as "ok".
func RecordFetch(d time.Duration, err error) {
	FetchDuration.Observe(d.Seconds())
	FetchTotal.WithLabelValues(FetchOutcome(err)).Inc()
}

func FetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errs.CodeOf(err) == errs.Validation:
		return "validation"
	default:
		return "network"
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
