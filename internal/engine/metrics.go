package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("livesync/engine")

var (
	eventsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_engine_events_applied_total",
		Help: "Total number of change events applied to the local cache",
	})

	eventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_engine_events_rejected_total",
		Help: "Change events the engine could not apply, by error code",
	}, []string{"code"})

	snapshotsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_engine_snapshots_ingested_total",
		Help: "Total number of snapshots ingested",
	})

	resyncRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_engine_resync_requests_total",
		Help: "Number of times the engine asked the authority for a snapshot",
	})

	liveQueriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesync_engine_live_queries",
		Help: "Current number of live queries with at least one open handle",
	})

	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livesync_engine_apply_duration_seconds",
		Help:    "Time to apply an inbound message and update live queries",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"message"})
)
