package authority

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesync_authority_sessions",
		Help: "Number of connected sync sessions.",
	})

	subscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesync_authority_subscriptions",
		Help: "Number of queries subscribed across all sessions.",
	})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_authority_writes_total",
		Help: "Committed record writes by kind.",
	}, []string{"kind"})

	eventsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_authority_events_sent_total",
		Help: "Change events routed to sessions by kind.",
	}, []string{"kind"})

	snapshotsServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_authority_snapshots_served_total",
		Help: "Snapshots sent in response to snapshot requests.",
	})
)
