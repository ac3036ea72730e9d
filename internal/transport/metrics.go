package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_transport_connections_lost_total",
		Help: "Number of established authority connections that dropped",
	})

	dialFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_transport_dial_failures_total",
		Help: "Failed attempts to connect to the authority",
	})

	framesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_transport_frames_received_total",
		Help: "Frames received from the authority, by message type",
	}, []string{"type"})

	framesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesync_transport_frames_sent_total",
		Help: "Frames sent to the authority, by message type",
	}, []string{"type"})

	malformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesync_transport_malformed_frames_total",
		Help: "Frames from the authority that failed to decode",
	})

	bufferedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesync_transport_buffered_events",
		Help: "Change events held back while a snapshot is outstanding",
	})
)
