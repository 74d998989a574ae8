package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scoreboard",
		Subsystem: "hub",
		Name:      "sessions",
		Help:      "Transport sessions currently joined to a room.",
	})

	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scoreboard",
		Subsystem: "hub",
		Name:      "rooms",
		Help:      "Items with at least one joined session.",
	})

	envelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "hub",
			Name:      "envelopes_total",
			Help:      "Inbound envelopes handled, by type.",
		},
		[]string{"type"},
	)

	protocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "hub",
			Name:      "protocol_errors_total",
			Help:      "Error envelopes sent back to peers, by code.",
		},
		[]string{"code"},
	)

	replayedCompletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scoreboard",
		Subsystem: "hub",
		Name:      "replayed_completes_total",
		Help:      "Completes committed without a matching in-progress stroke.",
	})
)
