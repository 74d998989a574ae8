package perf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoreGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scoreboard",
		Subsystem: "governor",
		Name:      "score",
		Help:      "Composite 0-100 performance score of the render pipeline.",
	})

	fpsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scoreboard",
		Subsystem: "governor",
		Name:      "frames_per_second",
		Help:      "Rolling frame rate over the sample window.",
	})

	surfaceBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scoreboard",
		Subsystem: "governor",
		Name:      "surface_memory_bytes",
		Help:      "Memory held by all rendering surfaces.",
	})

	inputLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scoreboard",
		Subsystem: "governor",
		Name:      "input_latency_seconds",
		Help:      "Time from input receipt to the frame that shows it.",
		Buckets:   []float64{.001, .004, .008, .016, .033, .066, .125, .25, .5, 1},
	})

	warningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoreboard",
			Subsystem: "governor",
			Name:      "warnings_total",
			Help:      "Threshold breaches observed, by kind.",
		},
		[]string{"kind"},
	)
)
