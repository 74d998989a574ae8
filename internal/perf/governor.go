// Package perf scores the render pipeline. The governor only observes: it
// never throttles anything, callers decide what to do with a poor score.
package perf

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ScoreBoard/internal/state"
)

const (
	weightLatency = 0.4
	weightFPS     = 0.4
	weightMemory  = 0.2

	// IncidentScore is the score below which a performance incident is logged.
	IncidentScore = 50
)

// Thresholds are the targets each component score is measured against.
type Thresholds struct {
	MaxLatency time.Duration
	MinFPS     float64
	MaxMemory  int64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxLatency: 16 * time.Millisecond,
		MinFPS:     60,
		MaxMemory:  500 << 20,
	}
}

// Warning kinds.
const (
	WarnLatency = "latency"
	WarnFPS     = "fps"
	WarnMemory  = "memory"
)

type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report is one evaluation of the sample window.
type Report struct {
	Score       int           `json:"score"`
	Latency     time.Duration `json:"latency"`
	FPS         float64       `json:"fps"`
	MemoryBytes int64         `json:"memoryBytes"`
	Warnings    []Warning     `json:"warnings,omitempty"`
}

// Governor samples input latency, frame rate and surface memory.
type Governor struct {
	clock      state.Clock
	thresholds Thresholds
	window     int
	log        zerolog.Logger

	mu        sync.Mutex
	frames    []time.Time
	latencies []time.Duration
	inputs    []time.Time
	memory    int64
	incident  bool
}

// NewGovernor keeps the last window frames and latency samples (30 when
// window is not positive).
func NewGovernor(clock state.Clock, thresholds Thresholds, window int, log zerolog.Logger) *Governor {
	if clock == nil {
		clock = state.SystemClock()
	}
	if window <= 0 {
		window = 30
	}
	def := DefaultThresholds()
	if thresholds.MaxLatency <= 0 {
		thresholds.MaxLatency = def.MaxLatency
	}
	if thresholds.MinFPS <= 0 {
		thresholds.MinFPS = def.MinFPS
	}
	if thresholds.MaxMemory <= 0 {
		thresholds.MaxMemory = def.MaxMemory
	}
	return &Governor{
		clock:      clock,
		thresholds: thresholds,
		window:     window,
		log:        log.With().Str("component", "governor").Logger(),
	}
}

// InputReceived marks an input event waiting for its frame.
func (g *Governor) InputReceived() {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, now)
}

// FrameDrawn closes the latency sample of every input received since the
// previous frame and records the frame for the rate window.
func (g *Governor) FrameDrawn(memoryBytes int64) {
	now := g.clock.Now()
	g.mu.Lock()
	for _, at := range g.inputs {
		d := now.Sub(at)
		g.latencies = appendWindow(g.latencies, d, g.window)
		inputLatency.Observe(d.Seconds())
	}
	g.inputs = g.inputs[:0]
	g.frames = appendWindow(g.frames, now, g.window)
	g.memory = memoryBytes
	g.mu.Unlock()
	surfaceBytesGauge.Set(float64(memoryBytes))
}

// RecordLatency adds a latency sample measured elsewhere.
func (g *Governor) RecordLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latencies = appendWindow(g.latencies, d, g.window)
	inputLatency.Observe(d.Seconds())
}

func appendWindow[T any](s []T, v T, n int) []T {
	s = append(s, v)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// Report scores the current window. A component without samples is not
// penalized.
func (g *Governor) Report() Report {
	g.mu.Lock()
	var r Report
	if len(g.latencies) > 0 {
		var sum time.Duration
		for _, d := range g.latencies {
			sum += d
		}
		r.Latency = sum / time.Duration(len(g.latencies))
	}
	if len(g.frames) > 1 {
		span := g.frames[len(g.frames)-1].Sub(g.frames[0])
		if span > 0 {
			r.FPS = float64(len(g.frames)-1) / span.Seconds()
		}
	}
	hasFrames := len(g.frames) > 1
	r.MemoryBytes = g.memory
	g.mu.Unlock()

	t := g.thresholds
	latencyScore := 100.0
	if r.Latency > t.MaxLatency {
		latencyScore = 100 * float64(t.MaxLatency) / float64(r.Latency)
		r.Warnings = append(r.Warnings, Warning{WarnLatency,
			fmt.Sprintf("input latency %s exceeds %s", r.Latency.Round(time.Millisecond), t.MaxLatency)})
	}
	fpsScore := 100.0
	if hasFrames && r.FPS < t.MinFPS {
		fpsScore = 100 * r.FPS / t.MinFPS
		r.Warnings = append(r.Warnings, Warning{WarnFPS,
			fmt.Sprintf("frame rate %.0f below %.0f", r.FPS, t.MinFPS)})
	}
	memScore := 100.0
	if r.MemoryBytes > t.MaxMemory {
		memScore = 100 * float64(t.MaxMemory) / float64(r.MemoryBytes)
		r.Warnings = append(r.Warnings, Warning{WarnMemory,
			fmt.Sprintf("surface memory %dMB exceeds %dMB", r.MemoryBytes>>20, t.MaxMemory>>20)})
	}
	score := weightLatency*latencyScore + weightFPS*fpsScore + weightMemory*memScore
	r.Score = int(math.Round(math.Max(0, math.Min(100, score))))

	scoreGauge.Set(float64(r.Score))
	fpsGauge.Set(r.FPS)
	return r
}

// Evaluate computes a report and logs a performance incident when the score
// first drops below IncidentScore, and recovery when it climbs back.
func (g *Governor) Evaluate() Report {
	r := g.Report()
	g.mu.Lock()
	was := g.incident
	g.incident = r.Score < IncidentScore
	now := g.incident
	g.mu.Unlock()

	switch {
	case now && !was:
		for _, w := range r.Warnings {
			warningsTotal.WithLabelValues(w.Kind).Inc()
		}
		g.log.Warn().Int("score", r.Score).Dur("latency", r.Latency).Float64("fps", r.FPS).
			Int64("memory_bytes", r.MemoryBytes).Msg("performance incident")
	case !now && was:
		g.log.Info().Int("score", r.Score).Msg("performance recovered")
	}
	return r
}
