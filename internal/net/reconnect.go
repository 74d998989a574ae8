package net

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ScoreBoard/internal/state"
)

// ErrRetryExhausted is reported once the attempt ceiling is reached.
var ErrRetryExhausted = errors.New("reconnect attempts exhausted")

// ConnState is the connection lifecycle of one participant.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// UserMessage is the text shown to the participant for a state.
func (s ConnState) UserMessage() string {
	switch s {
	case StateReconnecting:
		return "disconnected, retrying"
	case StateFailed:
		return "disconnected, retry exhausted"
	}
	return s.String()
}

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxAttempts int           // failed attempts before giving up (default: 5)
	BaseDelay   time.Duration // first retry delay (default: 1 second)
	MaxDelay    time.Duration // retry delay cap (default: 30 seconds)
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// StateChange is delivered to OnChange after every transition.
type StateChange struct {
	From     ConnState
	To       ConnState
	Attempts int
	Delay    time.Duration // next retry delay when To is StateReconnecting
	Err      error
}

// Reconnector is the explicit connection state machine:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Failed
//
// It never dials itself. It calls attempt when a connection attempt is due
// and is told the outcome through Connected, AttemptFailed and Dropped.
// Retry delays double from BaseDelay up to MaxDelay and run on the injected
// scheduler, so tests drive it without real timers.
type Reconnector struct {
	cfg     ReconnectConfig
	clock   state.Scheduler
	attempt func()

	mu       sync.Mutex
	state    ConnState
	attempts int
	lastErr  error
	backoff  *backoff.ExponentialBackOff
	timer    state.Timer

	// OnChange is called outside the lock after each transition.
	OnChange func(StateChange)
}

func NewReconnector(cfg ReconnectConfig, clock state.Scheduler, attempt func()) *Reconnector {
	def := DefaultReconnectConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if clock == nil {
		clock = state.SystemClock()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay
	exp.Multiplier = 2
	exp.MaxInterval = cfg.MaxDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = clock
	exp.Reset()
	return &Reconnector{cfg: cfg, clock: clock, attempt: attempt, backoff: exp}
}

func (r *Reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts is the number of consecutive failed attempts.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Start begins connecting from Disconnected.
func (r *Reconnector) Start() {
	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return
	}
	change := r.moveLocked(StateConnecting, nil)
	r.mu.Unlock()
	r.emit(change)
	r.attempt()
}

// Retry is the user-initiated restart out of Failed.
func (r *Reconnector) Retry() {
	r.mu.Lock()
	if r.state != StateFailed {
		r.mu.Unlock()
		return
	}
	r.attempts = 0
	r.backoff.Reset()
	change := r.moveLocked(StateConnecting, nil)
	r.mu.Unlock()
	r.emit(change)
	r.attempt()
}

// Connected records a successful attempt.
func (r *Reconnector) Connected() {
	r.mu.Lock()
	if r.state != StateConnecting && r.state != StateReconnecting {
		r.mu.Unlock()
		return
	}
	r.attempts = 0
	r.lastErr = nil
	r.backoff.Reset()
	change := r.moveLocked(StateConnected, nil)
	r.mu.Unlock()
	r.emit(change)
}

// AttemptFailed records a failed attempt and schedules the next one, or
// gives up once MaxAttempts consecutive attempts have failed.
func (r *Reconnector) AttemptFailed(err error) {
	r.mu.Lock()
	if r.state != StateConnecting && r.state != StateReconnecting {
		r.mu.Unlock()
		return
	}
	r.attempts++
	r.lastErr = err
	if r.attempts >= r.cfg.MaxAttempts {
		change := r.moveLocked(StateFailed, errors.Join(ErrRetryExhausted, err))
		r.mu.Unlock()
		r.emit(change)
		return
	}
	change := r.scheduleLocked(err)
	r.mu.Unlock()
	r.emit(change)
}

// Dropped records the loss of an established connection.
func (r *Reconnector) Dropped(err error) {
	r.mu.Lock()
	if r.state != StateConnected {
		r.mu.Unlock()
		return
	}
	r.attempts = 0
	r.lastErr = err
	r.backoff.Reset()
	change := r.scheduleLocked(err)
	r.mu.Unlock()
	r.emit(change)
}

// Stop cancels any pending retry and returns to Disconnected.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.state == StateDisconnected {
		r.mu.Unlock()
		return
	}
	change := r.moveLocked(StateDisconnected, nil)
	r.mu.Unlock()
	r.emit(change)
}

func (r *Reconnector) scheduleLocked(err error) StateChange {
	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = r.cfg.MaxDelay
	}
	change := r.moveLocked(StateReconnecting, err)
	change.Delay = delay
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(delay, r.fire)
	return change
}

func (r *Reconnector) fire() {
	r.mu.Lock()
	r.timer = nil
	due := r.state == StateReconnecting
	r.mu.Unlock()
	if due {
		r.attempt()
	}
}

func (r *Reconnector) moveLocked(to ConnState, err error) StateChange {
	change := StateChange{From: r.state, To: to, Attempts: r.attempts, Err: err}
	r.state = to
	return change
}

func (r *Reconnector) emit(change StateChange) {
	if r.OnChange != nil {
		r.OnChange(change)
	}
}
