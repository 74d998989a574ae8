package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ScoreBoard/internal/state"
)

// ErrFlushInFlight is returned when a flush is requested while one is running.
var ErrFlushInFlight = errors.New("flush already in flight")

// BridgeConfig controls write timeouts and the retry schedule.
type BridgeConfig struct {
	WriteTimeout   time.Duration // per durable write
	RetryBase      time.Duration // first retry delay after a failure
	RetryMax       time.Duration // cap for the doubling retry delay
	HealthInterval time.Duration // how often Run pings the store
}

func (c *BridgeConfig) withDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 2 * time.Second
	}
}

// Status is the bridge's ground truth for "is anything at risk of loss".
type Status struct {
	Pending     int       `json:"pending"`
	InFlight    bool      `json:"inFlight"`
	LastError   string    `json:"lastError,omitempty"`
	Connected   bool      `json:"connected"`
	LastSavedAt time.Time `json:"lastSavedAt,omitempty"`
}

// Receipt describes the outcome of a Commit.
type Receipt struct {
	Annotation state.Annotation
	Saved      bool // durably written
	Queued     bool // waiting in the pending list
}

type opKind int

const (
	opCreate opKind = iota
	opDelete
)

type pendingOp struct {
	kind       opKind
	annotation state.Annotation
	id         string
	enqueuedAt time.Time
}

func (p pendingOp) key() string {
	if p.kind == opDelete {
		return "delete:" + p.id
	}
	return "create:" + p.id
}

// Bridge turns completed annotations into durable records. Writes that fail
// are queued in memory and retried on a doubling schedule, and again every
// time the store comes back after being unreachable. Nothing is dropped.
type Bridge struct {
	store Store
	clock state.Scheduler
	cfg   BridgeConfig
	log   zerolog.Logger

	mu          sync.Mutex
	pending     []pendingOp
	inFlight    bool
	flushing    map[string]bool // create ids handed to the store by the running flush
	connected   bool
	lastErr     error
	lastSavedAt time.Time
	retry       *backoff.ExponentialBackOff
	retryTimer  state.Timer

	// OnSaved fires once per annotation that reached the store.
	OnSaved func(state.Annotation)
	// OnStatus fires after every change to Status.
	OnStatus func(Status)
}

func NewBridge(store Store, clock state.Scheduler, cfg BridgeConfig, log zerolog.Logger) *Bridge {
	cfg.withDefaults()
	if clock == nil {
		clock = state.SystemClock()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.RetryBase
	exp.Multiplier = 2
	exp.MaxInterval = cfg.RetryMax
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Clock = clock
	exp.Reset()
	return &Bridge{
		store:     store,
		clock:     clock,
		cfg:       cfg,
		log:       log.With().Str("component", "bridge").Logger(),
		connected: true,
		retry:     exp,
	}
}

// Commit assigns an id when missing and attempts a durable write. On failure
// the annotation is queued and a retry is scheduled; the receipt says which.
func (b *Bridge) Commit(ctx context.Context, a state.Annotation) Receipt {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = b.clock.Now()
	}
	a.Normalize()

	b.mu.Lock()
	online := b.connected
	b.mu.Unlock()

	if online {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		saved, err := b.store.Create(wctx, a)
		cancel()
		if err == nil {
			b.mu.Lock()
			b.lastSavedAt = b.clock.Now()
			b.mu.Unlock()
			b.log.Debug().Str("annotation_id", saved.ID).Str("item_id", saved.ItemID).Msg("annotation saved")
			b.saved(saved)
			b.notify()
			return Receipt{Annotation: saved, Saved: true}
		}
		b.log.Warn().Err(err).Str("annotation_id", a.ID).Msg("durable write failed, queueing")
		b.mu.Lock()
		b.lastErr = err
		b.connected = false
		b.mu.Unlock()
	}

	b.enqueue(pendingOp{kind: opCreate, annotation: a, id: a.ID})
	return Receipt{Annotation: a, Queued: true}
}

// Delete removes a durable annotation. A delete for an annotation that is
// still queued cancels the queued write instead. When that write is already
// part of a running flush it may land, so the delete is queued behind it.
func (b *Bridge) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	for i, p := range b.pending {
		if p.kind == opCreate && p.id == id {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			landing := b.flushing[id]
			b.mu.Unlock()
			if landing {
				b.enqueue(pendingOp{kind: opDelete, id: id})
				return nil
			}
			b.notify()
			return nil
		}
	}
	online := b.connected
	b.mu.Unlock()

	if online {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		err := b.store.Delete(wctx, id)
		cancel()
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		b.log.Warn().Err(err).Str("annotation_id", id).Msg("durable delete failed, queueing")
		b.mu.Lock()
		b.lastErr = err
		b.connected = false
		b.mu.Unlock()
	}
	b.enqueue(pendingOp{kind: opDelete, id: id})
	return nil
}

func (b *Bridge) enqueue(op pendingOp) {
	op.enqueuedAt = b.clock.Now()
	b.mu.Lock()
	replaced := false
	for i, p := range b.pending {
		if p.key() == op.key() {
			b.pending[i] = op
			replaced = true
			break
		}
	}
	if !replaced {
		b.pending = append(b.pending, op)
	}
	b.scheduleRetryLocked()
	n := len(b.pending)
	b.mu.Unlock()
	b.log.Info().Int("pending", n).Str("id", op.id).Msg("queued for retry")
	b.notify()
}

// FlushPending writes every queued create in one batch and replays queued
// deletes. Items that succeed leave the queue; the rest stay for next time.
func (b *Bridge) FlushPending(ctx context.Context) error {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return ErrFlushInFlight
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.inFlight = true
	batch := make([]pendingOp, len(b.pending))
	copy(batch, b.pending)
	b.flushing = make(map[string]bool, len(batch))
	for _, p := range batch {
		if p.kind == opCreate {
			b.flushing[p.id] = true
		}
	}
	b.mu.Unlock()
	b.notify()

	var creates []state.Annotation
	var deletes []pendingOp
	for _, p := range batch {
		if p.kind == opCreate {
			creates = append(creates, p.annotation)
		} else {
			deletes = append(deletes, p)
		}
	}

	done := make(map[string]bool, len(batch))
	var errs []error
	var saved []state.Annotation
	if len(creates) > 0 {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		var err error
		saved, err = b.store.BulkCreate(wctx, creates)
		cancel()
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range saved {
			done[pendingOp{kind: opCreate, id: a.ID}.key()] = true
		}
	}
	for _, p := range deletes {
		wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
		err := b.store.Delete(wctx, p.id)
		cancel()
		if err == nil || errors.Is(err, ErrNotFound) {
			done[p.key()] = true
			continue
		}
		errs = append(errs, err)
	}
	flushErr := errors.Join(errs...)

	b.mu.Lock()
	remaining := b.pending[:0]
	for _, p := range b.pending {
		if !done[p.key()] {
			remaining = append(remaining, p)
		}
	}
	b.pending = remaining
	b.inFlight = false
	b.flushing = nil
	if len(saved) > 0 {
		b.lastSavedAt = b.clock.Now()
	}
	if flushErr != nil {
		b.lastErr = flushErr
		b.scheduleRetryLocked()
	} else {
		b.lastErr = nil
		b.connected = true
		b.retry.Reset()
		if len(b.pending) > 0 {
			b.scheduleRetryLocked()
		}
	}
	left := len(b.pending)
	b.mu.Unlock()

	for _, a := range saved {
		b.saved(a)
	}
	b.log.Info().Int("saved", len(saved)).Int("pending", left).Err(flushErr).Msg("flushed pending annotations")
	b.notify()
	return flushErr
}

// scheduleRetryLocked arms a single retry timer. Caller holds b.mu.
func (b *Bridge) scheduleRetryLocked() {
	if b.retryTimer != nil || len(b.pending) == 0 {
		return
	}
	delay := b.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = b.cfg.RetryMax
	}
	b.retryTimer = b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		b.retryTimer = nil
		b.mu.Unlock()
		if err := b.FlushPending(context.Background()); err != nil && !errors.Is(err, ErrFlushInFlight) {
			b.log.Warn().Err(err).Msg("scheduled flush failed")
		}
	})
}

// SetConnectivity records whether the store is reachable. Going from
// unreachable to reachable flushes the queue in the background.
func (b *Bridge) SetConnectivity(up bool) {
	b.mu.Lock()
	was := b.connected
	b.connected = up
	hasPending := len(b.pending) > 0
	b.mu.Unlock()

	if was == up {
		return
	}
	b.log.Info().Bool("connected", up).Msg("store connectivity changed")
	b.notify()
	if up && hasPending {
		go func() {
			if err := b.FlushPending(context.Background()); err != nil && !errors.Is(err, ErrFlushInFlight) {
				b.log.Warn().Err(err).Msg("reconnect flush failed")
			}
		}()
	}
}

// Run pings the store on HealthInterval until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info().Dur("interval", b.cfg.HealthInterval).Msg("bridge health loop starting")
	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("bridge health loop stopping")
			return ctx.Err()
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
			err := b.store.Ping(pctx)
			cancel()
			b.SetConnectivity(err == nil)
		}
	}
}

// Pending returns queued annotations for one item, oldest first.
func (b *Bridge) Pending(itemID string) []state.Annotation {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []state.Annotation
	for _, p := range b.pending {
		if p.kind == opCreate && p.annotation.ItemID == itemID {
			out = append(out, p.annotation)
		}
	}
	return out
}

// PendingDeletes reports ids whose deletion has not reached the store yet.
func (b *Bridge) PendingDeletes() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool)
	for _, p := range b.pending {
		if p.kind == opDelete {
			out[p.id] = true
		}
	}
	return out
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Pending:     len(b.pending),
		InFlight:    b.inFlight,
		Connected:   b.connected,
		LastSavedAt: b.lastSavedAt,
	}
	if b.lastErr != nil {
		st.LastError = b.lastErr.Error()
	}
	return st
}

// Close stops the retry timer. Queued items are discarded with the process.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
}

func (b *Bridge) saved(a state.Annotation) {
	if b.OnSaved != nil {
		b.OnSaved(a)
	}
}

func (b *Bridge) notify() {
	if b.OnStatus != nil {
		b.OnStatus(b.Status())
	}
}
