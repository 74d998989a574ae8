// Package engine is the annotation sync protocol: the server-side Hub that
// owns one Room per shared item, and the client-side Replica that applies
// what a room fans out.
package engine

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/protocol"
	"ScoreBoard/internal/state"
)

// Conn is a participant's transport. *net.Session satisfies it.
type Conn interface {
	Run(ctx context.Context, handle func(data []byte)) error
	Send(data []byte) error
	Close() error
}

type HubConfig struct {
	CursorTTL     time.Duration
	StrokeTTL     time.Duration
	SweepInterval time.Duration
	WriteTimeout  time.Duration // command writes and the room's initial load
}

func (c *HubConfig) withDefaults() {
	if c.CursorTTL <= 0 {
		c.CursorTTL = state.DefaultCursorTTL
	}
	if c.StrokeTTL <= 0 {
		c.StrokeTTL = state.DefaultStrokeTTL
	}
	if c.SweepInterval <= 0 || c.SweepInterval > time.Second {
		c.SweepInterval = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
}

var palette = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4", "#42d4f4", "#f032e6", "#9a6324"}

// ColorFor picks a stable color for a participant without one.
func ColorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Hub tracks rooms by item id. Rooms are created on first join and dropped
// when their last session leaves.
type Hub struct {
	bridge *persist.Bridge
	store  persist.Store
	clock  state.Scheduler
	cfg    HubConfig
	log    zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(bridge *persist.Bridge, store persist.Store, clock state.Scheduler, cfg HubConfig, log zerolog.Logger) *Hub {
	cfg.withDefaults()
	if clock == nil {
		clock = state.SystemClock()
	}
	return &Hub{
		bridge: bridge,
		store:  store,
		clock:  clock,
		cfg:    cfg,
		log:    log.With().Str("component", "hub").Logger(),
		rooms:  make(map[string]*Room),
	}
}

// peer is one joined session. Only the session's read goroutine touches
// room; participant is guarded by the room lock.
type peer struct {
	conn        Conn
	room        *Room
	participant state.Participant
}

// Serve runs one participant's session until it ends. The first envelope
// must be user:join.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	pr := &peer{conn: conn}
	err := conn.Run(ctx, func(data []byte) { h.handle(ctx, pr, data) })
	if pr.room != nil {
		h.detach(pr)
	}
	return err
}

func (h *Hub) handle(ctx context.Context, pr *peer, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		h.reject(pr, protocol.CodeBadEnvelope, err.Error())
		return
	}
	if err := env.Validate(); err != nil {
		h.reject(pr, protocol.ErrorCode(err), err.Error())
		return
	}
	envelopesTotal.WithLabelValues(string(env.Type)).Inc()

	if pr.room == nil {
		if env.Type != protocol.TypeUserJoin {
			h.reject(pr, protocol.CodeNotJoined, "send user:join first")
			return
		}
		h.join(ctx, pr, env)
		return
	}
	pr.room.handle(ctx, pr, env)
}

func (h *Hub) reject(pr *peer, code, message string) {
	protocolErrorsTotal.WithLabelValues(code).Inc()
	data, err := protocol.Encode(protocol.NewError(h.clock.Now(), code, message))
	if err != nil {
		return
	}
	_ = pr.conn.Send(data)
}

func (h *Hub) join(ctx context.Context, pr *peer, env protocol.Envelope) {
	now := h.clock.Now()
	p := state.Participant{
		ID:             env.SenderID,
		DisplayName:    env.SenderDisplayName,
		Color:          env.Color,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DisplayName == "" {
		p.DisplayName = "guest-" + p.ID[:min(8, len(p.ID))]
	}
	if p.Color == "" {
		p.Color = ColorFor(p.ID)
	}
	pr.participant = p

	room := h.attach(env.ItemID, pr)
	room.welcome(ctx, pr)
}

// attach adds pr to the item's room, creating it when needed. Holding the
// hub lock across the add keeps a concurrent last-leave from dropping the
// room in between.
func (h *Hub) attach(itemID string, pr *peer) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[itemID]
	if !ok {
		room = newRoom(h, itemID)
		h.rooms[itemID] = room
		roomsGauge.Set(float64(len(h.rooms)))
	}
	room.mu.Lock()
	room.peers[pr] = struct{}{}
	room.mu.Unlock()
	pr.room = room
	sessionsGauge.Inc()
	return room
}

func (h *Hub) detach(pr *peer) {
	room := pr.room
	h.mu.Lock()
	room.mu.Lock()
	delete(room.peers, pr)
	empty := len(room.peers) == 0
	room.mu.Unlock()
	if empty {
		delete(h.rooms, room.itemID)
		roomsGauge.Set(float64(len(h.rooms)))
	}
	h.mu.Unlock()
	sessionsGauge.Dec()
	room.farewell(pr)
}

// Room returns the live room for an item.
func (h *Hub) Room(itemID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[itemID]
	return r, ok
}

func (h *Hub) snapshot() []*Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].itemID < out[j].itemID })
	return out
}

// RoomSummary is the per-item view reported by /api/status.
type RoomSummary struct {
	ItemID       string              `json:"itemId"`
	Sessions     int                 `json:"sessions"`
	Participants []state.Participant `json:"participants"`
	InProgress   int                 `json:"inProgress"`
	Annotations  int                 `json:"annotations"`
}

func (h *Hub) Rooms() []RoomSummary {
	rooms := h.snapshot()
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		participants, sessions := r.Participants()
		out = append(out, RoomSummary{
			ItemID:       r.itemID,
			Sessions:     sessions,
			Participants: participants,
			InProgress:   len(r.presence.Strokes()),
			Annotations:  r.layers.Len(),
		})
	}
	return out
}

// Sweep expires cursors and drops strokes of authors without a session or
// idle past the stroke TTL, in every room.
func (h *Hub) Sweep() {
	for _, r := range h.snapshot() {
		res := r.presence.Sweep(r.hasAuthor)
		if len(res.DroppedStrokes) > 0 || len(res.ExpiredCursors) > 0 {
			r.log.Debug().Strs("strokes", res.DroppedStrokes).Strs("cursors", res.ExpiredCursors).Msg("presence swept")
		}
	}
}

// Run sweeps presence on SweepInterval until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// AnnotationCreated fans out a record written through the REST collaborator.
func (h *Hub) AnnotationCreated(a state.Annotation) {
	r, ok := h.Room(a.ItemID)
	if !ok {
		return
	}
	if r.layers.Add(a) {
		r.broadcast(protocol.NewCompleteBroadcast(a), nil)
	}
}

// AnnotationDeleted fans out a deletion made through the REST collaborator.
func (h *Hub) AnnotationDeleted(id string) {
	for _, r := range h.snapshot() {
		if _, ok := r.layers.Remove(id); ok {
			r.broadcast(protocol.NewDelete(h.clock.Now(), protocol.ServerIdentity, r.itemID, id), nil)
		}
	}
}
