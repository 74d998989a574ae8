package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/protocol"
	"ScoreBoard/internal/state"
)

// Room is the fan-out scope of one item. It keeps the item's committed
// annotations and the presence of everyone joined to it.
type Room struct {
	itemID   string
	hub      *Hub
	presence *state.PresenceStore
	layers   *state.LayerSet
	log      zerolog.Logger

	mu    sync.RWMutex
	peers map[*peer]struct{}

	loadMu sync.Mutex
	loaded bool
}

func newRoom(h *Hub, itemID string) *Room {
	return &Room{
		itemID:   itemID,
		hub:      h,
		presence: state.NewPresenceStore(h.clock, h.cfg.CursorTTL, h.cfg.StrokeTTL),
		layers:   state.NewLayerSet(),
		log:      h.log.With().Str("item_id", itemID).Logger(),
		peers:    make(map[*peer]struct{}),
	}
}

func (r *Room) ItemID() string { return r.itemID }

// Presence exposes the room's in-progress strokes and cursors.
func (r *Room) Presence() *state.PresenceStore { return r.presence }

// Annotations returns the committed annotations the room knows about.
func (r *Room) Annotations() []state.Annotation { return r.layers.All() }

// load merges the store's records into the room once. Until the store
// answers, the room serves what it committed itself plus the bridge queue.
func (r *Room) load(ctx context.Context) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	for _, a := range r.hub.bridge.Pending(r.itemID) {
		r.layers.Add(a)
	}
	if r.loaded {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, r.hub.cfg.WriteTimeout)
	defer cancel()
	stored, err := r.hub.store.ListByItem(lctx, r.itemID)
	if err != nil {
		r.log.Warn().Err(err).Msg("could not load annotations, serving pending only")
		return
	}
	deleted := r.hub.bridge.PendingDeletes()
	for _, a := range stored {
		if !deleted[a.ID] {
			r.layers.Add(a)
		}
	}
	r.loaded = true
}

func (r *Room) welcome(ctx context.Context, pr *peer) {
	r.load(ctx)
	now := r.hub.clock.Now()
	r.mu.RLock()
	p := pr.participant
	r.mu.RUnlock()

	r.log.Info().Str("participant", p.ID).Str("name", p.DisplayName).Msg("participant joined")
	r.send(pr, protocol.NewWelcome(now, p, r.itemID))
	r.send(pr, protocol.NewSyncResponse(now, r.itemID, r.layers.All(), r.presence.Strokes(), r.presence.Cursors()))
	r.broadcast(protocol.NewPresenceChange(protocol.TypeUserConnect, now, p, r.itemID), pr)
	r.broadcastStatus()
}

// farewell runs after pr left the peer set.
func (r *Room) farewell(pr *peer) {
	p := pr.participant
	if !r.hasAuthor(p.ID) {
		if r.presence.RemoveAuthor(p.ID) {
			r.log.Debug().Str("participant", p.ID).Msg("discarded unfinished stroke")
		}
	}
	r.log.Info().Str("participant", p.ID).Msg("participant left")
	r.broadcast(protocol.NewPresenceChange(protocol.TypeUserDisconnect, r.hub.clock.Now(), p, r.itemID), nil)
	r.broadcastStatus()
}

// hasAuthor reports whether any joined session belongs to the author.
func (r *Room) hasAuthor(authorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pr := range r.peers {
		if pr.participant.ID == authorID {
			return true
		}
	}
	return false
}

// Participants returns one entry per author, ordered by join time, and the
// number of sessions behind them.
func (r *Room) Participants() ([]state.Participant, int) {
	r.mu.RLock()
	byID := make(map[string]state.Participant, len(r.peers))
	for pr := range r.peers {
		cur, ok := byID[pr.participant.ID]
		if !ok || pr.participant.LastActivityAt.After(cur.LastActivityAt) {
			byID[pr.participant.ID] = pr.participant
		}
	}
	sessions := len(r.peers)
	r.mu.RUnlock()

	out := make([]state.Participant, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out, sessions
}

func (r *Room) broadcastStatus() {
	participants, sessions := r.Participants()
	env := protocol.NewStatus(r.hub.clock.Now(), r.itemID, participants)
	env.ConnectedCount = sessions
	r.broadcast(env, nil)
}

func (r *Room) send(pr *peer, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		r.log.Error().Err(err).Str("type", string(env.Type)).Msg("encode failed")
		return
	}
	if err := pr.conn.Send(data); err != nil {
		r.log.Debug().Err(err).Msg("send failed")
	}
}

// broadcast sends env to every session in the room except exclude. Sends
// only queue, so one slow session never holds up the others.
func (r *Room) broadcast(env protocol.Envelope, exclude *peer) {
	data, err := protocol.Encode(env)
	if err != nil {
		r.log.Error().Err(err).Str("type", string(env.Type)).Msg("encode failed")
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pr := range r.peers {
		if pr == exclude {
			continue
		}
		if err := pr.conn.Send(data); err != nil {
			r.log.Debug().Err(err).Str("participant", pr.participant.ID).Msg("send failed")
		}
	}
}

// handle applies one validated envelope from a joined session. The header
// is rewritten with the session's identity and the server clock.
func (r *Room) handle(ctx context.Context, pr *peer, env protocol.Envelope) {
	now := r.hub.clock.Now()
	r.mu.Lock()
	pr.participant.LastActivityAt = now
	p := pr.participant
	r.mu.Unlock()

	env.SenderID = p.ID
	env.SenderDisplayName = p.DisplayName
	env.ItemID = r.itemID
	env.Stamp(now)
	r.log.Debug().Str("type", string(env.Type)).Str("participant", p.ID).Msg("envelope")

	switch env.Type {
	case protocol.TypeAnnotationStart:
		if r.presence.StartStroke(protocol.StrokeOf(env)) {
			r.log.Debug().Str("participant", p.ID).Msg("start replaced an open stroke")
		}
		r.broadcast(env, pr)
	case protocol.TypeAnnotationUpdate:
		r.presence.UpdateStroke(protocol.StrokeOf(env))
		r.broadcast(env, pr)
	case protocol.TypeAnnotationComplete:
		r.commit(ctx, env)
	case protocol.TypeAnnotationDelete:
		r.remove(ctx, pr, env)
	case protocol.TypeCursorMove:
		r.presence.MoveCursor(protocol.CursorOf(env, now))
		r.broadcast(env, pr)
	case protocol.TypeCommandSend:
		r.command(ctx, env)
	case protocol.TypeUserJoin:
		r.hub.reject(pr, protocol.CodeUnexpected, "already joined "+r.itemID)
	default:
		r.hub.reject(pr, protocol.CodeUnexpected, string(env.Type)+" is not accepted from participants")
	}
}

// commit turns a complete into a durable annotation with a fresh id. A
// complete without an open stroke, such as one replayed after reconnect, is
// committed all the same.
func (r *Room) commit(ctx context.Context, env protocol.Envelope) {
	if _, open := r.presence.TakeStroke(env.SenderID); !open {
		replayedCompletesTotal.Inc()
		r.log.Debug().Bool("replayed", true).Str("participant", env.SenderID).Msg("complete without start")
	}
	a := protocol.AnnotationOf(env)
	a.ID = uuid.NewString()
	a.CreatedAt = env.Time()

	receipt := r.hub.bridge.Commit(ctx, a)
	r.layers.Add(receipt.Annotation)

	r.broadcast(protocol.NewCompleteBroadcast(receipt.Annotation), nil)
}

func (r *Room) remove(ctx context.Context, pr *peer, env protocol.Envelope) {
	a, ok := r.layers.Get(env.AnnotationID)
	if !ok {
		r.hub.reject(pr, protocol.CodeNotFound, "unknown annotation "+env.AnnotationID)
		return
	}
	if a.AuthorID != env.SenderID {
		r.hub.reject(pr, protocol.CodeForbidden, "only the author may delete an annotation")
		return
	}
	if err := r.hub.bridge.Delete(ctx, a.ID); err != nil && !errors.Is(err, persist.ErrNotFound) {
		r.log.Warn().Err(err).Str("annotation_id", a.ID).Msg("delete failed")
	}
	r.layers.Remove(a.ID)
	r.broadcast(env, nil)
}

// command stores and broadcasts a directive. Commands are fire-and-forget:
// a failed write is logged and the broadcast still goes out.
func (r *Room) command(ctx context.Context, env protocol.Envelope) {
	c := state.Command{
		ID:                uuid.NewString(),
		ItemID:            r.itemID,
		SenderID:          env.SenderID,
		SenderDisplayName: env.SenderDisplayName,
		Message:           env.Message,
		CreatedAt:         env.Time(),
	}
	wctx, cancel := context.WithTimeout(ctx, r.hub.cfg.WriteTimeout)
	defer cancel()
	if _, err := r.hub.store.CreateCommand(wctx, c); err != nil {
		r.log.Warn().Err(err).Str("command_id", c.ID).Msg("command not persisted")
	}
	r.broadcast(protocol.NewCommandBroadcast(c), nil)
}
