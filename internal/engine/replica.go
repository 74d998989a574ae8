package engine

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ScoreBoard/internal/protocol"
	"ScoreBoard/internal/state"
)

// Effect reports what applying one envelope changed locally.
type Effect struct {
	Ignored bool     // own envelope, dropped
	Dirty   []string // authors whose layer must be redrawn
	Command *state.Command
	Err     *protocol.Envelope // error envelope from the server
}

// Replica is a participant's local copy of one room: other authors'
// in-progress strokes and cursors, every committed annotation, the command
// board and the participant list. Envelopes whose sender is the local
// participant are ignored; local drawing reaches the layers directly.
type Replica struct {
	self     string
	itemID   string
	presence *state.PresenceStore
	layers   *state.LayerSet
	board    *CommandBoard
	clock    state.Clock
	log      zerolog.Logger

	mu           sync.RWMutex
	participants []state.Participant
	connected    int
	welcomed     *state.Participant
	committedAt  map[string]int64 // author -> timestamp of the last complete
}

func NewReplica(selfID, itemID string, presence *state.PresenceStore, layers *state.LayerSet, board *CommandBoard, clock state.Clock, log zerolog.Logger) *Replica {
	if clock == nil {
		clock = state.SystemClock()
	}
	return &Replica{
		self:     selfID,
		itemID:   itemID,
		presence: presence,
		layers:   layers,
		board:    board,
		clock:    clock,
		log:      log.With().Str("component", "replica").Logger(),

		committedAt: make(map[string]int64),
	}
}

// Apply folds one inbound envelope into local state.
func (r *Replica) Apply(env protocol.Envelope) Effect {
	if env.SenderID == r.self {
		return Effect{Ignored: true}
	}
	if env.ItemID != "" && env.ItemID != r.itemID {
		r.log.Debug().Str("item_id", env.ItemID).Msg("envelope for another item")
		return Effect{Ignored: true}
	}

	switch env.Type {
	case protocol.TypeWelcome:
		if env.Participant != nil {
			p := *env.Participant
			r.mu.Lock()
			r.welcomed = &p
			r.mu.Unlock()
		}
	case protocol.TypeSyncResponse:
		return r.applySync(env, nil)
	case protocol.TypeServerStatus:
		r.mu.Lock()
		r.participants = append([]state.Participant(nil), env.ActiveParticipants...)
		r.connected = env.ConnectedCount
		r.mu.Unlock()
	case protocol.TypeUserConnect:
		r.log.Debug().Str("participant", env.SenderID).Msg("participant connected")
	case protocol.TypeUserDisconnect:
		r.presence.RemoveAuthor(env.SenderID)
		return Effect{Dirty: []string{env.SenderID}}
	case protocol.TypeAnnotationStart:
		r.presence.StartStroke(protocol.StrokeOf(env))
		return Effect{Dirty: []string{env.SenderID}}
	case protocol.TypeAnnotationUpdate:
		if r.stale(env) {
			return Effect{}
		}
		r.presence.UpdateStroke(protocol.StrokeOf(env))
		return Effect{Dirty: []string{env.SenderID}}
	case protocol.TypeAnnotationComplete:
		r.presence.TakeStroke(env.SenderID)
		r.mu.Lock()
		if env.Timestamp > r.committedAt[env.SenderID] {
			r.committedAt[env.SenderID] = env.Timestamp
		}
		r.mu.Unlock()
		a := protocol.AnnotationOf(env)
		if a.ID == "" {
			r.log.Warn().Str("participant", env.SenderID).Msg("complete without annotation id")
			return Effect{Dirty: []string{env.SenderID}}
		}
		r.layers.Add(a)
		return Effect{Dirty: []string{a.AuthorID}}
	case protocol.TypeAnnotationDelete:
		if author, ok := r.layers.Remove(env.AnnotationID); ok {
			return Effect{Dirty: []string{author}}
		}
	case protocol.TypeCursorMove:
		r.presence.MoveCursor(protocol.CursorOf(env, r.clock.Now()))
	case protocol.TypeCommandBroadcast:
		c := state.Command{
			ID:                env.CommandID,
			ItemID:            env.ItemID,
			SenderID:          env.SenderID,
			SenderDisplayName: env.SenderDisplayName,
			Message:           env.Message,
			CreatedAt:         env.Time(),
		}
		if r.board.Add(c, r.clock.Now()) {
			return Effect{Command: &c}
		}
	case protocol.TypeError:
		r.log.Warn().Str("code", env.Code).Str("message", env.Message).Msg("server error")
		return Effect{Err: &env}
	}
	return Effect{}
}

// stale reports an update older than the author's last complete. Applying
// it would reopen a stroke the complete already replaced.
func (r *Replica) stale(env protocol.Envelope) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return env.Timestamp < r.committedAt[env.SenderID]
}

// ApplySync rebuilds presence from scratch and replaces the committed set.
// keep holds local annotations the server has not acknowledged yet.
func (r *Replica) ApplySync(env protocol.Envelope, keep []state.Annotation) Effect {
	return r.applySync(env, keep)
}

func (r *Replica) applySync(env protocol.Envelope, keep []state.Annotation) Effect {
	dirty := make(map[string]struct{})
	for _, st := range r.presence.Strokes() {
		dirty[st.AuthorID] = struct{}{}
	}
	r.presence.Reset()
	for _, st := range env.InProgress {
		if st.AuthorID == r.self {
			continue
		}
		r.presence.StartStroke(st)
		dirty[st.AuthorID] = struct{}{}
	}
	now := r.clock.Now()
	for _, c := range env.Cursors {
		if c.AuthorID == r.self {
			continue
		}
		// Keep the age the server saw, measured on the local clock.
		c.LastUpdate = now.Add(-env.Time().Sub(c.LastUpdate))
		r.presence.MoveCursor(c)
	}
	all := append(append([]state.Annotation(nil), env.Annotations...), keep...)
	for _, author := range r.layers.Replace(all) {
		dirty[author] = struct{}{}
	}
	out := make([]string, 0, len(dirty))
	for a := range dirty {
		out = append(out, a)
	}
	sort.Strings(out)
	return Effect{Dirty: out}
}

// Active reports whether the author is in the latest participant list.
func (r *Replica) Active(authorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.ID == authorID {
			return true
		}
	}
	return false
}

func (r *Replica) Participants() ([]state.Participant, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]state.Participant(nil), r.participants...), r.connected
}

// Welcomed returns the identity the server recorded at join.
func (r *Replica) Welcomed() (state.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.welcomed == nil {
		return state.Participant{}, false
	}
	return *r.welcomed, true
}

// Forget clears the participant list on disconnect.
func (r *Replica) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = nil
	r.connected = 0
}
