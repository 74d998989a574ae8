package state

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCursorTTL = 5 * time.Second
	DefaultStrokeTTL = 30 * time.Second

	presenceShards = 16
)

// PresenceStore keeps in-progress strokes and live cursors for one item.
//
// Entries are partitioned by author id across shards. Writers hold the
// collection lock shared and their shard exclusively, so two authors never
// contend on the same entry. Sweep and Reset take the collection lock
// exclusively while they walk every shard.
type PresenceStore struct {
	clock     Clock
	cursorTTL time.Duration
	strokeTTL time.Duration

	all    sync.RWMutex
	shards [presenceShards]presenceShard
}

type presenceShard struct {
	mu      sync.Mutex
	strokes map[string]InProgressStroke
	cursors map[string]LiveCursor
}

// SweepResult lists what a sweep removed.
type SweepResult struct {
	ExpiredCursors []string
	DroppedStrokes []string
}

func NewPresenceStore(clock Clock, cursorTTL, strokeTTL time.Duration) *PresenceStore {
	if clock == nil {
		clock = SystemClock()
	}
	if cursorTTL <= 0 {
		cursorTTL = DefaultCursorTTL
	}
	if strokeTTL <= 0 {
		strokeTTL = DefaultStrokeTTL
	}
	ps := &PresenceStore{clock: clock, cursorTTL: cursorTTL, strokeTTL: strokeTTL}
	for i := range ps.shards {
		ps.shards[i].strokes = make(map[string]InProgressStroke)
		ps.shards[i].cursors = make(map[string]LiveCursor)
	}
	return ps
}

func (ps *PresenceStore) shard(authorID string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(authorID))
	return &ps.shards[h.Sum32()%presenceShards]
}

func (ps *PresenceStore) with(authorID string, f func(s *presenceShard)) {
	ps.all.RLock()
	defer ps.all.RUnlock()
	s := ps.shard(authorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// StartStroke opens an in-progress stroke, replacing any earlier one by the
// same author. It reports whether a previous stroke was replaced.
func (ps *PresenceStore) StartStroke(st InProgressStroke) bool {
	now := ps.clock.Now()
	if st.StartedAt.IsZero() {
		st.StartedAt = now
	}
	st.UpdatedAt = now
	st.CurrentPath = st.CurrentPath.Clone()
	var replaced bool
	ps.with(st.AuthorID, func(s *presenceShard) {
		_, replaced = s.strokes[st.AuthorID]
		s.strokes[st.AuthorID] = st
	})
	return replaced
}

// UpdateStroke replaces the author's current path with the latest snapshot.
// An update with no open stroke opens one, so a lost start heals on the
// next update. It reports whether a new stroke had to be opened.
func (ps *PresenceStore) UpdateStroke(update InProgressStroke) bool {
	now := ps.clock.Now()
	var opened bool
	ps.with(update.AuthorID, func(s *presenceShard) {
		cur, ok := s.strokes[update.AuthorID]
		if !ok {
			opened = true
			cur = update
			cur.StartedAt = now
		}
		cur.CurrentPath = update.CurrentPath.Clone()
		if update.Tool != "" {
			cur.Tool = update.Tool
		}
		if update.Color != "" {
			cur.Color = update.Color
		}
		if update.AuthorDisplayName != "" {
			cur.AuthorDisplayName = update.AuthorDisplayName
		}
		cur.UpdatedAt = now
		s.strokes[update.AuthorID] = cur
	})
	return opened
}

// TakeStroke removes and returns the author's in-progress stroke.
func (ps *PresenceStore) TakeStroke(authorID string) (InProgressStroke, bool) {
	var st InProgressStroke
	var ok bool
	ps.with(authorID, func(s *presenceShard) {
		st, ok = s.strokes[authorID]
		delete(s.strokes, authorID)
	})
	return st, ok
}

func (ps *PresenceStore) Stroke(authorID string) (InProgressStroke, bool) {
	var st InProgressStroke
	var ok bool
	ps.with(authorID, func(s *presenceShard) {
		st, ok = s.strokes[authorID]
	})
	return st, ok
}

// MoveCursor overwrites the author's cursor.
func (ps *PresenceStore) MoveCursor(c LiveCursor) {
	if c.LastUpdate.IsZero() {
		c.LastUpdate = ps.clock.Now()
	}
	ps.with(c.AuthorID, func(s *presenceShard) {
		s.cursors[c.AuthorID] = c
	})
}

// Cursor returns the author's cursor unless it has expired. An expired cursor
// is absent even if the sweep has not removed it yet.
func (ps *PresenceStore) Cursor(authorID string) (LiveCursor, bool) {
	now := ps.clock.Now()
	var c LiveCursor
	var ok bool
	ps.with(authorID, func(s *presenceShard) {
		c, ok = s.cursors[authorID]
	})
	if ok && now.Sub(c.LastUpdate) >= ps.cursorTTL {
		return LiveCursor{}, false
	}
	return c, ok
}

// RemoveAuthor drops the author's stroke and cursor.
func (ps *PresenceStore) RemoveAuthor(authorID string) (hadStroke bool) {
	ps.with(authorID, func(s *presenceShard) {
		_, hadStroke = s.strokes[authorID]
		delete(s.strokes, authorID)
		delete(s.cursors, authorID)
	})
	return hadStroke
}

// Strokes returns all in-progress strokes sorted by author.
func (ps *PresenceStore) Strokes() []InProgressStroke {
	ps.all.RLock()
	defer ps.all.RUnlock()
	var out []InProgressStroke
	for i := range ps.shards {
		s := &ps.shards[i]
		s.mu.Lock()
		for _, st := range s.strokes {
			out = append(out, st)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuthorID < out[j].AuthorID })
	return out
}

// Cursors returns live, non-expired cursors sorted by author.
func (ps *PresenceStore) Cursors() []LiveCursor {
	now := ps.clock.Now()
	ps.all.RLock()
	defer ps.all.RUnlock()
	var out []LiveCursor
	for i := range ps.shards {
		s := &ps.shards[i]
		s.mu.Lock()
		for _, c := range s.cursors {
			if now.Sub(c.LastUpdate) < ps.cursorTTL {
				out = append(out, c)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuthorID < out[j].AuthorID })
	return out
}

// Sweep removes expired cursors, strokes idle past the stroke TTL, and
// strokes whose author has no active session. active may be nil.
func (ps *PresenceStore) Sweep(active func(authorID string) bool) SweepResult {
	now := ps.clock.Now()
	var res SweepResult
	ps.all.Lock()
	defer ps.all.Unlock()
	for i := range ps.shards {
		s := &ps.shards[i]
		for id, c := range s.cursors {
			if now.Sub(c.LastUpdate) >= ps.cursorTTL {
				delete(s.cursors, id)
				res.ExpiredCursors = append(res.ExpiredCursors, id)
			}
		}
		for id, st := range s.strokes {
			if (active != nil && !active(id)) || now.Sub(st.UpdatedAt) >= ps.strokeTTL {
				delete(s.strokes, id)
				res.DroppedStrokes = append(res.DroppedStrokes, id)
			}
		}
	}
	sort.Strings(res.ExpiredCursors)
	sort.Strings(res.DroppedStrokes)
	return res
}

// Reset empties the store. Called when a session reconnects; nothing from a
// previous connection epoch is reconciled.
func (ps *PresenceStore) Reset() {
	ps.all.Lock()
	defer ps.all.Unlock()
	for i := range ps.shards {
		ps.shards[i].strokes = make(map[string]InProgressStroke)
		ps.shards[i].cursors = make(map[string]LiveCursor)
	}
}
