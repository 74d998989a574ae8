package state

import (
	"sort"
	"sync"
)

// LayerSet holds the committed annotations of one item, grouped per author.
// Each author is one layer; the compositor redraws a layer as a unit.
type LayerSet struct {
	mu       sync.RWMutex
	byID     map[string]Annotation
	byAuthor map[string][]string
}

func NewLayerSet() *LayerSet {
	return &LayerSet{
		byID:     make(map[string]Annotation),
		byAuthor: make(map[string][]string),
	}
}

// Add stores a committed annotation and reports whether it was new.
// Receiving the same id twice is a no-op.
func (ls *LayerSet) Add(a Annotation) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, exists := ls.byID[a.ID]; exists {
		return false
	}
	a.Path = a.Path.Clone()
	ls.byID[a.ID] = a
	ls.byAuthor[a.AuthorID] = append(ls.byAuthor[a.AuthorID], a.ID)
	return true
}

// Remove deletes an annotation by id and returns its author.
func (ls *LayerSet) Remove(id string) (string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	a, exists := ls.byID[id]
	if !exists {
		return "", false
	}
	delete(ls.byID, id)
	ids := ls.byAuthor[a.AuthorID]
	for i, x := range ids {
		if x == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(ls.byAuthor, a.AuthorID)
	} else {
		ls.byAuthor[a.AuthorID] = ids
	}
	return a.AuthorID, true
}

// Rekey renames an annotation in place, keeping its position in the
// author's layer. It fails when oldID is unknown or newID is taken.
func (ls *LayerSet) Rekey(oldID, newID string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	a, ok := ls.byID[oldID]
	if !ok {
		return false
	}
	if _, taken := ls.byID[newID]; taken {
		return false
	}
	delete(ls.byID, oldID)
	a.ID = newID
	ls.byID[newID] = a
	for i, id := range ls.byAuthor[a.AuthorID] {
		if id == oldID {
			ls.byAuthor[a.AuthorID][i] = newID
			break
		}
	}
	return true
}

// Replace drops everything and loads the given annotations. Used when a
// fresh sync arrives after reconnect. Returns every author touched.
func (ls *LayerSet) Replace(all []Annotation) []string {
	ls.mu.Lock()
	touched := make(map[string]struct{}, len(ls.byAuthor))
	for author := range ls.byAuthor {
		touched[author] = struct{}{}
	}
	ls.byID = make(map[string]Annotation, len(all))
	ls.byAuthor = make(map[string][]string)
	ls.mu.Unlock()

	for _, a := range all {
		ls.Add(a)
		touched[a.AuthorID] = struct{}{}
	}
	out := make([]string, 0, len(touched))
	for author := range touched {
		out = append(out, author)
	}
	sort.Strings(out)
	return out
}

// Get returns a single annotation.
func (ls *LayerSet) Get(id string) (Annotation, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	a, ok := ls.byID[id]
	return a, ok
}

// Layer returns an author's annotations in commit order.
func (ls *LayerSet) Layer(authorID string) []Annotation {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	ids := ls.byAuthor[authorID]
	out := make([]Annotation, 0, len(ids))
	for _, id := range ids {
		out = append(out, ls.byID[id])
	}
	return out
}

// Authors returns the ids of authors with at least one annotation, sorted.
func (ls *LayerSet) Authors() []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]string, 0, len(ls.byAuthor))
	for author := range ls.byAuthor {
		out = append(out, author)
	}
	sort.Strings(out)
	return out
}

// All returns every annotation ordered by creation time.
func (ls *LayerSet) All() []Annotation {
	ls.mu.RLock()
	out := make([]Annotation, 0, len(ls.byID))
	for _, a := range ls.byID {
		out = append(out, a)
	}
	ls.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (ls *LayerSet) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.byID)
}
