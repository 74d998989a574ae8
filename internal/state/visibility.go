package state

import "sync"

// Visibility is the local viewer's per-author show/hide preference.
// Authors default to visible; nothing here is ever sent over the wire.
type Visibility struct {
	mu     sync.RWMutex
	hidden map[string]bool
}

func NewVisibility() *Visibility {
	return &Visibility{hidden: make(map[string]bool)}
}

func (v *Visibility) Visible(authorID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.hidden[authorID]
}

// Set records the preference and reports whether it changed.
func (v *Visibility) Set(authorID string, visible bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	was := !v.hidden[authorID]
	if visible {
		delete(v.hidden, authorID)
	} else {
		v.hidden[authorID] = true
	}
	return was != visible
}

// Hidden returns the authors currently hidden.
func (v *Visibility) Hidden() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.hidden))
	for a := range v.hidden {
		out = append(out, a)
	}
	return out
}
