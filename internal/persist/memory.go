package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ScoreBoard/internal/state"
)

// MemoryStore keeps records in process memory. It can be told to fail so
// tests can drive the bridge's offline paths.
type MemoryStore struct {
	mu          sync.Mutex
	annotations map[string]state.Annotation
	commands    map[string][]state.Command
	down        bool
	failWrites  int
	writes      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		annotations: make(map[string]state.Annotation),
		commands:    make(map[string][]state.Command),
	}
}

// SetDown makes every call, Ping included, fail with ErrUnavailable.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailWrites makes the next n annotation writes fail while Ping still works.
func (m *MemoryStore) FailWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

// Writes counts successful annotation writes.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) writeLocked(a state.Annotation) error {
	if m.down {
		return ErrUnavailable
	}
	if m.failWrites > 0 {
		m.failWrites--
		return fmt.Errorf("write %s: %w", a.ID, ErrUnavailable)
	}
	a.Path = a.Path.Clone()
	m.annotations[a.ID] = a
	m.writes++
	return nil
}

func (m *MemoryStore) Create(_ context.Context, a state.Annotation) (state.Annotation, error) {
	if a.ID == "" {
		return state.Annotation{}, errors.New("annotation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeLocked(a); err != nil {
		return state.Annotation{}, err
	}
	return a, nil
}

func (m *MemoryStore) BulkCreate(_ context.Context, as []state.Annotation) ([]state.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]state.Annotation, 0, len(as))
	var errs []error
	for _, a := range as {
		if err := m.writeLocked(a); err != nil {
			errs = append(errs, err)
			continue
		}
		saved = append(saved, a)
	}
	return saved, errors.Join(errs...)
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	if _, ok := m.annotations[id]; !ok {
		return ErrNotFound
	}
	delete(m.annotations, id)
	return nil
}

func (m *MemoryStore) Get(id string) (state.Annotation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.annotations[id]
	return a, ok
}

func (m *MemoryStore) ListByItem(_ context.Context, itemID string) ([]state.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	var out []state.Annotation
	for _, a := range m.annotations {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	sortAnnotations(out)
	return out, nil
}

func (m *MemoryStore) CreateCommand(_ context.Context, c state.Command) (state.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return state.Command{}, ErrUnavailable
	}
	m.commands[c.ItemID] = append(m.commands[c.ItemID], c)
	return c, nil
}

func (m *MemoryStore) ListCommands(_ context.Context, itemID string, limit int) ([]state.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	all := m.commands[itemID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]state.Command, len(all))
	copy(out, all)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortAnnotations(as []state.Annotation) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].ID < as[j].ID
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}
