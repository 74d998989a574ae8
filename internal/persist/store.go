// Package persist holds the durable side of the engine: the collaborator
// stores annotations and commands are written to, and the Bridge that keeps
// unsaved annotations queued until a store accepts them.
package persist

import (
	"context"
	"errors"

	"ScoreBoard/internal/state"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a network or storage failure. The bridge retries
	// every write error, this one included.
	ErrUnavailable = errors.New("store unavailable")
)

// Annotations is the persistence API consumed by the bridge. Create is
// idempotent per annotation id so a retried write never doubles a record.
// BulkCreate returns the records it saved even when it also returns an error.
type Annotations interface {
	Create(ctx context.Context, a state.Annotation) (state.Annotation, error)
	BulkCreate(ctx context.Context, as []state.Annotation) ([]state.Annotation, error)
	Delete(ctx context.Context, id string) error
	ListByItem(ctx context.Context, itemID string) ([]state.Annotation, error)
}

type Commands interface {
	CreateCommand(ctx context.Context, c state.Command) (state.Command, error)
	ListCommands(ctx context.Context, itemID string, limit int) ([]state.Command, error)
}

// Store is implemented by every driver (memory, redis, sqlite, postgres, http).
type Store interface {
	Annotations
	Commands
	Ping(ctx context.Context) error
	Close() error
}
