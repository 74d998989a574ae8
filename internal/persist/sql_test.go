package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/state"
)

func newTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	s, err := NewSQLStore(context.Background(), db, DialectSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteAnnotationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	a := state.Annotation{
		ID: "a1", ItemID: "hymn-12", AuthorID: "ana", AuthorDisplayName: "Ana",
		LayerLabel: "Ana's annotation", Color: "#ff0000", Tool: state.ToolHighlighter, Opacity: 0.5,
		Path:      &state.Path{Points: []state.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, Width: 3},
		CreatedAt: base,
	}
	_, err := s.Create(ctx, a)
	require.NoError(t, err)
	_, err = s.Create(ctx, a)
	require.NoError(t, err, "rewriting the same id is accepted")

	saved, err := s.BulkCreate(ctx, []state.Annotation{
		{ID: "a2", ItemID: "hymn-12", AuthorID: "ben", Tool: state.ToolPen, Opacity: 1, Path: &state.Path{}, CreatedAt: base.Add(time.Second)},
		{ID: "b1", ItemID: "other", AuthorID: "ben", Tool: state.ToolPen, Opacity: 1, Path: &state.Path{}, CreatedAt: base},
	})
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	list, err := s.ListByItem(ctx, "hymn-12")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, state.ToolHighlighter, list[0].Tool)
	assert.Equal(t, 0.5, list[0].Opacity)
	assert.Equal(t, base, list[0].CreatedAt)
	require.NotNil(t, list[0].Path)
	assert.Equal(t, []state.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, list[0].Path.Points)

	require.NoError(t, s.Delete(ctx, "a1"))
	assert.ErrorIs(t, s.Delete(ctx, "a1"), ErrNotFound)
	list, err = s.ListByItem(ctx, "hymn-12")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteCommandsKeepNewest(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, msg := range []string{"intro", "verse", "chorus"} {
		_, err := s.CreateCommand(ctx, state.Command{
			ID: msg, ItemID: "svc", SenderID: "lead", Message: msg, CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	got, err := s.ListCommands(ctx, "svc", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "verse", got[0].Message)
	assert.Equal(t, "chorus", got[1].Message)
}

func TestRebindForPostgres(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "DELETE FROM annotations WHERE id = $1", s.rebind(deleteAnnotationSQL))
	s.dialect = DialectSQLite
	assert.Equal(t, deleteAnnotationSQL, s.rebind(deleteAnnotationSQL))
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "annotation:abc", annotationKey("abc"))
	assert.Equal(t, "item:hymn-12:annotations", itemAnnotationsKey("hymn-12"))
	assert.Equal(t, "event:svc:commands", itemCommandsKey("svc"))
}
