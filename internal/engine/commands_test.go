package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/state"
)

func TestCommandBoardFades(t *testing.T) {
	board := NewCommandBoard()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.True(t, board.Add(state.Command{ID: "c1", Message: "Bar 32", CreatedAt: t0}, t0))

	for _, tc := range []struct {
		after   time.Duration
		opacity float64
	}{
		{0, 1},
		{2999 * time.Millisecond, 1},
		{3250 * time.Millisecond, 0.5},
	} {
		vis := board.Visible(t0.Add(tc.after))
		require.Len(t, vis, 1, "after %s", tc.after)
		assert.InDelta(t, tc.opacity, vis[0].Opacity, 1e-9, "after %s", tc.after)
	}
	assert.Empty(t, board.Visible(t0.Add(CommandHold+CommandFade)))

	assert.Empty(t, board.Sweep(t0.Add(time.Second)))
	assert.Equal(t, []string{"c1"}, board.Sweep(t0.Add(4*time.Second)))
	assert.Equal(t, 0, board.Len())
}

func TestCommandBoardAddIsIdempotent(t *testing.T) {
	board := NewCommandBoard()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := state.Command{ID: "c1", Message: "Watch me", CreatedAt: t0}
	require.True(t, board.Add(c, t0))
	assert.False(t, board.Add(c, t0.Add(2*time.Second)), "a repeat does not restart the window")
	assert.Empty(t, board.Visible(t0.Add(4*time.Second)))
}

func TestCommandBoardOrdersByCreation(t *testing.T) {
	board := NewCommandBoard()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	board.Add(state.Command{ID: "late", CreatedAt: t0.Add(time.Second)}, t0)
	board.Add(state.Command{ID: "early", CreatedAt: t0}, t0)
	vis := board.Visible(t0)
	require.Len(t, vis, 2)
	assert.Equal(t, "early", vis[0].Command.ID)
	assert.Equal(t, "late", vis[1].Command.ID)
}
