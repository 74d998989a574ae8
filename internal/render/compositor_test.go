package render

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/state"
)

type fixture struct {
	clock    *state.ManualClock
	layers   *state.LayerSet
	presence *state.PresenceStore
	vis      *state.Visibility
	comp     *Compositor
	seq      int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 100, 100
		cfg.Viewport = state.Rect{Width: 100, Height: 100}
	}
	f := &fixture{
		clock:  state.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		layers: state.NewLayerSet(),
		vis:    state.NewVisibility(),
	}
	f.presence = state.NewPresenceStore(f.clock, 0, 0)
	f.comp = NewCompositor(cfg, f.layers, f.presence, f.vis, f.clock, zerolog.Nop())
	return f
}

func (f *fixture) commit(author string, tool state.Tool, color string, width float32, pts ...state.Point) {
	f.seq++
	f.layers.Add(state.Annotation{
		ID:        fmt.Sprintf("a%d", f.seq),
		ItemID:    "hymn-12",
		AuthorID:  author,
		Tool:      tool,
		Color:     color,
		Opacity:   1,
		Path:      &state.Path{Points: pts, Width: width},
		CreatedAt: f.clock.Now(),
	})
	f.comp.MarkDirty(author)
}

func horizontal(y float32) []state.Point {
	return []state.Point{{X: 10, Y: y}, {X: 90, Y: y}}
}

func TestDirtySetHoldsExactlyTheActiveAuthors(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("idle", state.ToolPen, "black", 2, horizontal(5)...)
	f.comp.Frame()

	authors := []string{"ana", "ben", "cai", "dee", "eli"}
	for i, a := range authors {
		f.commit(a, state.ToolPen, "#00ff00", 2, horizontal(float32(20+10*i))...)
	}
	assert.Equal(t, authors, f.comp.Dirty())

	stats := f.comp.Frame()
	assert.Equal(t, authors, stats.Redrawn)
	assert.Equal(t, 5, stats.Drawn)
	assert.Empty(t, f.comp.Dirty())

	stats = f.comp.Frame()
	assert.Empty(t, stats.Redrawn, "nothing new, nothing redrawn")
}

func TestHiddenAuthorAccumulatesDirtWithoutRedraw(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("ana", state.ToolPen, "#ff0000", 4, horizontal(50)...)
	f.comp.Frame()
	px := f.comp.At(50, 50)
	assert.Equal(t, uint8(255), px.R)
	assert.Equal(t, uint8(0), px.G)

	require.True(t, f.comp.SetVisible("ana", false))
	f.commit("ana", state.ToolPen, "#ff0000", 4, horizontal(70)...)
	stats := f.comp.Frame()
	assert.Empty(t, stats.Redrawn)
	assert.Equal(t, 0, stats.Composited)
	assert.Equal(t, []string{"ana"}, f.comp.Dirty())
	assert.Equal(t, uint8(255), f.comp.At(50, 50).G, "hidden layer is not composited")

	require.True(t, f.comp.SetVisible("ana", true))
	stats = f.comp.Frame()
	assert.Equal(t, []string{"ana"}, stats.Redrawn)
	assert.Equal(t, 2, stats.Drawn)
	assert.Equal(t, uint8(0), f.comp.At(50, 70).G)
}

func TestCullingSkipsOffscreenStrokes(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("ana", state.ToolPen, "black", 2, horizontal(50)...)
	f.commit("ana", state.ToolPen, "black", 2, state.Point{X: 300, Y: 300}, state.Point{X: 400, Y: 320})
	stats := f.comp.Frame()
	assert.Equal(t, 1, stats.Drawn)
	assert.Equal(t, 1, stats.Culled)
	assert.Equal(t, int64(1), f.comp.TotalCulled())

	f.comp.SetViewport(state.Rect{X: 300, Y: 250, Width: 100, Height: 100})
	stats = f.comp.Frame()
	assert.Equal(t, []string{"ana"}, stats.Redrawn)
	assert.Equal(t, 1, stats.Drawn)
	assert.Equal(t, 1, stats.Culled)
}

func TestEraserCutsPixels(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("ana", state.ToolPen, "#ff0000", 4, horizontal(50)...)
	f.commit("ana", state.ToolEraser, "", 10, state.Point{X: 50, Y: 10}, state.Point{X: 50, Y: 90})
	f.comp.Frame()

	erased := f.comp.At(50, 50)
	assert.Equal(t, uint8(255), erased.G, "erased pixel shows the white canvas")
	kept := f.comp.At(20, 50)
	assert.Equal(t, uint8(255), kept.R)
	assert.Equal(t, uint8(0), kept.G)
}

func TestHighlighterIsTranslucent(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("ana", state.ToolHighlighter, "#ff0000", 0, horizontal(50)...)
	f.comp.Frame()
	px := f.comp.At(50, 50)
	assert.Equal(t, uint8(255), px.R)
	assert.Greater(t, px.G, uint8(120))
	assert.Less(t, px.G, uint8(220))
}

func TestInProgressStrokeIsDrawn(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.StartStroke(state.InProgressStroke{AuthorID: "ben", Tool: state.ToolPen, Color: "#0000ff",
		CurrentPath: &state.Path{Points: horizontal(30), Width: 4}})
	f.comp.MarkDirty("ben")
	f.comp.Frame()
	assert.Equal(t, uint8(255), f.comp.At(50, 30).B)
	assert.Equal(t, uint8(0), f.comp.At(50, 30).R)

	f.presence.TakeStroke("ben")
	f.comp.MarkDirty("ben")
	f.comp.Frame()
	assert.Equal(t, uint8(255), f.comp.At(50, 30).R, "abandoned stroke disappears")
}

func TestExpiredCursorIsAbsent(t *testing.T) {
	f := newFixture(t, Config{})
	f.presence.MoveCursor(state.LiveCursor{AuthorID: "ana", X: 50, Y: 50, Color: "#ff0000"})
	stats := f.comp.Frame()
	assert.Equal(t, 1, stats.Cursors)
	assert.Equal(t, uint8(0), f.comp.At(50, 50).G)

	f.clock.Advance(5 * time.Second)
	stats = f.comp.Frame()
	assert.Equal(t, 0, stats.Cursors)
	assert.Equal(t, uint8(255), f.comp.At(50, 50).G, "cursor is not frozen at its last position")
}

func TestIdleHiddenSurfacesAreEvicted(t *testing.T) {
	f := newFixture(t, Config{})
	f.commit("ana", state.ToolPen, "black", 2, horizontal(20)...)
	f.commit("ben", state.ToolPen, "black", 2, horizontal(40)...)
	f.comp.Frame()
	require.Equal(t, []string{"ana", "ben"}, f.comp.Surfaces())

	f.comp.SetVisible("ben", false)
	f.clock.Advance(30 * time.Second)
	assert.Empty(t, f.comp.Frame().Evicted, "hidden but not idle long enough")

	f.clock.Advance(31 * time.Second)
	stats := f.comp.Frame()
	assert.Equal(t, []string{"ben"}, stats.Evicted)
	assert.Equal(t, []string{"ana"}, f.comp.Surfaces(), "visible surfaces are never freed")
	assert.Equal(t, int64(100*100*4), stats.MemoryBytes)

	f.comp.SetVisible("ben", true)
	stats = f.comp.Frame()
	assert.Equal(t, []string{"ben"}, stats.Redrawn)
}

func TestMemoryBudgetEvictsHiddenSurfaces(t *testing.T) {
	f := newFixture(t, Config{Width: 100, Height: 100, Viewport: state.Rect{Width: 100, Height: 100}, MemoryBudget: 100 * 100 * 4})
	for _, a := range []string{"ana", "ben", "cai"} {
		f.commit(a, state.ToolPen, "black", 2, horizontal(50)...)
	}
	f.comp.Frame()
	f.comp.SetVisible("ben", false)
	f.comp.SetVisible("cai", false)

	evicted := f.comp.Evict()
	assert.Equal(t, []string{"ben", "cai"}, evicted)
	assert.Equal(t, int64(100*100*4), f.comp.MemoryBytes())
}

func TestParseColor(t *testing.T) {
	assert.Equal(t, uint8(255), ParseColor("#ff0000").R)
	assert.Equal(t, uint8(0x80), ParseColor("#00000080").A)
	assert.Equal(t, uint8(0xbb), ParseColor("#abc").G)
	assert.Equal(t, uint8(255), ParseColor("blue").B)
	assert.Equal(t, uint8(0), ParseColor("nonsense").R)
}
