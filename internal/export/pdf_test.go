package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/state"
)

func sample() []state.Annotation {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []state.Annotation{
		{ID: "1", AuthorID: "ana", AuthorDisplayName: "Ana", LayerLabel: "Ana's annotation", Tool: state.ToolPen,
			Color: "#ff0000", Opacity: 1, CreatedAt: base,
			Path: &state.Path{Points: []state.Point{{X: 0, Y: 0}, {X: 100, Y: 50}}, Width: 2}},
		{ID: "2", AuthorID: "ben", AuthorDisplayName: "Ben", Tool: state.ToolHighlighter,
			Color: "yellow", Opacity: 1, CreatedAt: base.Add(time.Second),
			Path: &state.Path{Points: []state.Point{{X: 10, Y: 10}, {X: 60, Y: 10}}}},
		{ID: "3", AuthorID: "ana", AuthorDisplayName: "Ana", LayerLabel: "Ana's annotation", Tool: state.ToolEraser,
			Opacity: 1, CreatedAt: base.Add(2 * time.Second),
			Path: &state.Path{Points: []state.Point{{X: 50, Y: 25}}}},
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, sample(), Options{Title: "hymn-12"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWritePDFEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, nil, Options{}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestLegendSkipsHiddenLayers(t *testing.T) {
	legend := layerLegend(sample(), nil)
	require.Len(t, legend, 2)
	assert.Equal(t, "Ana's annotation", legend[0].Label)
	assert.Equal(t, 2, legend[0].Count)
	assert.Equal(t, "Ben's annotation", legend[1].Label)

	legend = layerLegend(sample(), map[string]bool{"ana": true})
	require.Len(t, legend, 1)
	assert.Equal(t, "ben", legend[0].AuthorID)
}

func TestVisibleBoundsIgnoresErasers(t *testing.T) {
	b := visibleBounds(sample(), map[string]bool{"ben": true})
	assert.Equal(t, float32(-1), b.X)
	assert.Equal(t, float32(102), b.Width)
}
