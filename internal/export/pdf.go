// Package export writes an item's visible annotation layers to PDF.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/jung-kurt/gofpdf"

	"ScoreBoard/internal/render"
	"ScoreBoard/internal/state"
)

const (
	pageWidth    = 210.0 // A4 portrait, mm
	pageHeight   = 297.0
	margin       = 10.0
	legendLine   = 5.0
	highlighterA = 0.35
)

// Options selects what is exported.
type Options struct {
	Title    string
	Viewport state.Rect      // item area mapped onto the page; derived from the strokes when empty
	Hidden   map[string]bool // author ids left out of the export
}

type legendEntry struct {
	AuthorID string
	Label    string
	Color    string
	Count    int
}

// layerLegend lists one entry per visible author, ordered by first stroke.
func layerLegend(annotations []state.Annotation, hidden map[string]bool) []legendEntry {
	index := make(map[string]int)
	var out []legendEntry
	for _, a := range annotations {
		if hidden[a.AuthorID] {
			continue
		}
		i, ok := index[a.AuthorID]
		if !ok {
			label := a.LayerLabel
			if label == "" {
				label = state.DefaultLayerLabel(a.AuthorDisplayName)
			}
			index[a.AuthorID] = len(out)
			out = append(out, legendEntry{AuthorID: a.AuthorID, Label: label, Color: a.Color})
			i = len(out) - 1
		}
		out[i].Count++
	}
	return out
}

func visibleBounds(annotations []state.Annotation, hidden map[string]bool) state.Rect {
	var r state.Rect
	for _, a := range annotations {
		if hidden[a.AuthorID] || a.Tool == state.ToolEraser {
			continue
		}
		if b, ok := a.Path.Bounds(render.StrokeOfAnnotation(a).Width()); ok {
			r = r.Union(b)
		}
	}
	return r
}

// WritePDF draws every visible annotation as line segments on one A4 page,
// followed by a legend line per author layer. Eraser strokes are skipped.
func WritePDF(w io.Writer, annotations []state.Annotation, opts Options) error {
	sorted := make([]state.Annotation, len(annotations))
	copy(sorted, annotations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	legend := layerLegend(sorted, opts.Hidden)
	vp := opts.Viewport
	if vp.Empty() {
		vp = visibleBounds(sorted, opts.Hidden)
	}

	p := gofpdf.New("P", "mm", "A4", "")
	if opts.Title != "" {
		p.SetTitle(opts.Title, true)
	}
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")
	p.AddPage()

	top := margin
	if opts.Title != "" {
		p.SetFont("Helvetica", "B", 12)
		p.SetXY(margin, margin)
		p.CellFormat(pageWidth-2*margin, 6, opts.Title, "", 1, "L", false, 0, "")
		top += 8
	}
	drawHeight := pageHeight - top - margin - legendLine*float64(len(legend)+1)

	scale := 1.0
	if !vp.Empty() {
		scale = min((pageWidth-2*margin)/float64(vp.Width), drawHeight/float64(vp.Height))
	}
	toPage := func(pt state.Point) (float64, float64) {
		return margin + float64(pt.X-vp.X)*scale, top + float64(pt.Y-vp.Y)*scale
	}

	for _, a := range sorted {
		if opts.Hidden[a.AuthorID] || a.Path == nil || len(a.Path.Points) == 0 {
			continue
		}
		st := render.StrokeOfAnnotation(a)
		c := render.ParseColor(a.Color)
		alpha := a.Opacity
		switch a.Tool {
		case state.ToolEraser:
			continue
		case state.ToolHighlighter:
			alpha *= highlighterA
		}
		if alpha <= 0 || alpha > 1 {
			alpha = 1
		}
		width := float64(st.Width()) * scale
		p.SetAlpha(alpha, "Normal")
		p.SetDrawColor(int(c.R), int(c.G), int(c.B))
		p.SetFillColor(int(c.R), int(c.G), int(c.B))
		p.SetLineWidth(width)

		pts := a.Path.Points
		if len(pts) == 1 {
			x, y := toPage(pts[0])
			p.Circle(x, y, width/2, "F")
			continue
		}
		for i := 1; i < len(pts); i++ {
			x1, y1 := toPage(pts[i-1])
			x2, y2 := toPage(pts[i])
			p.Line(x1, y1, x2, y2)
		}
	}

	p.SetAlpha(1, "Normal")
	p.SetFont("Helvetica", "", 9)
	y := pageHeight - margin - legendLine*float64(len(legend))
	for _, e := range legend {
		c := render.ParseColor(e.Color)
		p.SetFillColor(int(c.R), int(c.G), int(c.B))
		p.Rect(margin, y+1, 3, 3, "F")
		p.SetXY(margin+5, y)
		p.CellFormat(pageWidth-2*margin-5, legendLine, fmt.Sprintf("%s (%d)", e.Label, e.Count), "", 0, "L", false, 0, "")
		y += legendLine
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
