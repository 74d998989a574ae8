package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"

	"ScoreBoard/internal/state"
)

const (
	DefaultPenWidth    float32 = 2
	HighlighterWidth   float32 = 18
	DefaultEraserWidth float32 = 20

	highlighterAlpha = 0.35
)

// Stroke is what a surface draws: a committed annotation or an in-progress
// stroke reduced to the fields that affect pixels.
type Stroke struct {
	Path    *state.Path
	Tool    state.Tool
	Color   string
	Opacity float64
}

func StrokeOfAnnotation(a state.Annotation) Stroke {
	return Stroke{Path: a.Path, Tool: a.Tool, Color: a.Color, Opacity: a.Opacity}
}

func StrokeOfInProgress(st state.InProgressStroke) Stroke {
	return Stroke{Path: st.CurrentPath, Tool: st.Tool, Color: st.Color, Opacity: 1}
}

// Width is the stroke width in item units after tool rules apply.
func (s Stroke) Width() float32 {
	switch s.Tool {
	case state.ToolHighlighter:
		return HighlighterWidth
	case state.ToolEraser:
		if s.Path != nil && s.Path.Width > 0 {
			return s.Path.Width
		}
		return DefaultEraserWidth
	default:
		if s.Path != nil && s.Path.Width > 0 {
			return s.Path.Width
		}
		return DefaultPenWidth
	}
}

// transform maps item coordinates into surface pixels.
type transform struct {
	originX, originY float32
	scale            float32
}

func newTransform(viewport state.Rect, width int) transform {
	scale := float32(1)
	if viewport.Width > 0 {
		scale = float32(width) / viewport.Width
	}
	return transform{originX: viewport.X, originY: viewport.Y, scale: scale}
}

func (t transform) point(p state.Point) fixed.Point26_6 {
	return rasterx.ToFixedP(float64((p.X-t.originX)*t.scale), float64((p.Y-t.originY)*t.scale))
}

// painter rasterizes strokes onto one RGBA surface. The eraser mask is kept
// between strokes to avoid reallocating it per eraser pass.
type painter struct {
	dst  *image.RGBA
	mask *image.Alpha
	tf   transform
}

// draw applies the blend rule for the stroke's tool. This is the only place
// tool semantics reach pixels.
func (p *painter) draw(s Stroke) {
	if s.Path == nil || len(s.Path.Points) == 0 {
		return
	}
	width := s.Width() * p.tf.scale
	switch s.Tool {
	case state.ToolHighlighter:
		c := withOpacity(ParseColor(s.Color), s.Opacity*highlighterAlpha)
		p.stroke(p.dst, s.Path, width, rasterx.ButtCap, c)
	case state.ToolEraser:
		b := p.dst.Bounds()
		if p.mask == nil || p.mask.Bounds() != b {
			p.mask = image.NewAlpha(b)
		} else {
			clear(p.mask.Pix)
		}
		p.stroke(p.mask, s.Path, width, rasterx.RoundCap, color.Opaque)
		// Cut: pixels under the mask become transparent instead of painted.
		draw.DrawMask(p.dst, b, image.Transparent, image.Point{}, p.mask, b.Min, draw.Src)
	default:
		c := withOpacity(ParseColor(s.Color), s.Opacity)
		p.stroke(p.dst, s.Path, width, rasterx.RoundCap, c)
	}
}

func (p *painter) stroke(dst draw.Image, path *state.Path, width float32, capFn rasterx.CapFunc, c color.Color) {
	b := dst.Bounds()
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), dst, b)
	if len(path.Points) == 1 {
		filler := rasterx.NewFiller(b.Dx(), b.Dy(), scanner)
		pt := path.Points[0]
		cx := float64((pt.X - p.tf.originX) * p.tf.scale)
		cy := float64((pt.Y - p.tf.originY) * p.tf.scale)
		rasterx.AddCircle(cx, cy, float64(width)/2, filler)
		filler.SetColor(c)
		filler.Draw()
		return
	}
	stroker := rasterx.NewStroker(b.Dx(), b.Dy(), scanner)
	stroker.SetStroke(fixed.Int26_6(width*64), fixed.Int26_6(4*64), capFn, capFn, rasterx.RoundGap, rasterx.Round)
	stroker.Start(p.tf.point(path.Points[0]))
	for _, pt := range path.Points[1:] {
		stroker.Line(p.tf.point(pt))
	}
	stroker.Stop(false)
	stroker.SetColor(c)
	stroker.Draw()
}
