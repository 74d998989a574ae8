// Package render composites every author's layer into the shared view.
// Each author owns one raster surface; only dirty surfaces of visible
// authors are redrawn on a frame, and hidden surfaces are skipped entirely.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"

	"ScoreBoard/internal/state"
)

const (
	DefaultIdleTTL      = 60 * time.Second
	DefaultMemoryBudget = 500 << 20

	cursorRadius = 4
)

// Config sizes the shared canvas and bounds surface memory.
type Config struct {
	Width, Height int        // canvas size in pixels
	Viewport      state.Rect // visible part of the item in item coordinates
	IdleTTL       time.Duration
	MemoryBudget  int64 // bytes across all surfaces
}

func (c *Config) withDefaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.Viewport.Empty() {
		c.Viewport = state.Rect{Width: float32(c.Width), Height: float32(c.Height)}
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.MemoryBudget <= 0 {
		c.MemoryBudget = DefaultMemoryBudget
	}
}

// FrameStats describes the work done by one Frame.
type FrameStats struct {
	Redrawn     []string      `json:"redrawn"`
	Composited  int           `json:"composited"`
	Drawn       int           `json:"drawn"`
	Culled      int           `json:"culled"`
	Cursors     int           `json:"cursors"`
	Evicted     []string      `json:"evicted,omitempty"`
	MemoryBytes int64         `json:"memoryBytes"`
	Duration    time.Duration `json:"duration"`
}

type surface struct {
	img        *image.RGBA
	lastActive time.Time
}

// Compositor owns the per-author surfaces and the composited canvas.
// MarkDirty may be called from any goroutine; Frame is meant to run on a
// single render tick.
type Compositor struct {
	layers   *state.LayerSet
	presence *state.PresenceStore
	vis      *state.Visibility
	clock    state.Clock
	log      zerolog.Logger

	frameMu sync.Mutex // serializes Frame, Snapshot and Evict
	painter painter
	canvas  *image.RGBA

	mu           sync.Mutex
	cfg          Config
	surfaces     map[string]*surface
	dirty        map[string]struct{}
	activity     map[string]time.Time
	background   image.Image
	recomposite  bool
	lastCursors  int
	totalCulled  int64
	totalRedrawn int64
}

func NewCompositor(cfg Config, layers *state.LayerSet, presence *state.PresenceStore, vis *state.Visibility, clock state.Clock, log zerolog.Logger) *Compositor {
	cfg.withDefaults()
	if clock == nil {
		clock = state.SystemClock()
	}
	return &Compositor{
		layers:      layers,
		presence:    presence,
		vis:         vis,
		clock:       clock,
		log:         log.With().Str("component", "compositor").Logger(),
		canvas:      image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		cfg:         cfg,
		surfaces:    make(map[string]*surface),
		dirty:       make(map[string]struct{}),
		activity:    make(map[string]time.Time),
		recomposite: true,
	}
}

// MarkDirty records that the author's committed or in-progress data changed.
func (c *Compositor) MarkDirty(authorIDs ...string) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range authorIDs {
		c.dirty[id] = struct{}{}
		c.activity[id] = now
	}
}

// Dirty returns the authors waiting for a redraw, sorted. Hidden authors stay
// here until they are shown again.
func (c *Compositor) Dirty() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.dirty)
}

// SetVisible toggles an author's layer. Showing an author whose surface was
// freed schedules a redraw.
func (c *Compositor) SetVisible(authorID string, visible bool) bool {
	if !c.vis.Set(authorID, visible) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomposite = true
	if visible {
		if _, ok := c.surfaces[authorID]; !ok {
			c.dirty[authorID] = struct{}{}
		}
	}
	return true
}

// SetViewport moves the visible area. Every surface is stale afterwards.
func (c *Compositor) SetViewport(vp state.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vp.Empty() || vp == c.cfg.Viewport {
		return
	}
	c.cfg.Viewport = vp
	for id := range c.surfaces {
		c.dirty[id] = struct{}{}
	}
	for _, id := range c.layers.Authors() {
		c.dirty[id] = struct{}{}
	}
	c.recomposite = true
}

func (c *Compositor) Viewport() state.Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Viewport
}

// SetBackground sets the shared item image. It is scaled so the viewport
// fills the canvas.
func (c *Compositor) SetBackground(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.background = img
	c.recomposite = true
}

// Forget drops an author's surface and pending dirt, used when the author
// has no data left to show.
func (c *Compositor) Forget(authorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.surfaces, authorID)
	delete(c.dirty, authorID)
	delete(c.activity, authorID)
	c.recomposite = true
}

// Frame redraws dirty visible surfaces, composites every visible surface
// onto the canvas, draws live cursors and frees idle hidden surfaces.
func (c *Compositor) Frame() FrameStats {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	start := c.clock.Now()

	c.mu.Lock()
	vp := c.cfg.Viewport
	width, height := c.cfg.Width, c.cfg.Height
	var redraw []string
	for id := range c.dirty {
		if c.vis.Visible(id) {
			redraw = append(redraw, id)
			delete(c.dirty, id)
		}
	}
	sort.Strings(redraw)
	targets := make([]*surface, len(redraw))
	for i, id := range redraw {
		s, ok := c.surfaces[id]
		if !ok {
			s = &surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
			c.surfaces[id] = s
		}
		s.lastActive = start
		targets[i] = s
	}
	recomposite := c.recomposite || len(redraw) > 0
	c.recomposite = false
	bg := c.background
	c.mu.Unlock()

	stats := FrameStats{Redrawn: redraw}
	c.painter.tf = newTransform(vp, width)
	for i, id := range redraw {
		drawn, culled := c.redraw(targets[i], id, vp)
		stats.Drawn += drawn
		stats.Culled += culled
	}

	cursors := c.presence.Cursors()
	visibleCursors := cursors[:0]
	for _, cur := range cursors {
		if c.vis.Visible(cur.AuthorID) {
			visibleCursors = append(visibleCursors, cur)
		}
	}
	stats.Cursors = len(visibleCursors)

	c.mu.Lock()
	if len(visibleCursors) > 0 || c.lastCursors > 0 {
		recomposite = true
	}
	c.lastCursors = len(visibleCursors)
	if recomposite {
		stats.Composited = c.compositeLocked(bg, vp)
	}
	c.drawCursors(visibleCursors)
	stats.Evicted = c.evictLocked(start)
	stats.MemoryBytes = c.memoryLocked()
	c.totalCulled += int64(stats.Culled)
	c.totalRedrawn += int64(len(redraw))
	c.mu.Unlock()

	stats.Duration = c.clock.Now().Sub(start)
	if len(redraw) > 0 {
		c.log.Debug().Strs("redrawn", redraw).Int("culled", stats.Culled).Dur("took", stats.Duration).Msg("frame")
	}
	return stats
}

// redraw clears one surface and draws the author's committed annotations
// followed by the in-progress stroke, skipping anything outside vp.
func (c *Compositor) redraw(s *surface, authorID string, vp state.Rect) (drawn, culled int) {
	clear(s.img.Pix)
	c.painter.dst = s.img
	paint := func(st Stroke) {
		box, ok := st.Path.Bounds(st.Width())
		if !ok {
			return
		}
		if !box.Overlaps(vp) {
			culled++
			return
		}
		c.painter.draw(st)
		drawn++
	}
	for _, a := range c.layers.Layer(authorID) {
		paint(StrokeOfAnnotation(a))
	}
	if st, ok := c.presence.Stroke(authorID); ok {
		paint(StrokeOfInProgress(st))
	}
	return drawn, culled
}

func (c *Compositor) compositeLocked(bg image.Image, vp state.Rect) int {
	bounds := c.canvas.Bounds()
	draw.Draw(c.canvas, bounds, image.White, image.Point{}, draw.Src)
	if bg != nil {
		src := image.Rect(int(vp.X), int(vp.Y), int(vp.X+vp.Width), int(vp.Y+vp.Height)).Intersect(bg.Bounds())
		if !src.Empty() {
			xdraw.ApproxBiLinear.Scale(c.canvas, bounds, bg, src, draw.Src, nil)
		}
	}
	n := 0
	for _, id := range sortedKeys(c.surfaces) {
		if !c.vis.Visible(id) {
			continue
		}
		draw.Draw(c.canvas, bounds, c.surfaces[id].img, image.Point{}, draw.Over)
		n++
	}
	return n
}

func (c *Compositor) drawCursors(cursors []state.LiveCursor) {
	if len(cursors) == 0 {
		return
	}
	b := c.canvas.Bounds()
	tf := c.painter.tf
	scanner := rasterx.NewScannerGV(b.Dx(), b.Dy(), c.canvas, b)
	filler := rasterx.NewFiller(b.Dx(), b.Dy(), scanner)
	for _, cur := range cursors {
		x := float64((cur.X - tf.originX) * tf.scale)
		y := float64((cur.Y - tf.originY) * tf.scale)
		if x < 0 || y < 0 || x > float64(b.Dx()) || y > float64(b.Dy()) {
			continue
		}
		filler.Clear()
		rasterx.AddCircle(x, y, cursorRadius, filler)
		filler.SetColor(ParseColor(cur.Color))
		filler.Draw()
	}
}

// Evict frees surfaces of hidden authors idle past IdleTTL, then keeps
// freeing the least recently active hidden surfaces while over budget.
func (c *Compositor) Evict() []string {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(now)
}

func (c *Compositor) evictLocked(now time.Time) []string {
	var evicted []string
	var hidden []string
	for id := range c.surfaces {
		if c.vis.Visible(id) {
			continue
		}
		if now.Sub(c.lastActiveLocked(id)) > c.cfg.IdleTTL {
			delete(c.surfaces, id)
			evicted = append(evicted, id)
			continue
		}
		hidden = append(hidden, id)
	}
	if c.memoryLocked() > c.cfg.MemoryBudget {
		sort.Slice(hidden, func(i, j int) bool {
			return c.lastActiveLocked(hidden[i]).Before(c.lastActiveLocked(hidden[j]))
		})
		for _, id := range hidden {
			if c.memoryLocked() <= c.cfg.MemoryBudget {
				break
			}
			delete(c.surfaces, id)
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		// Hidden authors keep their dirt; a freed surface is rebuilt on show.
		c.dirty[id] = struct{}{}
	}
	if len(evicted) > 0 {
		sort.Strings(evicted)
		c.log.Debug().Strs("authors", evicted).Msg("evicted idle surfaces")
	}
	return evicted
}

func (c *Compositor) lastActiveLocked(id string) time.Time {
	t := c.activity[id]
	if s, ok := c.surfaces[id]; ok && s.lastActive.After(t) {
		t = s.lastActive
	}
	return t
}

func (c *Compositor) memoryLocked() int64 {
	var n int64
	for _, s := range c.surfaces {
		n += int64(len(s.img.Pix))
	}
	return n
}

// MemoryBytes is the footprint of all surfaces.
func (c *Compositor) MemoryBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memoryLocked()
}

// Surfaces returns the authors that currently hold a surface.
func (c *Compositor) Surfaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.surfaces)
}

// TotalCulled is the number of elements skipped by culling since creation.
func (c *Compositor) TotalCulled() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCulled
}

// Snapshot copies the composited canvas.
func (c *Compositor) Snapshot() *image.RGBA {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.canvas.Bounds())
	copy(out.Pix, c.canvas.Pix)
	return out
}

// At reads one canvas pixel.
func (c *Compositor) At(x, y int) color.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canvas.RGBAAt(x, y)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
