// Package client is the participant runtime. It keeps one connection to a
// room alive, folds what the room sends into a local replica and renders
// the replica on a fixed cadence.
package client

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ScoreBoard/internal/engine"
	"ScoreBoard/internal/net"
	"ScoreBoard/internal/perf"
	"ScoreBoard/internal/protocol"
	"ScoreBoard/internal/render"
	"ScoreBoard/internal/state"
)

var (
	ErrNotDrawing        = errors.New("no stroke in progress")
	ErrUnknownAnnotation = errors.New("unknown annotation")
	ErrNotAuthor         = errors.New("annotation belongs to another participant")
)

// localPrefix marks ids of annotations the room has not acknowledged yet.
const localPrefix = "local-"

// Conn is the transport the client drives. *net.Session satisfies it.
type Conn interface {
	Run(ctx context.Context, handle func(data []byte)) error
	Send(data []byte) error
	Close() error
}

// DialFunc opens a transport to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials the room over a gorilla websocket session.
func WebsocketDialer(log zerolog.Logger) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		ws, err := net.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return net.NewSession(uuid.NewString(), ws, log), nil
	}
}

type Config struct {
	URL         string // ws://host:port/ws
	ItemID      string
	Participant state.Participant

	Width, Height int
	Viewport      state.Rect
	FrameInterval time.Duration
	SweepInterval time.Duration
	CursorTTL     time.Duration
	StrokeTTL     time.Duration
	IdleTTL       time.Duration
	MemoryBudget  int64
	Reconnect     net.ReconnectConfig
	Thresholds    perf.Thresholds

	Dial DialFunc
}

// Status is the connection summary shown to the participant.
type Status struct {
	State        string `json:"state"`
	Message      string `json:"message"`
	Attempts     int    `json:"attempts"`
	Outbox       int    `json:"outbox"`
	Unacked      int    `json:"unacked"`
	Participants int    `json:"participants"`
	LastError    string `json:"lastError,omitempty"`
}

// Client is one participant's session with a room. Everything it owns lives
// and dies with it.
type Client struct {
	cfg   Config
	self  state.Participant
	clock state.Scheduler
	log   zerolog.Logger

	presence   *state.PresenceStore
	layers     *state.LayerSet
	vis        *state.Visibility
	board      *engine.CommandBoard
	replica    *engine.Replica
	compositor *render.Compositor
	governor   *perf.Governor
	reconnect  *net.Reconnector

	mu          sync.Mutex
	ctx         context.Context
	conn        Conn
	drawing     *state.InProgressStroke
	outbox      []protocol.Envelope
	unacked     map[string]protocol.Envelope // local id -> complete sent but not echoed
	deleteOnAck map[string]bool

	// OnCommand fires for every new command broadcast.
	OnCommand func(state.Command)
	// OnStatus fires after every connection state change.
	OnStatus func(Status)
}

func New(cfg Config, clock state.Scheduler, log zerolog.Logger) *Client {
	if clock == nil {
		clock = state.SystemClock()
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 16 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 || cfg.SweepInterval > time.Second {
		cfg.SweepInterval = time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = WebsocketDialer(log)
	}
	self := cfg.Participant
	if self.ID == "" {
		self.ID = uuid.NewString()
	}
	log = log.With().Str("component", "client").Str("participant", self.ID).Str("item_id", cfg.ItemID).Logger()

	c := &Client{
		cfg:         cfg,
		self:        self,
		clock:       clock,
		log:         log,
		presence:    state.NewPresenceStore(clock, cfg.CursorTTL, cfg.StrokeTTL),
		layers:      state.NewLayerSet(),
		vis:         state.NewVisibility(),
		board:       engine.NewCommandBoard(),
		unacked:     make(map[string]protocol.Envelope),
		deleteOnAck: make(map[string]bool),
	}
	c.replica = engine.NewReplica(self.ID, cfg.ItemID, c.presence, c.layers, c.board, clock, log)
	c.compositor = render.NewCompositor(render.Config{
		Width:        cfg.Width,
		Height:       cfg.Height,
		Viewport:     cfg.Viewport,
		IdleTTL:      cfg.IdleTTL,
		MemoryBudget: cfg.MemoryBudget,
	}, c.layers, c.presence, c.vis, clock, log)
	c.governor = perf.NewGovernor(clock, cfg.Thresholds, 0, log)
	c.reconnect = net.NewReconnector(cfg.Reconnect, clock, c.attempt)
	c.reconnect.OnChange = c.stateChanged
	return c
}

// Self is the identity the client joins with.
func (c *Client) Self() state.Participant { return c.self }

// Run connects and drives the render and sweep ticks until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	c.Start(ctx)
	defer c.Stop()

	frames := time.NewTicker(c.cfg.FrameInterval)
	defer frames.Stop()
	sweeps := time.NewTicker(c.cfg.SweepInterval)
	defer sweeps.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-frames.C:
			c.Tick()
		case <-sweeps.C:
			c.Sweep()
		}
	}
}

// Start begins connecting without running the tickers.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.reconnect.Start()
}

// Stop cancels pending retries and closes the connection.
func (c *Client) Stop() {
	c.reconnect.Stop()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Retry restarts connection attempts after they were exhausted.
func (c *Client) Retry() { c.reconnect.Retry() }

func (c *Client) attempt() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	go c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) {
	conn, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.log.Debug().Err(err).Msg("dial failed")
		c.reconnect.AttemptFailed(err)
		return
	}
	join := protocol.NewJoin(c.clock.Now(), c.self, c.cfg.ItemID)
	if err := c.sendOn(conn, join); err != nil {
		_ = conn.Close()
		c.reconnect.AttemptFailed(err)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.reconnect.Connected()
	c.flushOutbox()

	err = conn.Run(ctx, c.receive)
	c.dropped(conn)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = net.ErrClosed
	}
	c.log.Info().Err(err).Msg("connection lost")
	c.reconnect.Dropped(err)
}

// dropped forgets the connection and puts unacknowledged completes back in
// the outbox. The room may already hold them; a replay commits a new record.
// Completes deleted locally are not replayed: the next sync shows whether
// the room committed them, and deletes them by durable id if it did.
func (c *Client) dropped(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	var requeue []protocol.Envelope
	for _, a := range c.layers.Layer(c.self.ID) {
		if env, ok := c.unacked[a.ID]; ok {
			requeue = append(requeue, env)
		}
	}
	c.unacked = make(map[string]protocol.Envelope)
	c.outbox = append(requeue, c.outbox...)
	c.mu.Unlock()
	c.replica.Forget()
}

func (c *Client) flushOutbox() {
	c.mu.Lock()
	conn := c.conn
	queued := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	if conn == nil || len(queued) == 0 {
		return
	}
	for i, env := range queued {
		if err := c.deliver(conn, env); err != nil {
			c.mu.Lock()
			c.outbox = append(queued[i:], c.outbox...)
			c.mu.Unlock()
			c.log.Warn().Err(err).Int("left", len(queued)-i).Msg("outbox replay interrupted")
			return
		}
	}
	c.log.Info().Int("replayed", len(queued)).Msg("outbox replayed")
}

func (c *Client) sendOn(conn Conn, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// deliver sends env on conn. A complete is tracked as unacknowledged before
// it leaves, since the echo can arrive before Send returns.
func (c *Client) deliver(conn Conn, env protocol.Envelope) error {
	tracked := env.Type == protocol.TypeAnnotationComplete && env.ClientRef != ""
	if tracked {
		c.mu.Lock()
		c.unacked[env.ClientRef] = env
		c.mu.Unlock()
	}
	err := c.sendOn(conn, env)
	if err != nil && tracked {
		c.mu.Lock()
		delete(c.unacked, env.ClientRef)
		c.mu.Unlock()
	}
	return err
}

// send delivers env when connected. Envelopes that must survive an outage
// are queued otherwise; the rest are dropped.
func (c *Client) send(env protocol.Envelope, durable bool) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		if durable {
			c.outbox = append(c.outbox, env)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.deliver(conn, env); err != nil {
		c.log.Debug().Err(err).Str("type", string(env.Type)).Msg("send failed")
		if durable {
			c.mu.Lock()
			c.outbox = append(c.outbox, env)
			c.mu.Unlock()
		}
	}
}

func (c *Client) receive(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("undecodable envelope")
		return
	}
	switch {
	case env.Type == protocol.TypeAnnotationComplete && env.SenderID == c.self.ID:
		c.acknowledge(env)
		return
	case env.Type == protocol.TypeSyncResponse:
		c.sync(env)
		return
	}

	eff := c.replica.Apply(env)
	if eff.Ignored {
		return
	}
	if len(eff.Dirty) > 0 {
		c.governor.InputReceived()
		c.compositor.MarkDirty(eff.Dirty...)
	}
	if eff.Command != nil {
		c.log.Info().Str("from", eff.Command.SenderDisplayName).Str("message", eff.Command.Message).Msg("command")
		if c.OnCommand != nil {
			c.OnCommand(*eff.Command)
		}
	}
}

// acknowledge swaps a provisional local annotation for its durable id.
func (c *Client) acknowledge(env protocol.Envelope) {
	ref := env.ClientRef
	c.mu.Lock()
	delete(c.unacked, ref)
	remove := c.deleteOnAck[ref]
	delete(c.deleteOnAck, ref)
	c.mu.Unlock()

	if remove {
		c.log.Debug().Str("annotation_id", env.AnnotationID).Msg("deleting annotation removed before ack")
		c.send(protocol.NewDelete(c.clock.Now(), c.self, c.cfg.ItemID, env.AnnotationID), true)
		return
	}
	if ref != "" && c.layers.Rekey(ref, env.AnnotationID) {
		return
	}
	// Another session of the same participant drew it.
	if c.layers.Add(protocol.AnnotationOf(env)) {
		c.compositor.MarkDirty(c.self.ID)
	}
}

// sync replaces local state with the room's. Provisional annotations and the
// stroke being drawn survive it.
func (c *Client) sync(env protocol.Envelope) {
	c.mu.Lock()
	drawing := c.drawing
	c.mu.Unlock()
	var keep []state.Annotation
	for _, a := range c.layers.Layer(c.self.ID) {
		if strings.HasPrefix(a.ID, localPrefix) {
			keep = append(keep, a)
		}
	}

	eff := c.replica.ApplySync(env, keep)
	if drawing != nil {
		c.presence.StartStroke(*drawing)
	}
	for _, id := range c.settleDeletes() {
		c.layers.Remove(id)
		c.send(protocol.NewDelete(c.clock.Now(), c.self, c.cfg.ItemID, id), true)
	}
	c.compositor.MarkDirty(eff.Dirty...)
	c.log.Info().Int("annotations", len(env.Annotations)).Int("in_progress", len(env.InProgress)).Msg("synced")
}

// settleDeletes resolves deletes waiting for an ack against the synced
// layer. It returns the durable ids of synced annotations the participant
// already deleted. A ref that is neither synced nor awaiting an ack was
// never committed and is forgotten.
func (c *Client) settleDeletes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deleteOnAck) == 0 {
		return nil
	}
	var ids []string
	for _, a := range c.layers.Layer(c.self.ID) {
		if a.ClientRef != "" && c.deleteOnAck[a.ClientRef] {
			ids = append(ids, a.ID)
			delete(c.deleteOnAck, a.ClientRef)
		}
	}
	for ref := range c.deleteOnAck {
		if _, waiting := c.unacked[ref]; !waiting {
			delete(c.deleteOnAck, ref)
		}
	}
	return ids
}

// StartStroke opens a local stroke.
func (c *Client) StartStroke(tool state.Tool, color, layerLabel string) {
	if layerLabel == "" {
		layerLabel = state.DefaultLayerLabel(c.self.DisplayName)
	}
	st := state.InProgressStroke{
		AuthorID:          c.self.ID,
		AuthorDisplayName: c.self.DisplayName,
		ItemID:            c.cfg.ItemID,
		Tool:              tool,
		Color:             color,
		LayerLabel:        layerLabel,
		CurrentPath:       &state.Path{},
	}
	c.presence.StartStroke(st)
	c.mu.Lock()
	c.drawing = &st
	c.mu.Unlock()
	c.touched()
	c.send(protocol.NewStart(c.clock.Now(), c.self, c.cfg.ItemID, tool, color, layerLabel), false)
}

// UpdateStroke replaces the local stroke's path with the latest snapshot.
func (c *Client) UpdateStroke(path *state.Path) error {
	c.mu.Lock()
	if c.drawing == nil {
		c.mu.Unlock()
		return ErrNotDrawing
	}
	c.drawing.CurrentPath = path.Clone()
	st := *c.drawing
	c.mu.Unlock()

	c.presence.UpdateStroke(st)
	c.touched()
	c.send(protocol.NewUpdate(c.clock.Now(), c.self, c.cfg.ItemID, st.Tool, st.Color, st.CurrentPath), false)
	return nil
}

// CompleteStroke commits the local stroke. The returned annotation carries a
// provisional id until the room acknowledges it.
func (c *Client) CompleteStroke(opacity float64) (state.Annotation, error) {
	c.mu.Lock()
	st := c.drawing
	c.drawing = nil
	c.mu.Unlock()
	if st == nil {
		return state.Annotation{}, ErrNotDrawing
	}
	c.presence.TakeStroke(c.self.ID)

	a := state.Annotation{
		ID:                localPrefix + uuid.NewString(),
		ItemID:            c.cfg.ItemID,
		AuthorID:          c.self.ID,
		AuthorDisplayName: c.self.DisplayName,
		LayerLabel:        st.LayerLabel,
		Path:              st.CurrentPath.Clone(),
		Color:             st.Color,
		Tool:              st.Tool,
		Opacity:           opacity,
		CreatedAt:         c.clock.Now(),
	}
	if a.Path == nil {
		a.Path = &state.Path{}
	}
	a.Normalize()
	c.layers.Add(a)
	c.touched()

	env := protocol.NewComplete(a.CreatedAt, c.self, c.cfg.ItemID, a.Tool, a.Color, a.LayerLabel, a.Opacity, a.Path)
	env.ClientRef = a.ID
	c.send(env, true)
	return a, nil
}

// AbandonStroke discards the local stroke without committing it. Other
// participants drop it once it goes idle.
func (c *Client) AbandonStroke() {
	c.mu.Lock()
	c.drawing = nil
	c.mu.Unlock()
	if _, ok := c.presence.TakeStroke(c.self.ID); ok {
		c.touched()
	}
}

func (c *Client) MoveCursor(x, y float32, drawing bool, tool state.Tool, color string) {
	c.send(protocol.NewCursorMove(c.clock.Now(), c.self, c.cfg.ItemID, x, y, drawing, tool, color), false)
}

// SendCommand broadcasts a directive. It shows on the local board at once;
// the room's echo is dropped like every other own envelope.
func (c *Client) SendCommand(message string) {
	now := c.clock.Now()
	c.board.Add(state.Command{
		ID:                localPrefix + uuid.NewString(),
		ItemID:            c.cfg.ItemID,
		SenderID:          c.self.ID,
		SenderDisplayName: c.self.DisplayName,
		Message:           message,
		CreatedAt:         now,
	}, now)
	c.send(protocol.NewCommandSend(now, c.self, c.cfg.ItemID, message), true)
}

// DeleteAnnotation removes one of the participant's own annotations.
func (c *Client) DeleteAnnotation(id string) error {
	a, ok := c.layers.Get(id)
	if !ok {
		return ErrUnknownAnnotation
	}
	if a.AuthorID != c.self.ID {
		return ErrNotAuthor
	}
	c.layers.Remove(id)
	c.touched()

	if !strings.HasPrefix(id, localPrefix) {
		c.send(protocol.NewDelete(c.clock.Now(), c.self, c.cfg.ItemID, id), true)
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, env := range c.outbox {
		if env.ClientRef == id {
			c.outbox = append(c.outbox[:i], c.outbox[i+1:]...)
			return nil
		}
	}
	c.deleteOnAck[id] = true
	return nil
}

// SetLayerVisible shows or hides an author's layer.
func (c *Client) SetLayerVisible(authorID string, visible bool) {
	c.compositor.SetVisible(authorID, visible)
}

func (c *Client) touched() {
	c.governor.InputReceived()
	c.compositor.MarkDirty(c.self.ID)
}

// Tick renders one frame.
func (c *Client) Tick() render.FrameStats {
	stats := c.compositor.Frame()
	c.governor.FrameDrawn(stats.MemoryBytes)
	return stats
}

// Sweep expires presence and commands and re-evaluates performance. Once
// the room has reported who is connected, strokes of everyone else are
// dropped as well.
func (c *Client) Sweep() perf.Report {
	now := c.clock.Now()
	var active func(string) bool
	if roster, _ := c.replica.Participants(); len(roster) > 0 {
		active = func(id string) bool { return id == c.self.ID || c.replica.Active(id) }
	}
	res := c.presence.Sweep(active)
	if len(res.DroppedStrokes) > 0 {
		c.compositor.MarkDirty(res.DroppedStrokes...)
	}
	c.board.Sweep(now)
	return c.governor.Evaluate()
}

func (c *Client) Status() Status {
	st := c.reconnect.State()
	_, connected := c.replica.Participants()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        st.String(),
		Message:      st.UserMessage(),
		Attempts:     c.reconnect.Attempts(),
		Outbox:       len(c.outbox),
		Unacked:      len(c.unacked),
		Participants: connected,
	}
	if err := c.reconnect.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (c *Client) stateChanged(change net.StateChange) {
	ev := c.log.Info()
	if change.To == net.StateFailed {
		ev = c.log.Warn()
	}
	ev.Str("from", change.From.String()).Str("to", change.To.String()).
		Int("attempts", change.Attempts).Dur("delay", change.Delay).Err(change.Err).
		Msg(change.To.UserMessage())
	if c.OnStatus != nil {
		c.OnStatus(c.Status())
	}
}

// Snapshot returns a copy of the composited canvas.
func (c *Client) Snapshot() *image.RGBA { return c.compositor.Snapshot() }

// Commands returns the commands currently on screen.
func (c *Client) Commands() []engine.VisibleCommand { return c.board.Visible(c.clock.Now()) }

// Annotations returns every committed annotation, provisional ones included.
func (c *Client) Annotations() []state.Annotation { return c.layers.All() }

func (c *Client) Performance() perf.Report { return c.governor.Report() }

// SetBackground sets the item image drawn under every layer.
func (c *Client) SetBackground(img image.Image) { c.compositor.SetBackground(img) }
