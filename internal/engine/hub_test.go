package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/protocol"
	"ScoreBoard/internal/state"
)

const item = "hymn-12"

// fakeConn is an in-memory Conn. Frames pushed to in are handled in order;
// frames the hub sends are recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out []protocol.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Run(ctx context.Context, handle func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case data := <-c.in:
			handle(data)
		}
	}
}

func (c *fakeConn) Send(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	c.in <- data
}

func (c *fakeConn) received() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.out...)
}

func (c *fakeConn) ofType(t protocol.MessageType) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range c.received() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) waitFor(t *testing.T, typ protocol.MessageType, n int) []protocol.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.ofType(typ)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s", n, typ)
	return c.ofType(typ)
}

type harness struct {
	hub    *Hub
	store  *persist.MemoryStore
	bridge *persist.Bridge
	clock  *state.ManualClock
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := state.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := persist.NewMemoryStore()
	bridge := persist.NewBridge(store, clock, persist.BridgeConfig{}, zerolog.Nop())
	t.Cleanup(bridge.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{
		hub:    NewHub(bridge, store, clock, HubConfig{}, zerolog.Nop()),
		store:  store,
		bridge: bridge,
		clock:  clock,
		ctx:    ctx,
	}
}

func participant(id string) state.Participant {
	return state.Participant{ID: id, DisplayName: id + "-name", Color: "#123456"}
}

func (h *harness) join(t *testing.T, id string) *fakeConn {
	t.Helper()
	c := newFakeConn()
	go func() { _ = h.hub.Serve(h.ctx, c) }()
	c.push(t, protocol.NewJoin(h.clock.Now(), participant(id), item))
	c.waitFor(t, protocol.TypeSyncResponse, 1)
	return c
}

func path(n int) *state.Path {
	p := &state.Path{Width: 2}
	for i := 0; i < n; i++ {
		p.Points = append(p.Points, state.Point{X: float32(10 * i), Y: float32(5 * i)})
	}
	return p
}

func TestJoinWelcomesAndSyncs(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Create(context.Background(), state.Annotation{ID: "old", ItemID: item, AuthorID: "zoe", Tool: state.ToolPen, Path: path(2)})
	require.NoError(t, err)

	ana := h.join(t, "ana")
	welcome := ana.waitFor(t, protocol.TypeWelcome, 1)[0]
	assert.Equal(t, protocol.ServerIdentity.ID, welcome.SenderID)
	require.NotNil(t, welcome.Participant)
	assert.Equal(t, "ana", welcome.Participant.ID)
	sync := ana.ofType(protocol.TypeSyncResponse)[0]
	require.Len(t, sync.Annotations, 1)
	assert.Equal(t, "old", sync.Annotations[0].ID)

	ben := h.join(t, "ben")
	connects := ana.waitFor(t, protocol.TypeUserConnect, 1)
	assert.Equal(t, "ben", connects[0].SenderID)
	status := ana.waitFor(t, protocol.TypeServerStatus, 2)
	assert.Equal(t, 2, status[1].ConnectedCount)
	require.Len(t, status[1].ActiveParticipants, 2)
	assert.Equal(t, "ana", status[1].ActiveParticipants[0].ID)
	assert.Empty(t, ben.ofType(protocol.TypeUserConnect), "joiner is not told about itself")
}

func TestJoinAssignsIdentity(t *testing.T) {
	h := newHarness(t)
	c := newFakeConn()
	go func() { _ = h.hub.Serve(h.ctx, c) }()
	c.push(t, protocol.NewJoin(h.clock.Now(), state.Participant{}, item))
	welcome := c.waitFor(t, protocol.TypeWelcome, 1)[0]
	require.NotNil(t, welcome.Participant)
	assert.NotEmpty(t, welcome.Participant.ID)
	assert.Contains(t, welcome.Participant.DisplayName, "guest-")
	assert.Equal(t, ColorFor(welcome.Participant.ID), welcome.Participant.Color)
}

func TestProtocolErrorsKeepSessionOpen(t *testing.T) {
	h := newHarness(t)
	c := newFakeConn()
	go func() { _ = h.hub.Serve(h.ctx, c) }()

	c.push(t, protocol.NewStart(h.clock.Now(), participant("ana"), item, state.ToolPen, "#f00", "l"))
	c.in <- []byte("{not json")
	c.push(t, protocol.Envelope{Type: "annotation:rotate"})
	c.push(t, protocol.NewJoin(h.clock.Now(), participant("ana"), item))
	c.waitFor(t, protocol.TypeWelcome, 1)
	c.push(t, protocol.NewJoin(h.clock.Now(), participant("ana"), item))

	errs := c.waitFor(t, protocol.TypeError, 4)
	assert.Equal(t, protocol.CodeNotJoined, errs[0].Code)
	assert.Equal(t, protocol.CodeBadEnvelope, errs[1].Code)
	assert.Equal(t, protocol.CodeUnknownType, errs[2].Code)
	assert.Equal(t, protocol.CodeUnexpected, errs[3].Code)
}

func TestStrokeLifecycleFanOut(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")
	me := participant("ana")

	ana.push(t, protocol.NewStart(h.clock.Now(), me, item, state.ToolPen, "#ff0000", "Ana's annotation"))
	for i := 2; i <= 4; i++ {
		ana.push(t, protocol.NewUpdate(h.clock.Now(), me, item, state.ToolPen, "#ff0000", path(i)))
	}
	complete := protocol.NewComplete(h.clock.Now(), me, item, state.ToolPen, "#ff0000", "Ana's annotation", 1, path(5))
	complete.ClientRef = "local-1"
	ana.push(t, complete)

	got := ben.waitFor(t, protocol.TypeAnnotationComplete, 1)[0]
	assert.NotEmpty(t, got.AnnotationID)
	assert.Equal(t, "ana", got.SenderID)
	assert.Equal(t, "local-1", got.ClientRef)
	assert.Len(t, ben.ofType(protocol.TypeAnnotationStart), 1)
	assert.Len(t, ben.ofType(protocol.TypeAnnotationUpdate), 3)

	ack := ana.waitFor(t, protocol.TypeAnnotationComplete, 1)[0]
	assert.Equal(t, got.AnnotationID, ack.AnnotationID, "the author learns the durable id")
	assert.Empty(t, ana.ofType(protocol.TypeAnnotationStart), "start is not echoed")
	assert.Empty(t, ana.ofType(protocol.TypeAnnotationUpdate), "updates are not echoed")

	stored, ok := h.store.Get(got.AnnotationID)
	require.True(t, ok)
	assert.Equal(t, "ana", stored.AuthorID)
	assert.Equal(t, "local-1", stored.ClientRef)
	assert.Len(t, stored.Path.Points, 5)

	room, ok := h.hub.Room(item)
	require.True(t, ok)
	_, open := room.Presence().Stroke("ana")
	assert.False(t, open, "complete clears the in-progress stroke")
}

func TestSecondStartReplacesStroke(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")
	me := participant("ana")

	ana.push(t, protocol.NewStart(h.clock.Now(), me, item, state.ToolPen, "#ff0000", "l"))
	ana.push(t, protocol.NewStart(h.clock.Now(), me, item, state.ToolHighlighter, "#00ff00", "l"))
	ben.waitFor(t, protocol.TypeAnnotationStart, 2)

	room, _ := h.hub.Room(item)
	strokes := room.Presence().Strokes()
	require.Len(t, strokes, 1)
	assert.Equal(t, state.ToolHighlighter, strokes[0].Tool)
}

func TestReplayedCompleteCreatesNewRecords(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	me := participant("ana")

	replay := protocol.NewComplete(h.clock.Now(), me, item, state.ToolPen, "#ff0000", "l", 1, path(3))
	ana.push(t, replay)
	ana.push(t, replay)

	acks := ana.waitFor(t, protocol.TypeAnnotationComplete, 2)
	assert.NotEqual(t, acks[0].AnnotationID, acks[1].AnnotationID)
	assert.Empty(t, ana.ofType(protocol.TypeError))
	list, err := h.store.ListByItem(context.Background(), item)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestServerOverwritesSenderIdentity(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")

	ana.push(t, protocol.NewCursorMove(h.clock.Now(), participant("mallory"), "other-item", 3, 4, false, state.ToolPen, "#000"))
	got := ben.waitFor(t, protocol.TypeCursorMove, 1)[0]
	assert.Equal(t, "ana", got.SenderID)
	assert.Equal(t, "ana-name", got.SenderDisplayName)
	assert.Equal(t, item, got.ItemID)
}

func TestDeleteOnlyByAuthor(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")

	ana.push(t, protocol.NewComplete(h.clock.Now(), participant("ana"), item, state.ToolPen, "#f00", "l", 1, path(2)))
	id := ben.waitFor(t, protocol.TypeAnnotationComplete, 1)[0].AnnotationID

	ben.push(t, protocol.NewDelete(h.clock.Now(), participant("ben"), item, id))
	assert.Equal(t, protocol.CodeForbidden, ben.waitFor(t, protocol.TypeError, 1)[0].Code)
	ben.push(t, protocol.NewDelete(h.clock.Now(), participant("ben"), item, "missing"))
	assert.Equal(t, protocol.CodeNotFound, ben.waitFor(t, protocol.TypeError, 2)[1].Code)

	ana.push(t, protocol.NewDelete(h.clock.Now(), participant("ana"), item, id))
	assert.Equal(t, id, ben.waitFor(t, protocol.TypeAnnotationDelete, 1)[0].AnnotationID)
	_, ok := h.store.Get(id)
	assert.False(t, ok)
}

func TestCommandBroadcastReachesEveryone(t *testing.T) {
	h := newHarness(t)
	lead := h.join(t, "lead")
	singer := h.join(t, "singer")

	lead.push(t, protocol.NewCommandSend(h.clock.Now(), participant("lead"), item, "Chorus again"))
	got := singer.waitFor(t, protocol.TypeCommandBroadcast, 1)[0]
	assert.NotEmpty(t, got.CommandID)
	assert.Equal(t, "Chorus again", got.Message)
	assert.Equal(t, "lead", got.SenderID)
	lead.waitFor(t, protocol.TypeCommandBroadcast, 1)

	cmds, err := h.store.ListCommands(context.Background(), item, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, got.CommandID, cmds[0].ID)
}

func TestDisconnectDiscardsPresence(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")

	ben.push(t, protocol.NewStart(h.clock.Now(), participant("ben"), item, state.ToolPen, "#00f", "l"))
	ben.push(t, protocol.NewCursorMove(h.clock.Now(), participant("ben"), item, 1, 1, true, state.ToolPen, "#00f"))
	ana.waitFor(t, protocol.TypeCursorMove, 1)

	require.NoError(t, ben.Close())
	left := ana.waitFor(t, protocol.TypeUserDisconnect, 1)
	assert.Equal(t, "ben", left[0].SenderID)

	room, ok := h.hub.Room(item)
	require.True(t, ok)
	assert.Empty(t, room.Presence().Strokes())
	assert.Empty(t, room.Presence().Cursors())
	require.Eventually(t, func() bool {
		st := ana.ofType(protocol.TypeServerStatus)
		return st[len(st)-1].ConnectedCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ana.Close())
	require.Eventually(t, func() bool { return len(h.hub.Rooms()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSweepDropsIdleStrokes(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	ben := h.join(t, "ben")
	ana.push(t, protocol.NewStart(h.clock.Now(), participant("ana"), item, state.ToolPen, "#f00", "l"))
	ben.waitFor(t, protocol.TypeAnnotationStart, 1)

	room, _ := h.hub.Room(item)
	h.hub.Sweep()
	assert.Len(t, room.Presence().Strokes(), 1)

	h.clock.Advance(state.DefaultStrokeTTL)
	h.hub.Sweep()
	assert.Empty(t, room.Presence().Strokes())
}

func TestStoreOutageQueuesAndSyncsPending(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")
	h.store.SetDown(true)

	ana.push(t, protocol.NewComplete(h.clock.Now(), participant("ana"), item, state.ToolPen, "#f00", "l", 1, path(2)))
	ack := ana.waitFor(t, protocol.TypeAnnotationComplete, 1)[0]
	assert.Equal(t, 1, h.bridge.Status().Pending)

	ben := h.join(t, "ben")
	sync := ben.ofType(protocol.TypeSyncResponse)[0]
	require.Len(t, sync.Annotations, 1)
	assert.Equal(t, ack.AnnotationID, sync.Annotations[0].ID)

	h.store.SetDown(false)
	require.NoError(t, h.bridge.FlushPending(context.Background()))
	_, ok := h.store.Get(ack.AnnotationID)
	assert.True(t, ok)
}

func TestRESTHooksFanOut(t *testing.T) {
	h := newHarness(t)
	ana := h.join(t, "ana")

	a := state.Annotation{ID: "rest-1", ItemID: item, AuthorID: "admin", Tool: state.ToolPen, Color: "#000", Opacity: 1, Path: path(2), CreatedAt: h.clock.Now()}
	h.hub.AnnotationCreated(a)
	h.hub.AnnotationCreated(a)
	assert.Len(t, ana.waitFor(t, protocol.TypeAnnotationComplete, 1), 1)

	h.hub.AnnotationDeleted("rest-1")
	del := ana.waitFor(t, protocol.TypeAnnotationDelete, 1)[0]
	assert.Equal(t, protocol.ServerIdentity.ID, del.SenderID)
	assert.Equal(t, "rest-1", del.AnnotationID)
}
