package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/client"
	"ScoreBoard/internal/engine"
	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/state"
)

const item = "hymn-12"

type fixture struct {
	srv    *httptest.Server
	store  *persist.MemoryStore
	bridge *persist.Bridge
	hub    *engine.Hub
	http   *persist.HTTPStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := persist.NewMemoryStore()
	bridge := persist.NewBridge(store, nil, persist.BridgeConfig{}, zerolog.Nop())
	t.Cleanup(bridge.Close)
	hub := engine.NewHub(bridge, store, nil, engine.HubConfig{}, zerolog.Nop())
	srv := httptest.NewServer(New(hub, bridge, store, nil, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{
		srv:    srv,
		store:  store,
		bridge: bridge,
		hub:    hub,
		http:   persist.NewHTTPStore(srv.URL, 2*time.Second),
	}
}

func (f *fixture) participant(t *testing.T, id string) *client.Client {
	t.Helper()
	log := zerolog.Nop()
	c := client.New(client.Config{
		URL:         "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws",
		ItemID:      item,
		Participant: state.Participant{ID: id, DisplayName: id + "-name"},
		Width:       200,
		Height:      100,
		Dial:        client.WebsocketDialer(log),
	}, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	c.Start(ctx)
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.State == "connected" && st.Participants > 0
	}, 3*time.Second, 10*time.Millisecond)
	return c
}

func stroke(authorID string) state.Annotation {
	return state.Annotation{
		ItemID:   item,
		AuthorID: authorID,
		Tool:     state.ToolPen,
		Color:    "#336699",
		Opacity:  1,
		Path:     &state.Path{Width: 3, Points: []state.Point{{X: 10, Y: 10}, {X: 90, Y: 40}}},
	}
}

func TestRESTCollaboratorRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.http.Create(ctx, stroke("ana"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	bulk, err := f.http.BulkCreate(ctx, []state.Annotation{stroke("ben"), stroke("cy")})
	require.NoError(t, err)
	require.Len(t, bulk, 2)

	list, err := f.http.ListByItem(ctx, item)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, f.http.Delete(ctx, created.ID))
	assert.ErrorIs(t, f.http.Delete(ctx, created.ID), persist.ErrNotFound)
	list, err = f.http.ListByItem(ctx, item)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := f.http.ListByItem(ctx, "unknown-item")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.http.CreateCommand(ctx, state.Command{ItemID: item, SenderID: "lead", Message: "Key change"})
	require.NoError(t, err)
	cmds, err := f.http.ListCommands(ctx, item, 5)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "Key change", cmds[0].Message)

	require.NoError(t, f.http.Ping(ctx))
}

func TestCreateAnnotationValidation(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"not json":    "{",
		"no item":     `{"authorId":"ana","path":{"points":[]}}`,
		"no path":     `{"itemId":"x","authorId":"ana"}`,
		"bad tool":    `{"itemId":"x","authorId":"ana","tool":"spray","path":{"points":[]}}`,
		"bulk broken": `[{"itemId":"x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			url := f.srv.URL + "/api/annotations"
			if strings.HasPrefix(body, "[") {
				url += "/bulk"
			}
			resp, err := http.Post(url, "application/json", strings.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestStoreOutageQueuesRESTWrites(t *testing.T) {
	f := newFixture(t)
	f.store.SetDown(true)

	data, err := json.Marshal(stroke("ana"))
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+"/api/annotations", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status.Bridge.Pending)
	assert.False(t, status.Bridge.Connected)
}

func TestParticipantsSyncOverWebsocket(t *testing.T) {
	f := newFixture(t)
	ana := f.participant(t, "ana")
	ben := f.participant(t, "ben")

	ana.StartStroke(state.ToolHighlighter, "#ffff00", "")
	require.NoError(t, ana.UpdateStroke(&state.Path{Points: []state.Point{{X: 20, Y: 50}, {X: 180, Y: 50}}}))
	_, err := ana.CompleteStroke(1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ben.Annotations()) == 1 }, 3*time.Second, 10*time.Millisecond)
	got := ben.Annotations()[0]
	assert.Equal(t, "ana", got.AuthorID)
	stored, ok := f.store.Get(got.ID)
	require.True(t, ok)
	assert.Equal(t, state.ToolHighlighter, stored.Tool)

	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Len(t, status.Rooms, 1)
	assert.Equal(t, item, status.Rooms[0].ItemID)
	assert.Equal(t, 2, status.Rooms[0].Sessions)
	assert.Equal(t, 1, status.Rooms[0].Annotations)
}

func TestRESTWritesReachLiveRoom(t *testing.T) {
	f := newFixture(t)
	ana := f.participant(t, "ana")

	created, err := f.http.Create(context.Background(), stroke("admin"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(ana.Annotations()) == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.http.Delete(context.Background(), created.ID))
	require.Eventually(t, func() bool { return len(ana.Annotations()) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestExportPDF(t *testing.T) {
	f := newFixture(t)
	_, err := f.http.BulkCreate(context.Background(), []state.Annotation{stroke("ana"), stroke("ben")})
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/api/items/" + item + "/export.pdf?hide=ben")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.participant(t, "ana")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scoreboard_hub_sessions")
	assert.Contains(t, string(body), "scoreboard_hub_envelopes_total")
}
