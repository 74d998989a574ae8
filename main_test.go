package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScoreBoard/internal/config"
	"ScoreBoard/internal/engine"
	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/server"
	"ScoreBoard/internal/state"
)

func startServer(t *testing.T) (string, *persist.MemoryStore) {
	t.Helper()
	store := persist.NewMemoryStore()
	bridge := persist.NewBridge(store, nil, persist.BridgeConfig{}, zerolog.Nop())
	t.Cleanup(bridge.Close)
	hub := engine.NewHub(bridge, store, nil, engine.HubConfig{}, zerolog.Nop())
	srv := httptest.NewServer(server.New(hub, bridge, store, nil, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv.URL, store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seed(t *testing.T, store *persist.MemoryStore, authors ...string) []state.Annotation {
	t.Helper()
	var out []state.Annotation
	for _, author := range authors {
		a, err := store.Create(context.Background(), state.Annotation{
			ID:       "ann-" + author,
			ItemID:   "hymn-12",
			AuthorID: author,
			Tool:     state.ToolPen,
			Color:    "#000000",
			Opacity:  1,
			Path:     &state.Path{Width: 2, Points: []state.Point{{X: 1, Y: 1}, {X: 50, Y: 20}}},
		})
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "join", "export", "annotations"} {
		assert.True(t, names[want], want)
	}
}

func TestAnnotationsListAndDelete(t *testing.T) {
	url, store := startServer(t)
	created := seed(t, store, "ana", "ben")

	out, err := run(t, "annotations", "list", "hymn-12", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, created[0].ID)
	assert.Contains(t, out, "ben")

	out, err = run(t, "annotations", "delete", created[0].ID, "missing-id", "--server", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id: not found")
	assert.Contains(t, out, "Deleted 1 annotation(s).")
	_, ok := store.Get(created[0].ID)
	assert.False(t, ok)

	out, err = run(t, "annotations", "list", "other-item", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No annotations.")
}

func TestExportWritesPDF(t *testing.T) {
	url, store := startServer(t)
	seed(t, store, "ana", "ben")
	path := filepath.Join(t.TempDir(), "hymn.pdf")

	out, err := run(t, "export", "--server", url, "--item", "hymn-12", "--out", path, "--hide", "ben")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 annotations")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestOpenStoreDrivers(t *testing.T) {
	cfg := config.NewForTesting()

	cfg.StoreDriver = config.DriverMemory
	store, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &persist.MemoryStore{}, store)

	cfg.StoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "scoreboard.db")
	store, err = openStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())

	cfg.StoreDriver = "etcd"
	_, err = openStore(context.Background(), cfg)
	assert.Error(t, err)
}
