package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := NewSession("server", conn, zerolog.Nop())
		_ = s.Run(r.Context(), func(data []byte) {
			_ = s.Send(data)
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionRoundTrip(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	s := NewSession("client", conn, zerolog.Nop())

	got := make(chan string, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx, func(data []byte) { got <- string(data) })
	}()

	require.NoError(t, s.Send([]byte(`{"type":"cursor:move"}`)))
	select {
	case msg := <-got:
		assert.Equal(t, `{"type":"cursor:move"}`, msg)
	case <-ctx.Done():
		t.Fatal("no echo received")
	}

	require.NoError(t, s.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.ErrorIs(t, s.Send([]byte("late")), ErrClosed)
	assert.ErrorIs(t, s.Err(), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", nil)
	assert.Error(t, err)
}

func TestSendAfterCancel(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	s := NewSession("client", conn, zerolog.Nop())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx, func([]byte) {}) }()

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-s.Done()
	assert.ErrorIs(t, s.Send([]byte("x")), ErrClosed)
}
