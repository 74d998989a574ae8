// Package server is the HTTP surface of the sync server: the websocket
// endpoint participants join rooms through, the persistence REST
// collaborator, PDF export, health and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ScoreBoard/internal/engine"
	sbnet "ScoreBoard/internal/net"
	"ScoreBoard/internal/persist"
	"ScoreBoard/internal/state"
)

type Server struct {
	hub    *engine.Hub
	bridge *persist.Bridge
	store  persist.Store
	clock  state.Clock
	log    zerolog.Logger

	upgrader websocket.Upgrader
	router   chi.Router
}

func New(hub *engine.Hub, bridge *persist.Bridge, store persist.Store, clock state.Clock, log zerolog.Logger) *Server {
	if clock == nil {
		clock = state.SystemClock()
	}
	s := &Server{
		hub:    hub,
		bridge: bridge,
		store:  store,
		clock:  clock,
		log:    log.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Participants join from any device on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on l until ctx is canceled, then shuts down.
// Websocket sessions end with ctx as well.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on port and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", l.Addr().String()).Msg("listening")
	return s.Serve(ctx, l)
}

// handleWS upgrades the request and runs the participant's session on the
// hub until it ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	sess := sbnet.NewSession(uuid.NewString(), conn, s.log)
	s.log.Debug().Str("session", sess.ID).Str("remote", sess.RemoteAddr()).
		Str("item_hint", r.URL.Query().Get("item")).Msg("session opened")
	if err := s.hub.Serve(r.Context(), sess); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug().Err(err).Str("session", sess.ID).Msg("session ended")
	}
	_ = sess.Close()
}
