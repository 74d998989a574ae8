package net

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var (
	ErrClosed         = errors.New("session closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Session is one participant's bidirectional message channel. Reads run on
// the goroutine that calls Run; writes go through a buffered queue drained by
// a dedicated writer, so a slow peer never blocks whoever calls Send.
type Session struct {
	ID   string
	conn *websocket.Conn
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

// NewSession wraps an established websocket connection.
func NewSession(id string, conn *websocket.Conn, log zerolog.Logger) *Session {
	return &Session{
		ID:   id,
		conn: conn,
		log:  log.With().Str("session", id).Logger(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Run starts the writer and reads messages until the connection ends or ctx
// is canceled. handle is called sequentially for every inbound text frame.
func (s *Session) Run(ctx context.Context, handle func(data []byte)) error {
	go s.writePump()
	go func() {
		select {
		case <-ctx.Done():
			s.closeWith(ctx.Err())
		case <-s.done:
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closeWith(err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(s.Err(), ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handle(data)
	}
}

// Send queues a frame. When the queue is full the session is closed: the
// peer is too slow to keep up and will resync on reconnect.
func (s *Session) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		s.log.Warn().Msg("send buffer full, closing slow session")
		s.closeWith(ErrSendBufferFull)
		return ErrSendBufferFull
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.closeWith(err)
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.closeWith(err)
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			s.mu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.mu.Unlock()
			_ = s.conn.Close()
			return
		}
	}
}

func (s *Session) write(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

func (s *Session) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
	})
}

// Close ends the session. The writer sends a close frame and drops the connection.
func (s *Session) Close() error {
	s.closeWith(ErrClosed)
	return nil
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}
