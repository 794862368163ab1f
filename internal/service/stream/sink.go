package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"detectserver/internal/dto"
	"detectserver/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	closeGrace     = time.Second
	maxClientFrame = 512
)

// ErrSinkClosed is returned by sends after Close.
var ErrSinkClosed = errors.New("frame sink closed")

// FrameSink receives the results of a video playback in order.
type FrameSink interface {
	SendFrame(frame dto.VideoFrame) error
	SendDone(summary dto.PlaybackSummary) error
	SendError(msg string) error
}

// WebsocketSink pushes playback messages to one browser connection as JSON text frames.
type WebsocketSink struct {
	id     string
	conn   *websocket.Conn
	logger *logger.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWebsocketSink wraps an upgraded connection.
func NewWebsocketSink(id string, conn *websocket.Conn, logger *logger.Logger) *WebsocketSink {
	return &WebsocketSink{
		id:     id,
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// ID returns the playback id the sink was opened for.
func (s *WebsocketSink) ID() string {
	return s.id
}

// Watch reads from the connection until the client goes away and returns a
// context that is cancelled at that point. Client messages are discarded.
func (s *WebsocketSink) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.conn.SetReadLimit(maxClientFrame)

	go func() {
		defer close(s.done)
		defer cancel()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warning("Stream %s: client read error: %v", s.id, err)
				}
				return
			}
		}
	}()

	return ctx, cancel
}

func (s *WebsocketSink) SendFrame(frame dto.VideoFrame) error {
	frame.Type = dto.MessageFrame
	return s.writeJSON(frame)
}

func (s *WebsocketSink) SendDone(summary dto.PlaybackSummary) error {
	summary.Type = dto.MessageDone
	return s.writeJSON(summary)
}

func (s *WebsocketSink) SendError(msg string) error {
	return s.writeJSON(dto.StreamError{Type: dto.MessageError, Error: msg})
}

func (s *WebsocketSink) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal stream message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write stream message")
	}
	return nil
}

// Close sends a normal close frame and closes the connection once the
// client acknowledges it or after a short grace period.
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(closeGrace):
	}
	return s.conn.Close()
}
