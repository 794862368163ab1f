package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/service"
	"detectserver/internal/service/stream"
)

// NewUpgrader returns a WebSocket upgrader accepting the configured origins ("*" allows all).
func NewUpgrader(cfg *config.Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(cfg.CORSOrigins, "*") || lo.Contains(cfg.CORSOrigins, origin)
		},
	}
}

// StreamVideoHandler upgrades to a WebSocket and plays the pending video
// ?id=... at ?confidence=..., pushing one message per annotated frame.
func StreamVideoHandler(manager *service.Manager, hub *stream.Hub, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	upgrader := NewUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := q.Get("id")
		if id == "" {
			writeError(w, logger, badRequest("id parameter is required"))
			return
		}
		confidence, err := config.ParseConfidence(q.Get(confidenceField), cfg.DefaultConfidence)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		sink := stream.NewWebsocketSink(id, conn, logger)
		hub.Register(sink)
		defer hub.Unregister(sink)
		defer sink.Close()

		ctx, cancel := sink.Watch(r.Context())
		defer cancel()

		if _, err := manager.PlayVideo(ctx, id, confidence, sink); err != nil {
			logger.Warning("Stream %s ended with error: %v", id, err)
		}
	}
}
