package stream

import (
	"sync"

	"go.uber.org/multierr"

	"detectserver/internal/logger"
)

// Hub keeps track of the playback streams that are currently open so they
// can be counted and shut down together.
type Hub struct {
	sinks  map[*WebsocketSink]struct{}
	mutex  sync.RWMutex
	logger *logger.Logger
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		sinks:  make(map[*WebsocketSink]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(sink *WebsocketSink) {
	h.mutex.Lock()
	h.sinks[sink] = struct{}{}
	total := len(h.sinks)
	h.mutex.Unlock()
	h.logger.Info("Stream %s opened. Active: %d", sink.ID(), total)
}

func (h *Hub) Unregister(sink *WebsocketSink) {
	h.mutex.Lock()
	_, ok := h.sinks[sink]
	delete(h.sinks, sink)
	total := len(h.sinks)
	h.mutex.Unlock()
	if ok {
		h.logger.Info("Stream %s closed. Active: %d", sink.ID(), total)
	}
}

// Count returns the number of open streams.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sinks)
}

// CloseAll closes every open stream, used on shutdown.
func (h *Hub) CloseAll() error {
	h.mutex.Lock()
	sinks := make([]*WebsocketSink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.sinks = make(map[*WebsocketSink]struct{})
	h.mutex.Unlock()

	var err error
	for _, s := range sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}
