package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/events"
	"github.com/copysentry/backend/pkg/logger"
)

type EventsHandler struct {
	hub *events.Hub
}

func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// HandleConnection streams hub events (run completions, notice-worthy
// matches, notice transitions) to a dashboard client until the socket
// breaks.
func (h *EventsHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	sub, cancel := h.hub.Subscribe()
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for event := range sub {
		if err := c.WriteJSON(event); err != nil {
			logger.Debug("Failed to write WebSocket event", zap.Error(err))
			return
		}
	}
}
