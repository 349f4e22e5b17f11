package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aescanero/chatd/pkg/domain"
	"github.com/aescanero/chatd/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleEventStream streams chat events to the client. The optional
// ?type= query parameter restricts the feed to one event type.
func (h *Handler) HandleEventStream(c *gin.Context) {
	typeFilter := domain.EventType(c.Query("type"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("client", c.ClientIP()),
		zap.String("type_filter", string(typeFilter)))

	eventChan := make(chan domain.Event, 10)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.eventBus.Subscribe(ctx, domain.TopicChatEvents, h.forward(eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		return
	}

	// The feed is one-way; reading detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if typeFilter != "" && event.Type != typeFilter {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// forward returns an event handler that feeds ch without blocking the bus
func (h *Handler) forward(ch chan<- domain.Event) ports.EventHandler {
	return func(ctx context.Context, event domain.Event) error {
		select {
		case ch <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}
