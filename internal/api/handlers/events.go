package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/hash"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventHandler streams build lifecycle events over WebSocket.
type EventHandler struct {
	broker   *events.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventHandler creates a new event stream handler.
func NewEventHandler(broker *events.Broker, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /builder/events. The optional digest query parameter
// restricts the stream to one cache key.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("digest")
	if key != "" && !hash.IsValidKey(key) {
		WriteBadRequest(w, r, "digest must be 40 lowercase hex characters")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("event stream started", "subscriber_id", sub.ID, "digest", key)

	// The client sends nothing; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("event stream closed by client", "subscriber_id", sub.ID)
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event stream write failed", "subscriber_id", sub.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
