package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/onnwee/vantage/internal/middleware"
	"github.com/onnwee/vantage/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Mirrors the open CORS policy of the SSE endpoint; the feed is
		// read-only dashboard data.
		return true
	},
}

// WebSocketHandlers serves the WebSocket analytics feed.
type WebSocketHandlers struct {
	broadcaster *stream.SnapshotBroadcaster
	logger      *slog.Logger
}

// NewWebSocketHandlers creates WebSocket handlers over the given broadcaster.
func NewWebSocketHandlers(broadcaster *stream.SnapshotBroadcaster, logger *slog.Logger) *WebSocketHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandlers{broadcaster: broadcaster, logger: logger}
}

// Subscribe handles GET /api/ws. The connection receives the same snapshot
// payloads as the SSE feed, pushed by the shared broadcaster.
func (h *WebSocketHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.ErrorContext(ctx, "failed to upgrade websocket connection",
			slog.String("error", err.Error()))
		return
	}

	h.broadcaster.Subscribe(conn)

	requestID := middleware.GetRequestID(ctx)
	h.logger.InfoContext(ctx, "websocket client subscribed",
		slog.String("request_id", requestID))

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		h.logger.InfoContext(ctx, "websocket client unsubscribed",
			slog.String("request_id", requestID))
	}()

	// Clients do not send messages; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.WarnContext(ctx, "websocket connection closed unexpectedly",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}
