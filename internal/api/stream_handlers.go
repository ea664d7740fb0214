package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/vantage/internal/middleware"
	"github.com/onnwee/vantage/internal/stream"
)

// sseErrorPayload is pushed as a data frame when a snapshot cannot be
// produced. The connection stays open and the next tick retries.
const sseErrorPayload = `{"error": "Internal Server Error"}`

// StreamHandlers serves the SSE analytics feed.
type StreamHandlers struct {
	source   stream.SnapshotSource
	logger   *slog.Logger
	metrics  *stream.Metrics
	interval time.Duration
}

// StreamHandlersConfig configures the SSE handlers.
type StreamHandlersConfig struct {
	// Interval is the push period. Default: 1 second.
	Interval time.Duration

	// Metrics are optional streaming metrics, shared with the WebSocket
	// broadcaster.
	Metrics *stream.Metrics
}

// NewStreamHandlers creates SSE handlers over the given snapshot source.
func NewStreamHandlers(source stream.SnapshotSource, logger *slog.Logger, cfg StreamHandlersConfig) *StreamHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return &StreamHandlers{
		source:   source,
		logger:   logger,
		metrics:  cfg.Metrics,
		interval: cfg.Interval,
	}
}

// Events handles GET /api/sse. It holds the connection open and pushes
// one snapshot frame per interval, in the text/event-stream framing
// ("data: <json>\n\n"). The loop ends only when the client disconnects.
func (h *StreamHandlers) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		errCtx := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, errCtx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		errCtx := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, errCtx, http.StatusInternalServerError, ErrCodeInternal, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if h.metrics != nil {
		h.metrics.IncSSEClients()
		defer h.metrics.DecSSEClients()
	}

	requestID := middleware.GetRequestID(ctx)
	h.logger.Info("sse client connected",
		slog.String("request_id", requestID))
	defer h.logger.Info("sse client disconnected",
		slog.String("request_id", requestID))

	// The first frame goes out after one full interval, not immediately.
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pushFrame(w, r, flusher)
		}
	}
}

// pushFrame writes one snapshot frame, substituting the error payload when
// the snapshot cannot be produced or serialized.
func (h *StreamHandlers) pushFrame(w http.ResponseWriter, r *http.Request, flusher http.Flusher) {
	ctx := r.Context()

	payload := []byte(sseErrorPayload)
	snapshot, err := h.source.Snapshot(ctx)
	if err != nil {
		h.logger.Error("failed to compute snapshot for sse push",
			slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncPushErrors()
		}
	} else if data, err := json.Marshal(snapshot); err != nil {
		h.logger.Error("failed to marshal snapshot for sse push",
			slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncPushErrors()
		}
	} else {
		payload = data
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		// The client is gone; the context cancellation ends the loop.
		h.logger.Debug("failed to write sse frame",
			slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
	if h.metrics != nil {
		h.metrics.IncPushes()
	}
}
