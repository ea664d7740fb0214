package api

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/vantage/internal/middleware"
	"github.com/onnwee/vantage/internal/stream"
)

// SnapshotHandlers serves one-shot snapshot reads for clients that poll
// instead of subscribing to a stream.
type SnapshotHandlers struct {
	source stream.SnapshotSource
	logger *slog.Logger
}

// NewSnapshotHandlers creates snapshot handlers over the given source.
func NewSnapshotHandlers(source stream.SnapshotSource, logger *slog.Logger) *SnapshotHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotHandlers{source: source, logger: logger}
}

// Snapshot handles GET /api/snapshot. It computes and returns the current
// analytics snapshot as JSON.
func (h *SnapshotHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		errCtx := middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, errCtx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	snapshot, err := h.source.Snapshot(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute snapshot",
			slog.String("error", err.Error()))
		errCtx := middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, errCtx, http.StatusInternalServerError, ErrCodeInternal, "Internal Server Error")
		return
	}

	writeJSON(w, ctx, http.StatusOK, snapshot)
}
