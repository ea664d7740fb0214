package api

import (
	"net/http"

	"github.com/onnwee/vantage/internal/middleware"
)

// indexResponse describes the service and its endpoints for anyone probing
// the root path.
type indexResponse struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Endpoints []string `json:"endpoints"`
}

// Index handles GET /. Unknown paths fall through to the root pattern on
// the default mux, so anything but exactly "/" is a 404.
func Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Path != "/" {
		errCtx := middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, errCtx, http.StatusNotFound, ErrCodeNotFound, "Not found")
		return
	}

	writeJSON(w, ctx, http.StatusOK, indexResponse{
		Service: "vantage",
		Status:  "ok",
		Endpoints: []string{
			"/api/sse",
			"/api/snapshot",
			"/api/ws",
			"/health",
			"/ready",
			"/metrics",
		},
	})
}
