package handlers

import (
	"log/slog"
	"net/http"

	"github.com/narvanalabs/jsbuilder/internal/catalog"
)

// DepsHandler serves the module catalog.
type DepsHandler struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewDepsHandler creates a new catalog handler.
func NewDepsHandler(c *catalog.Catalog, logger *slog.Logger) *DepsHandler {
	return &DepsHandler{
		catalog: c,
		logger:  logger,
	}
}

// Get handles GET /builder/deps. A callback or jsonp query parameter
// wraps the catalog in a JSONP call.
func (h *DepsHandler) Get(w http.ResponseWriter, r *http.Request) {
	callback := r.URL.Query().Get("callback")
	if callback == "" {
		callback = r.URL.Query().Get("jsonp")
	}

	if callback != "" && !catalog.ValidCallback(callback) {
		WriteBadRequest(w, r, "callback must be a JavaScript identifier")
		return
	}

	var (
		body        []byte
		err         error
		contentType = "application/json"
	)
	if callback != "" {
		body, err = h.catalog.JSONP(callback)
		contentType = "application/javascript"
	} else {
		body, err = h.catalog.JSON()
	}
	if err != nil {
		h.logger.Error("failed to load catalog", "error", err)
		WriteInternalError(w, r, "Failed to load catalog")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
