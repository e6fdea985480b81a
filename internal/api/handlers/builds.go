package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/jsbuilder/internal/api/errors"
	"github.com/narvanalabs/jsbuilder/internal/builder"
	"github.com/narvanalabs/jsbuilder/internal/builder/cache"
	"github.com/narvanalabs/jsbuilder/internal/builder/hash"
	"github.com/narvanalabs/jsbuilder/internal/builder/metrics"
	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// BuildHandler exposes the state of the build cache and artifact index.
type BuildHandler struct {
	service *builder.Service
	logger  *slog.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(svc *builder.Service, logger *slog.Logger) *BuildHandler {
	return &BuildHandler{
		service: svc,
		logger:  logger,
	}
}

// BuildListResponse is the payload of GET /builder/builds.
type BuildListResponse struct {
	Cache     *cache.CacheStats         `json:"cache"`
	Keys      []string                  `json:"keys"`
	Aggregate *metrics.AggregateMetrics `json:"aggregate"`
}

// BuildResponse is the payload of GET /builder/builds/{digest}.
type BuildResponse struct {
	Digest  string                 `json:"digest"`
	State   string                 `json:"state,omitempty"`
	Record  *models.ArtifactRecord `json:"record,omitempty"`
	Metrics *metrics.BuildMetrics  `json:"metrics,omitempty"`
}

// List handles GET /builder/builds. The optional mime_type query parameter
// restricts the aggregate metrics.
func (h *BuildHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := h.service.Cache()

	agg, err := h.service.Metrics().GetAggregateMetrics(ctx, metrics.MetricsFilter{
		MimeType: r.URL.Query().Get("mime_type"),
	})
	if err != nil {
		h.logger.Error("failed to aggregate build metrics", "error", err)
		WriteInternalError(w, r, "Failed to aggregate build metrics")
		return
	}

	WriteJSON(w, http.StatusOK, &BuildListResponse{
		Cache:     c.GetCacheStats(ctx),
		Keys:      c.ListCacheKeys(ctx),
		Aggregate: agg,
	})
}

// Get handles GET /builder/builds/{digest}.
func (h *BuildHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	digest := chi.URLParam(r, "digest")
	if !hash.IsValidKey(digest) {
		WriteBadRequest(w, r, "digest must be 40 lowercase hex characters")
		return
	}

	resp := &BuildResponse{Digest: digest}

	if state, _, err := h.service.Cache().Lookup(ctx, digest); err == nil {
		resp.State = state.String()
	}

	rec, err := h.service.Record(ctx, digest)
	switch {
	case err == nil:
		resp.Record = rec
	case errors.Is(err, store.ErrNotFound):
	default:
		h.logger.Error("failed to read index record", "digest", digest, "error", err)
		WriteInternalError(w, r, "Failed to read artifact index")
		return
	}

	if m, err := h.service.Metrics().GetMetrics(ctx, digest); err == nil {
		resp.Metrics = m
	}

	if resp.State == "" && resp.Record == nil && resp.Metrics == nil {
		apierrors.WriteError(w, apierrors.NewNotFoundError("Build not found").
			WithDetails(map[string]any{"digest": digest}).
			WithRequestID(middleware.GetReqID(ctx)))
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
