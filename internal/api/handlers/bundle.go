package handlers

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/jsbuilder/internal/api/errors"
	"github.com/narvanalabs/jsbuilder/internal/api/middleware"
	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// Fetcher resolves bundle requests to published artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, raw models.RawParams) (*models.Delivery, error)
}

// BundleHandler serves custom bundles.
type BundleHandler struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewBundleHandler creates a new bundle handler.
func NewBundleHandler(f Fetcher, logger *slog.Logger) *BundleHandler {
	return &BundleHandler{
		fetcher: f,
		logger:  logger,
	}
}

// ParseParams reads the textual bundle parameters from the route and query.
func ParseParams(r *http.Request) models.RawParams {
	q := r.URL.Query()
	return models.RawParams{
		Owner:         chi.URLParam(r, "owner"),
		Repo:          chi.URLParam(r, "repo"),
		Ref:           chi.URLParam(r, "ref"),
		Name:          chi.URLParam(r, "name"),
		Include:       q.Get("include"),
		Exclude:       q.Get("exclude"),
		External:      q.Get("external"),
		Optimize:      q.Get("optimize"),
		Wrap:          q.Get("wrap"),
		Pragmas:       q.Get("pragmas"),
		PragmasOnSave: q.Get("pragmasOnSave"),
		Filter:        q.Get("filter"),
	}
}

// Get handles GET /builder/bundle/{owner}/{repo}/{ref}[/{name}].
func (h *BundleHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := ParseParams(r)

	d, err := h.fetcher.Fetch(r.Context(), raw)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("client went away while waiting for build",
				"owner", raw.Owner, "repo", raw.Repo, "ref", raw.Ref)
			return
		}
		h.logger.Error("bundle request failed",
			"owner", raw.Owner,
			"repo", raw.Repo,
			"ref", raw.Ref,
			"code", builderrors.CodeOf(err),
			"error", err,
		)
		apierrors.WriteBuildError(w, err)
		return
	}

	f, err := os.Open(d.Path)
	if err != nil {
		// Removed between resolution and delivery.
		h.logger.Warn("artifact vanished before delivery", "key", d.Key, "path", d.Path, "error", err)
		apierrors.WriteBuildError(w, builderrors.NewArtifactMissingError(d.Path).WithDigest(d.Key))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apierrors.WriteBuildError(w, builderrors.NewArtifactMissingError(d.Path).WithDigest(d.Key))
		return
	}

	header := w.Header()
	header.Set("Content-Type", d.MimeType)
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set(middleware.DigestHeader, d.Key)
	if d.Attachment {
		header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.DownloadName}))
	}

	http.ServeContent(w, r, d.DownloadName, info.ModTime(), f)
}
