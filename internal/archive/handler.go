package archive

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/handlers"
	"github.com/JaimeStill/compass/pkg/routes"
	"github.com/JaimeStill/compass/pkg/storage"
)

// Handler serves archived results over HTTP.
type Handler struct {
	archive     *Archive
	logger      *slog.Logger
	maxListSize int32
}

// NewHandler creates the results handler.
func NewHandler(archive *Archive, logger *slog.Logger, maxListSize int32) *Handler {
	return &Handler{
		archive:     archive,
		logger:      logger.With("handler", "results"),
		maxListSize: maxListSize,
	}
}

// Routes returns the results route group.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix:  "/results",
		Tags:    []string{"Results"},
		Schemas: schemas,
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List, OpenAPI: ops.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find, OpenAPI: ops.Find},
			{Method: "GET", Pattern: "/{id}/download", Handler: h.Download, OpenAPI: ops.Download},
		},
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	maxResults, err := storage.ParseMaxResults(
		r.URL.Query().Get("max_results"),
		h.maxListSize,
	)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.archive.List(r.Context(), r.URL.Query().Get("marker"), maxResults)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, storage.ErrNotFound)
		return
	}

	rec, err := h.archive.Get(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, rec)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, storage.ErrNotFound)
		return
	}

	key := Key(id)
	blob, err := h.archive.store.Download(r.Context(), key)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}
	defer blob.Body.Close()

	w.Header().Set("Content-Type", blob.ContentType)
	if blob.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(blob.ContentLength, 10))
	}
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", path.Base(key)),
	)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, blob.Body)
}
