package workflows

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/pkg/handlers"
	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/routes"
)

// Handler provides HTTP endpoints for workflow operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
	heartbeat  time.Duration
}

// NewHandler creates a Handler. heartbeat sets the SSE keepalive interval.
func NewHandler(
	sys System,
	logger *slog.Logger,
	pagination pagination.Config,
	heartbeat time.Duration,
) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "workflows"),
		pagination: pagination,
		heartbeat:  heartbeat,
	}
}

// Routes returns the route group definition for workflow endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix:  "/workflow",
		Tags:    []string{"Workflows"},
		Schemas: schemas,
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List, OpenAPI: ops.List},
			{Method: "POST", Pattern: "/start", Handler: h.Start, OpenAPI: ops.Start},
			{Method: "GET", Pattern: "/{id}/status", Handler: h.Status, OpenAPI: ops.Status},
			{Method: "GET", Pattern: "/{id}/progress", Handler: h.Progress, OpenAPI: ops.Progress},
			{Method: "GET", Pattern: "/{id}/prompt", Handler: h.Prompt, OpenAPI: ops.Prompt},
			{Method: "POST", Pattern: "/{id}/hitl/respond", Handler: h.Respond, OpenAPI: ops.Respond},
			{Method: "POST", Pattern: "/{id}/cancel", Handler: h.Cancel, OpenAPI: ops.Cancel},
		},
	}
}

// List returns a paginated list of workflows filtered by status, type, error kind and creation time.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters, err := FiltersFromQuery(r.URL.Query())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Start creates a workflow instance and begins executing it.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var cmd StartCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidInput)
		return
	}

	id, err := h.sys.Start(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, StartResult{WorkflowID: id})
}

// Status returns the workflow instance without its checkpoint.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inst, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, inst)
}

// Progress streams workflow events as server-sent events until the workflow
// reaches a terminal state or the client disconnects.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	// Subscribe before reading state so no transition is missed in between.
	sub := h.sys.Subscribe(id)
	defer h.sys.Unsubscribe(sub)

	inst, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	flusher, err := progress.StartSSE(w)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	if inst.Status.Terminal() {
		if err := progress.WriteSSE(w, flusher, TerminalEvent(inst)); err != nil {
			h.logger.Warn("sse write failed", "workflow_id", id, "error", err)
		}
		return
	}

	// A prompt created between Subscribe and Find arrives on sub as well;
	// the replayed one is skipped there.
	var skip func(progress.Event) bool
	if inst.Status == StatusAwaitingHITL {
		if p, err := h.sys.Prompt(r.Context(), id); err == nil {
			skip = progress.SkipPrompt(p.ID)
			evt := progress.NewEvent(id, progress.KindHITLPrompt, progress.PromptPayload{
				PromptID: p.ID,
				Question: p.Question,
				Options:  p.Options,
				Context:  p.Context,
			})
			if err := progress.WriteSSE(w, flusher, evt); err != nil {
				return
			}
		}
	}

	if err := progress.Stream(r.Context(), w, flusher, sub, h.heartbeat, skip); err != nil && !errors.Is(err, r.Context().Err()) {
		h.logger.Warn("sse stream ended", "workflow_id", id, "error", err)
	}
}

// Prompt returns the workflow's pending prompt.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	p, err := h.sys.Prompt(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, p)
}

// Respond submits a human decision for the workflow's pending prompt.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var resp hitl.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil || resp.PromptID == uuid.Nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidInput)
		return
	}

	if err := h.sys.Respond(r.Context(), id, resp); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	inst, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, inst)
}

// Cancel fails a non-terminal workflow with kind Cancelled.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inst, err := h.sys.Cancel(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, inst)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusNotFound, ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}
