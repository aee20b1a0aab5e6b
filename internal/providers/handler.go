package providers

import (
	"log/slog"
	"net/http"

	"github.com/JaimeStill/compass/pkg/handlers"
	"github.com/JaimeStill/compass/pkg/routes"
)

// Handler exposes provider status.
type Handler struct {
	client *Client
	logger *slog.Logger
}

func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger.With("handler", "providers"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix:  "/providers",
		Tags:    []string{"Providers"},
		Schemas: schemas,
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List, OpenAPI: listOp},
			{Method: "GET", Pattern: "/health", Handler: h.Health, OpenAPI: healthOp},
		},
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, h.client.Providers())
}

type healthReport struct {
	Healthy   int      `json:"healthy"`
	Total     int      `json:"total"`
	Providers []Health `json:"providers"`
}

// Health checks every provider. The status is 503 only when none is healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	results := h.client.Health(r.Context())

	report := healthReport{Total: len(results), Providers: results}
	for _, res := range results {
		if res.Healthy {
			report.Healthy++
		}
	}

	status := http.StatusOK
	if report.Total > 0 && report.Healthy == 0 {
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "no healthy providers", "total", report.Total)
	}
	handlers.RespondJSON(w, status, report)
}
