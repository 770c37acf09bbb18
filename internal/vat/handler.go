package vat

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arden-pm/arden-pm/internal/platform/httpx"
)

// Handler exposes the internal trigger endpoints used by the external cron
// and by deterministic test runs.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the automation trigger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transitions/run", h.runTransitions)
	r.Post("/quarter-creation/run", h.runQuarterCreation)
}

func (h *Handler) runTransitions(w http.ResponseWriter, r *http.Request) {
	autoAssign := r.URL.Query().Get("autoAssign") == "true"

	run, err := h.service.CheckTransitions(r.Context())
	if err != nil {
		h.logger.Error("transition run failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	response := map[string]any{"transitions": run}
	if autoAssign {
		assign, err := h.service.AutoAssign(r.Context())
		if err != nil {
			h.logger.Error("auto-assign run failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		response["assignments"] = assign
	}
	httpx.JSON(w, http.StatusOK, response)
}

func (h *Handler) runQuarterCreation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	skipEmails := query.Get("skipEmails") == "true"

	ref := h.service.cal.Now()
	if raw := query.Get("simulatedDate"); raw != "" {
		// Parsed in the business timezone so the civil day survives the
		// calendar conversion inside the creation pass.
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.service.cal.Location())
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "simulatedDate must be YYYY-MM-DD")
			return
		}
		ref = parsed
	}

	run, err := h.service.CreateQuarters(r.Context(), ref, skipEmails)
	if err != nil {
		h.logger.Error("quarter creation run failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}
