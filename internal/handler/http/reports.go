package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/middleware"
	"github.com/E1venking/Kuleli-English-Centre/internal/repository"
	"github.com/E1venking/Kuleli-English-Centre/pkg/response"
)

// ReportsHandler serves archived exam reports from Postgres.
type ReportsHandler struct {
	log     zerolog.Logger
	reports repository.ReportRepository
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(log zerolog.Logger, reports repository.ReportRepository) *ReportsHandler {
	return &ReportsHandler{
		log:     log,
		reports: reports,
	}
}

// List handles GET /api/v1/reports. Returns the authenticated user's
// archived reports, newest first.
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(middleware.GetUserID(r.Context()))
	if err != nil {
		handleError(w, errors.Unauthorized("invalid user identity"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.reports.ListByUser(r.Context(), userID, limit)
	if err != nil {
		handleError(w, errors.Wrap(errors.ErrDatabase, "failed to list reports", err))
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"reports": rows})
}

// GetBySession handles GET /api/v1/reports/{sessionID}.
func (h *ReportsHandler) GetBySession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, errors.Validation("invalid session id"))
		return
	}

	row, err := h.reports.GetBySession(r.Context(), sessionID)
	if err != nil {
		handleError(w, errors.Wrap(errors.ErrDatabase, "failed to get report", err))
		return
	}
	if row == nil {
		handleError(w, errors.NotFound("exam report"))
		return
	}

	response.JSON(w, http.StatusOK, row)
}
