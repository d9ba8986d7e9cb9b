package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/service"
	"github.com/E1venking/Kuleli-English-Centre/pkg/response"
)

// WritingHandler handles essay evaluation.
type WritingHandler struct {
	log            zerolog.Logger
	writingService *service.WritingService
}

// NewWritingHandler creates a new writing handler.
func NewWritingHandler(log zerolog.Logger, writingService *service.WritingService) *WritingHandler {
	return &WritingHandler{
		log:            log,
		writingService: writingService,
	}
}

// Evaluate handles POST /api/v1/writing/evaluate.
func (h *WritingHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task  string `json:"task"`
		Essay string `json:"essay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, errors.Validation("invalid request body"))
		return
	}

	result, err := h.writingService.Evaluate(r.Context(), req.Task, req.Essay)
	if err != nil {
		handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}
