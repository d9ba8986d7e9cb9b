package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/service"
	"github.com/E1venking/Kuleli-English-Centre/pkg/response"
)

// TutorHandler exposes the free-form practice conversation endpoints. Say is
// the producer side; GetEvent is the longpolling consumer side of the reply
// queue.
type TutorHandler struct {
	log          zerolog.Logger
	tutorService *service.TutorService
}

// NewTutorHandler creates a new tutor handler.
func NewTutorHandler(log zerolog.Logger, tutorService *service.TutorService) *TutorHandler {
	return &TutorHandler{
		log:          log,
		tutorService: tutorService,
	}
}

// CreateSession handles POST /api/v1/tutor/sessions.
func (h *TutorHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.tutorService.StartSession()
	response.JSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// Say handles POST /api/v1/tutor/sessions/{sessionID}/say. It returns the
// request ID immediately; the reply and analysis arrive on the event queue.
func (h *TutorHandler) Say(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Utterance string `json:"utterance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(w, errors.Validation("invalid request body"))
		return
	}

	requestID, err := h.tutorService.Say(r.Context(), chi.URLParam(r, "sessionID"), req.Utterance)
	if err != nil {
		handleError(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// GetEvent handles GET /api/v1/tutor/events. It blocks until the fast reply
// or the analysis for the request lands, or times out with a 504.
func (h *TutorHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		handleError(w, errors.Validation("request_id is required"))
		return
	}

	event, err := h.tutorService.GetEvent(r.Context(), requestID)
	if err != nil {
		handleError(w, err)
		return
	}
	if event == nil {
		response.Error(w, http.StatusGatewayTimeout, errors.New(errors.ErrTimeout, "no event within timeout"))
		return
	}

	response.JSON(w, http.StatusOK, event)
}

// Transcript handles GET /api/v1/tutor/sessions/{sessionID}/transcript.
func (h *TutorHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	entries, err := h.tutorService.Transcript(chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
