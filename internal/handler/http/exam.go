package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/middleware"
	"github.com/E1venking/Kuleli-English-Centre/internal/service"
	"github.com/E1venking/Kuleli-English-Centre/pkg/response"
)

// maxAudioChunk bounds one uploaded recording chunk.
const maxAudioChunk = 5 << 20

// ExamHandler exposes the exam session lifecycle over REST. Each endpoint is
// one event into the session's state machine; invalid transitions come back
// as 409s.
type ExamHandler struct {
	log         zerolog.Logger
	examService *service.ExamService
}

// NewExamHandler creates a new exam handler.
func NewExamHandler(log zerolog.Logger, examService *service.ExamService) *ExamHandler {
	return &ExamHandler{
		log:         log,
		examService: examService,
	}
}

// CreateSession handles POST /api/v1/exam/sessions.
func (h *ExamHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(middleware.GetUserID(r.Context()))
	if err != nil {
		handleError(w, errors.Unauthorized("invalid user identity"))
		return
	}

	sess := h.examService.CreateSession(userID)
	response.JSON(w, http.StatusCreated, map[string]interface{}{
		"session":  sess,
		"snapshot": mustSnapshot(h.examService, sess.ID),
	})
}

// GetSession handles GET /api/v1/exam/sessions/{sessionID}.
func (h *ExamHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	snap, err := h.examService.Snapshot(id)
	if err != nil {
		handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, snap)
}

// Start handles POST /api/v1/exam/sessions/{sessionID}/start.
func (h *ExamHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.Start(r.Context(), id)
	})
}

// PlaybackFinished handles POST /api/v1/exam/sessions/{sessionID}/playback-finished.
func (h *ExamHandler) PlaybackFinished(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.PlaybackFinished(r.Context(), id)
	})
}

// BeginSpeaking handles POST /api/v1/exam/sessions/{sessionID}/begin-speaking.
func (h *ExamHandler) BeginSpeaking(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.BeginSpeaking(r.Context(), id)
	})
}

// AppendAudio handles POST /api/v1/exam/sessions/{sessionID}/audio. The body
// is one raw chunk of the active recording.
func (h *ExamHandler) AppendAudio(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxAudioChunk))
	if err != nil {
		handleError(w, errors.Validation("failed to read audio chunk"))
		return
	}
	if len(chunk) == 0 {
		handleError(w, errors.Validation("empty audio chunk"))
		return
	}

	if err := h.examService.AppendAudio(id, chunk); err != nil {
		handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"bytes": len(chunk)})
}

// StopSpeaking handles POST /api/v1/exam/sessions/{sessionID}/stop-speaking.
func (h *ExamHandler) StopSpeaking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Finish bool `json:"finish"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handleError(w, errors.Validation("invalid request body"))
			return
		}
	}

	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.StopSpeaking(id, req.Finish)
	})
}

// Skip handles POST /api/v1/exam/sessions/{sessionID}/skip.
func (h *ExamHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.Skip(id)
	})
}

// Finish handles POST /api/v1/exam/sessions/{sessionID}/finish.
func (h *ExamHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.Finish(id)
	})
}

// NextPart handles POST /api/v1/exam/sessions/{sessionID}/next-part.
func (h *ExamHandler) NextPart(w http.ResponseWriter, r *http.Request) {
	h.event(w, r, func(id uuid.UUID) (interface{}, error) {
		return h.examService.NextPart(id)
	})
}

// Report handles GET /api/v1/exam/sessions/{sessionID}/report.
func (h *ExamHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	rep, err := h.examService.Report(id)
	if err != nil {
		handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rep)
}

// CloseSession handles DELETE /api/v1/exam/sessions/{sessionID}.
func (h *ExamHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	h.examService.CloseSession(id)
	response.JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *ExamHandler) event(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (interface{}, error)) {
	id, err := sessionID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	result, err := fn(id)
	if err != nil {
		handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		return uuid.Nil, errors.Validation("invalid session id")
	}
	return id, nil
}

func mustSnapshot(svc *service.ExamService, id uuid.UUID) interface{} {
	snap, err := svc.Snapshot(id)
	if err != nil {
		return nil
	}
	return snap
}
