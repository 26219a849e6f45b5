package httpd

import (
	"net/http"

	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) StartAssessment(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())

	var req models.StartAssessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	attempt, err := h.assessmentService.StartAssessment(r.Context(), identity.UserID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) SubmitAssessment(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())

	var req models.SubmitAssessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := uuid.Parse(req.AttemptID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid attemptId format")
		return
	}

	attempt, err := h.assessmentService.SubmitAssessment(r.Context(), identity.UserID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.assessmentService.ExecuteCode(r.Context(), &req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Code execution failed")
		writeError(w, http.StatusInternalServerError, "Execution failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) LogIntegrity(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())

	var req models.LogIntegrityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := uuid.Parse(req.AttemptID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid attemptId format")
		return
	}

	resp, err := h.assessmentService.LogIntegrity(r.Context(), identity.UserID, &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(attemptID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid attempt ID format")
		return
	}

	attempt, err := h.assessmentService.GetAttempt(r.Context(), IdentityFrom(r.Context()), attemptID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attempt)
}
