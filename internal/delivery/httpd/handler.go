package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	assessmentService service.AssessmentService
	jwtSecret         []byte
	logger            zerolog.Logger
}

func NewHandler(assessmentService service.AssessmentService, jwtSecret string, logger zerolog.Logger) *Handler {
	return &Handler{
		assessmentService: assessmentService,
		jwtSecret:         []byte(jwtSecret),
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/api/assessments", func(r chi.Router) {
		r.Use(Authenticate(h.jwtSecret, h.logger))

		r.Post("/start", h.StartAssessment)
		r.Post("/submit", h.SubmitAssessment)
		r.Post("/execute", h.ExecuteCode)
		r.Post("/log-integrity", h.LogIntegrity)
		r.Get("/{id}", h.GetAttempt)
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "assessment-service",
		"timestamp": time.Now().UTC(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError keeps the {"message": ...} shape the web client reads.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotApplied):
		writeError(w, http.StatusBadRequest, "You must apply first")
	case errors.Is(err, service.ErrInvalidEventType), errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotAttemptOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "Attempt not found")
	case errors.Is(err, service.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Service error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
