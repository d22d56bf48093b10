// ABOUTME: HTTP handler base, response helpers, and error status mapping
// ABOUTME: Every route shares the JSON/Error helpers and the domain error taxonomy

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/group"
	"github.com/nexuschat/nexus/internal/quiz"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/study"
)

// Handler carries the services every route group draws on.
type Handler struct {
	groups  *group.Service
	study   *study.Service
	quizzes *quiz.Engine
	logger  *slog.Logger
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(groups *group.Service, studySvc *study.Service, quizzes *quiz.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		groups:  groups,
		study:   studySvc,
		quizzes: quizzes,
		logger:  logger.With("component", "api"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps a domain error onto its HTTP status and writes it out.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, study.ErrInitializationInProgress):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, group.ErrNotAdmin):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrProvider):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
