// ABOUTME: Study session endpoints: initialization, topic chat, history, quiz submission
// ABOUTME: A lost initialization race surfaces as HTTP 409 so clients retry later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexuschat/nexus/internal/identity"
)

// RegisterStudyRoutes registers the study session route tree.
func (h *Handler) RegisterStudyRoutes(r chi.Router) {
	r.Route("/api/study", func(r chi.Router) {
		r.Post("/initialize", h.InitializeStudySession)
		r.Post("/chat", h.StudyChat)
		r.Get("/history", h.StudyHistory)
		r.Post("/quiz", h.SubmitQuiz)
	})
}

type studySessionRequest struct {
	GroupID string `json:"groupId"`
	Topic   string `json:"topic"`
}

func (req *studySessionRequest) validate(w http.ResponseWriter) bool {
	if req.GroupID == "" || req.Topic == "" {
		Error(w, http.StatusBadRequest, "groupId and topic are required")
		return false
	}
	return true
}

// InitializeStudySession builds (or returns) the lesson and quiz for a topic.
func (h *Handler) InitializeStudySession(w http.ResponseWriter, r *http.Request) {
	var req studySessionRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.validate(w) {
		return
	}

	res, err := h.study.Initialize(r.Context(), req.GroupID, req.Topic)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"initialized": !res.AlreadyInitialized,
		"chat":        res.Chat,
	})
}

type studyChatRequest struct {
	studySessionRequest
	Message string `json:"message"`
}

// StudyChat submits one message to a topic's study chat.
func (h *Handler) StudyChat(w http.ResponseWriter, r *http.Request) {
	var req studyChatRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.validate(w) {
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	msgs, err := h.study.Chat(r.Context(), req.GroupID, req.Topic, identity.UserIDFromContext(r.Context()), req.Message)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// StudyHistory returns a topic's chat, empty if none exists yet.
func (h *Handler) StudyHistory(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("groupId")
	topic := r.URL.Query().Get("topic")
	if groupID == "" || topic == "" {
		Error(w, http.StatusBadRequest, "groupId and topic are required")
		return
	}

	chat, err := h.study.History(r.Context(), groupID, topic)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, chat)
}

type submitQuizRequest struct {
	studySessionRequest
	Answers []int `json:"answers"`
}

// SubmitQuiz records the caller's quiz answers and returns the score.
func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req submitQuizRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.validate(w) {
		return
	}

	res, err := h.quizzes.RecordResponse(r.Context(), req.GroupID, req.Topic, identity.UserIDFromContext(r.Context()), req.Answers)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
