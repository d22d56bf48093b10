// ABOUTME: Quiz generation and response scoring for study tracks
// ABOUTME: Generates fixed-shape multiple-choice quizzes and records per-user scores

package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/realtime"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/strictjson"
)

const questionCount = 5

// TurnSubmitter defines what the engine needs from the conversation layer
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req *conversation.SubmitRequest) (string, error)
}

// QuizStore defines what the engine needs from storage
type QuizStore interface {
	GetStudyChat(ctx context.Context, groupID, topic string) (*store.StudyChat, error)
	SetStudyChatQuiz(ctx context.Context, chatID string, quiz *store.Quiz) error
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListDocuments(ctx context.Context, groupID string) ([]*store.Document, error)
}

// Emitter defines what the engine needs from the realtime layer
type Emitter interface {
	Emit(room string, event realtime.Event)
}

// Engine generates quizzes through the study agent's conversation and scores
// submitted responses.
type Engine struct {
	store         QuizStore
	conversations TurnSubmitter
	emitter       Emitter
	logger        *slog.Logger
}

// NewEngine creates a quiz Engine.
func NewEngine(st QuizStore, conversations TurnSubmitter, emitter Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         st,
		conversations: conversations,
		emitter:       emitter,
		logger:        logger.With("component", "quiz"),
	}
}

const generatePrompt = `Based on the study material and lesson above, create a quiz of exactly 5 multiple-choice questions. Respond with strict JSON only, no surrounding prose or markdown fences, in this exact shape:

{"questions": [{"question": "<question text>", "options": ["<a>", "<b>", "<c>", "<d>"], "correct": <0-based index of the right option>, "explanation": "<why that option is correct>"}]}

Every question must have exactly 4 options. The questions should test understanding of the material, not trivia about its formatting.`

// Generate submits the fixed quiz prompt through the given agent's
// conversation and parses the reply. Parse failures are reported to the
// caller, never converted to an empty quiz.
func (e *Engine) Generate(ctx context.Context, agentID, topic string, participants []string) (*store.Quiz, error) {
	reply, err := e.conversations.SubmitTurn(ctx, &conversation.SubmitRequest{
		AgentID:      agentID,
		SenderName:   "system",
		Participants: participants,
		Prompt:       fmt.Sprintf("The quiz topic is %q. %s", topic, generatePrompt),
	})
	if err != nil {
		return nil, fmt.Errorf("quiz generation failed: %w", err)
	}

	var quiz store.Quiz
	if err := strictjson.Unmarshal(reply, &quiz); err != nil {
		return nil, fmt.Errorf("unparseable quiz: %w", err)
	}
	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("quiz has no questions")
	}
	if len(quiz.Questions) > questionCount {
		quiz.Questions = quiz.Questions[:questionCount]
	}

	e.logger.Debug("quiz generated", "topic", topic, "questions", len(quiz.Questions))
	return &quiz, nil
}

// Result reports one scored submission.
type Result struct {
	Score        int `json:"score"`
	CorrectCount int `json:"correctCount"`
}

// RecordResponse scores a user's answers against the topic's quiz, overwrites
// any previous response from the same user, persists, and then emits a
// quizCompleted event to the whole group room. The emit happens only after
// the persist succeeds.
//
// Answer positions the user did not provide count as incorrect.
func (e *Engine) RecordResponse(ctx context.Context, groupID, topic, userID string, answers []int) (*Result, error) {
	chat, err := e.store.GetStudyChat(ctx, groupID, topic)
	if err != nil {
		return nil, err
	}
	if chat.Quiz == nil || len(chat.Quiz.Questions) == 0 {
		return nil, fmt.Errorf("no quiz exists for topic %q", topic)
	}

	correct := Score(chat.Quiz.Questions, answers)
	score := int(math.Round(100 * float64(correct) / float64(len(chat.Quiz.Questions))))

	// Retakes overwrite: drop any prior response from this user.
	responses := chat.Quiz.Responses[:0]
	for _, r := range chat.Quiz.Responses {
		if r.UserID != userID {
			responses = append(responses, r)
		}
	}
	chat.Quiz.Responses = append(responses, store.QuizResponse{
		UserID:    userID,
		Answers:   answers,
		Completed: true,
		Score:     score,
	})

	if err := e.store.SetStudyChatQuiz(ctx, chat.ID, chat.Quiz); err != nil {
		return nil, fmt.Errorf("persisting quiz response: %w", err)
	}

	e.emitCompleted(ctx, groupID, topic, userID, score)
	e.notifyGroupAgent(ctx, groupID, topic, userID, score, correct, len(chat.Quiz.Questions))

	return &Result{Score: score, CorrectCount: correct}, nil
}

// Score counts the positions where the answer matches the question's correct
// index. Positions beyond len(answers) are incorrect, never an error.
func Score(questions []store.QuizQuestion, answers []int) int {
	correct := 0
	for i, q := range questions {
		if i < len(answers) && answers[i] == q.Correct {
			correct++
		}
	}
	return correct
}

func (e *Engine) emitCompleted(ctx context.Context, groupID, topic, userID string, score int) {
	payload := map[string]any{
		"topic": topic,
		"score": score,
		"user":  map[string]any{"id": userID},
	}
	if user, err := e.store.GetUser(ctx, userID); err == nil {
		payload["user"] = map[string]any{
			"id":         user.ID,
			"name":       user.Name,
			"profilePic": user.ProfilePic,
		}
	}
	e.emitter.Emit(realtime.GroupRoom(groupID), realtime.Event{Name: "quizCompleted", Data: payload})
}

// notifyGroupAgent feeds a system-authored score summary, together with the
// source documents the quiz was based on, back into the group's general agent
// so later chat turns can reference quiz performance. Best-effort: failure
// never fails the recording.
func (e *Engine) notifyGroupAgent(ctx context.Context, groupID, topic, userID string, score, correct, total int) {
	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil || group.AgentID == "" {
		return
	}

	name := userID
	if user, err := e.store.GetUser(ctx, userID); err == nil && user.Name != "" {
		name = user.Name
	}

	var parts []store.Part
	var b strings.Builder
	fmt.Fprintf(&b, "%s completed the %q quiz with a score of %d (%d of %d correct).", name, topic, score, correct, total)
	if docs, err := e.store.ListDocuments(ctx, groupID); err == nil && len(docs) > 0 {
		names := make([]string, 0, len(docs))
		for _, d := range docs {
			names = append(names, d.Filename)
			parts = append(parts, store.Part{InlineData: &store.InlineData{
				MimeType: d.ContentType,
				BlobRef:  d.BlobRef,
			}})
		}
		fmt.Fprintf(&b, " The quiz was based on the attached materials: %s.", strings.Join(names, ", "))
	}
	parts = append(parts, store.Part{Text: b.String()})

	if _, err := e.conversations.SubmitTurn(ctx, &conversation.SubmitRequest{
		AgentID:    group.AgentID,
		ScopeType:  "group",
		ScopeID:    groupID,
		SenderName: "system",
		Parts:      parts,
	}); err != nil {
		e.logger.Warn("quiz summary notification failed",
			"group_id", groupID,
			"topic", topic,
			"error", err)
	}
}
