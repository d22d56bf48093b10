// ABOUTME: Study session lifecycle: single-flight initialization, topic chat, skills
// ABOUTME: The sentinel first message doubles as the initialization lock

package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/realtime"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/strictjson"
)

// SentinelLesson is the placeholder assistant message persisted before lesson
// generation starts. Its presence as a chat's first message is the
// "initialization in progress" lock observed by concurrent callers; no real
// lesson ever begins with this heading.
const SentinelLesson = "# Initializing study materials..."

// maxSourceDocuments caps how many stored documents feed one lesson.
const maxSourceDocuments = 3

// ErrInitializationInProgress reports that another caller holds the
// initialization lock and did not finish within the polling window.
// Maps to HTTP 409.
var ErrInitializationInProgress = errors.New("study session initialization already in progress")

// StudyStore defines what the service needs from storage
type StudyStore interface {
	CreateStudyChat(ctx context.Context, chat *store.StudyChat) error
	GetStudyChat(ctx context.Context, groupID, topic string) (*store.StudyChat, error)
	ListStudyChats(ctx context.Context, groupID string) ([]*store.StudyChat, error)
	AppendStudyMessages(ctx context.Context, chatID string, msgs ...*store.StudyMessage) error
	ClaimStudyChat(ctx context.Context, chatID string, msg *store.StudyMessage) error
	ReplaceStudyMessages(ctx context.Context, chatID string, msgs ...*store.StudyMessage) error
	SetStudyChatQuiz(ctx context.Context, chatID string, quiz *store.Quiz) error
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	ListDocuments(ctx context.Context, groupID string) ([]*store.Document, error)
}

// TurnSubmitter defines what the service needs from the conversation layer
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req *conversation.SubmitRequest) (string, error)
}

// QuizGenerator defines what the service needs from the quiz engine
type QuizGenerator interface {
	Generate(ctx context.Context, agentID, topic string, participants []string) (*store.Quiz, error)
}

// Emitter defines what the service needs from the realtime layer
type Emitter interface {
	Emit(room string, event realtime.Event)
}

// Service coordinates per-topic study sessions: lesson initialization with
// single-flight semantics, the topic chat, and score aggregation.
type Service struct {
	store         StudyStore
	conversations TurnSubmitter
	quizzes       QuizGenerator
	emitter       Emitter
	pollRetries   int
	pollInterval  time.Duration
	logger        *slog.Logger
}

// New creates a study Service. pollRetries and pollInterval bound how long a
// concurrent caller waits for an in-flight initialization before conflicting.
func New(st StudyStore, conversations TurnSubmitter, quizzes QuizGenerator, emitter Emitter, pollRetries int, pollInterval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pollRetries <= 0 {
		pollRetries = 5
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Service{
		store:         st,
		conversations: conversations,
		quizzes:       quizzes,
		emitter:       emitter,
		pollRetries:   pollRetries,
		pollInterval:  pollInterval,
		logger:        logger.With("component", "study"),
	}
}

// InitializeResult reports the outcome of an initialization call.
type InitializeResult struct {
	Chat               *store.StudyChat
	AlreadyInitialized bool
}

// StudyAgentID returns the agent ID for one group's study session on one
// topic. Each topic gets its own conversation, so lessons and quizzes never
// accumulate inside another topic's history.
func StudyAgentID(groupID, topic string) string { return "study_" + groupID + "_" + topic }

// CurriculumAgentID returns the topic-independent agent ID used when deriving
// lesson plans from uploaded documents.
func CurriculumAgentID(groupID string) string { return "study_" + groupID }

// Initialize establishes the study session for (groupID, topic): exactly one
// caller generates the lesson and quiz, concurrent callers either wait for
// that result or conflict.
//
// The lock is the persisted sentinel first message. A chat with real content
// short-circuits as already initialized; a chat whose first message is the
// sentinel means another caller is mid-flight, so this caller polls a bounded
// number of times and then fails with ErrInitializationInProgress.
func (s *Service) Initialize(ctx context.Context, groupID, topic string) (*InitializeResult, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	chat, err := s.store.GetStudyChat(ctx, groupID, topic)
	switch {
	case err == nil:
		if len(chat.Messages) > 0 {
			if isSentinel(chat.Messages[0]) {
				return s.awaitInitializer(ctx, groupID, topic)
			}
			return &InitializeResult{Chat: chat, AlreadyInitialized: true}, nil
		}
		// Empty chat from an earlier plain chat interaction: claim it. The
		// claim is conditional on the chat still being empty, so a rival
		// claimant racing through the same window loses cleanly.
		if err := s.store.ClaimStudyChat(ctx, chat.ID, sentinelMessage(chat.ID)); err != nil {
			if errors.Is(err, store.ErrStudyChatNotEmpty) {
				return s.awaitInitializer(ctx, groupID, topic)
			}
			return nil, fmt.Errorf("persisting initialization lock: %w", err)
		}

	case errors.Is(err, store.ErrNotFound):
		chat = &store.StudyChat{
			ID:        uuid.New().String(),
			GroupID:   groupID,
			Topic:     topic,
			AIContext: seedContext(group, topic),
			Messages:  []store.StudyMessage{*sentinelMessage("")},
		}
		chat.Messages[0].ChatID = chat.ID
		if err := s.store.CreateStudyChat(ctx, chat); err != nil {
			if errors.Is(err, store.ErrDuplicateStudyChat) {
				// Lost the creation race: the winner holds the lock.
				return s.awaitInitializer(ctx, groupID, topic)
			}
			return nil, err
		}

	default:
		return nil, err
	}

	return s.runInitialization(ctx, group, chat, topic)
}

// awaitInitializer polls for the in-flight initializer's result.
func (s *Service) awaitInitializer(ctx context.Context, groupID, topic string) (*InitializeResult, error) {
	s.logger.Debug("initialization lock observed, polling",
		"group_id", groupID,
		"topic", topic)

	for attempt := 0; attempt < s.pollRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		chat, err := s.store.GetStudyChat(ctx, groupID, topic)
		if err != nil {
			return nil, err
		}
		if len(chat.Messages) > 0 && !isSentinel(chat.Messages[0]) {
			return &InitializeResult{Chat: chat, AlreadyInitialized: true}, nil
		}
	}

	return nil, ErrInitializationInProgress
}

// runInitialization is the initializer's path: the sentinel is already
// durable, so concurrent callers are held off while the provider works.
// A provider failure here leaves the sentinel in place; later callers
// surface the conflict and the whole operation must be retried.
func (s *Service) runInitialization(ctx context.Context, group *store.Group, chat *store.StudyChat, topic string) (*InitializeResult, error) {
	agentID := StudyAgentID(group.ID, topic)

	parts, err := s.sourceDocumentParts(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	members := memberNames(group)
	parts = append(parts, store.Part{
		Text: seedContext(group, topic) + fmt.Sprintf("\n\nPlease provide a detailed lesson about %q, drawing on the attached study materials where they are relevant. Format the lesson in Markdown.", topic),
	})

	lesson, err := s.conversations.SubmitTurn(ctx, &conversation.SubmitRequest{
		AgentID:      agentID,
		ScopeType:    "study",
		ScopeID:      group.ID,
		Participants: members,
		SenderName:   "system",
		Parts:        parts,
	})
	if err != nil {
		return nil, fmt.Errorf("lesson generation failed: %w", err)
	}

	// The real lesson replaces the sentinel; from here on other callers see
	// an initialized chat.
	lessonMsg := &store.StudyMessage{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Author:    store.Assistant(),
		Content:   lesson,
		CreatedAt: time.Now(),
	}
	if err := s.store.ReplaceStudyMessages(ctx, chat.ID, lessonMsg); err != nil {
		return nil, fmt.Errorf("persisting lesson: %w", err)
	}

	quiz, err := s.quizzes.Generate(ctx, agentID, topic, members)
	if err != nil {
		var parseErr *strictjson.ParseError
		if !errors.As(err, &parseErr) {
			return nil, err
		}
		// An unusable quiz never discards a good lesson.
		s.logger.Warn("quiz generation unparseable, keeping lesson without quiz",
			"group_id", group.ID,
			"topic", topic,
			"error", err)
		quiz = nil
	}
	if quiz != nil {
		if err := s.store.SetStudyChatQuiz(ctx, chat.ID, quiz); err != nil {
			return nil, fmt.Errorf("persisting quiz: %w", err)
		}
	}

	final, err := s.store.GetStudyChat(ctx, group.ID, topic)
	if err != nil {
		return nil, err
	}

	s.logger.Info("study session initialized",
		"group_id", group.ID,
		"topic", topic,
		"has_quiz", final.Quiz != nil)

	return &InitializeResult{Chat: final}, nil
}

// sourceDocumentParts loads up to maxSourceDocuments of the group's stored
// documents, oldest first, as blob-referenced parts. The conversation layer
// resolves the references on submission.
func (s *Service) sourceDocumentParts(ctx context.Context, groupID string) ([]store.Part, error) {
	docs, err := s.store.ListDocuments(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(docs) > maxSourceDocuments {
		docs = docs[:maxSourceDocuments]
	}

	parts := make([]store.Part, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, store.Part{InlineData: &store.InlineData{
			MimeType: doc.ContentType,
			BlobRef:  doc.BlobRef,
		}})
	}
	return parts, nil
}

// Chat submits one user message to a topic's study chat and returns the newly
// appended messages. Only the new messages are emitted to the topic room,
// never a full replay.
func (s *Service) Chat(ctx context.Context, groupID, topic, userID, content string) ([]*store.StudyMessage, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	chat, err := s.store.GetStudyChat(ctx, groupID, topic)
	if errors.Is(err, store.ErrNotFound) {
		chat = &store.StudyChat{
			ID:        uuid.New().String(),
			GroupID:   groupID,
			Topic:     topic,
			AIContext: seedContext(group, topic),
		}
		if createErr := s.store.CreateStudyChat(ctx, chat); createErr != nil {
			if !errors.Is(createErr, store.ErrDuplicateStudyChat) {
				return nil, createErr
			}
			chat, err = s.store.GetStudyChat(ctx, groupID, topic)
			if err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	userMsg := &store.StudyMessage{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Author:    store.Human(userID),
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendStudyMessages(ctx, chat.ID, userMsg); err != nil {
		return nil, err
	}

	reply, err := s.conversations.SubmitTurn(ctx, &conversation.SubmitRequest{
		AgentID:      StudyAgentID(groupID, topic),
		ScopeType:    "study",
		ScopeID:      groupID,
		Participants: memberNames(group),
		SenderName:   senderName(group, userID),
		Prompt:       content,
	})
	if err != nil {
		// The user's message is durable; the room still learns about it.
		s.emitNewMessages(groupID, topic, group, userMsg)
		return nil, err
	}

	assistantMsg := &store.StudyMessage{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Author:    store.Assistant(),
		Content:   reply,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendStudyMessages(ctx, chat.ID, assistantMsg); err != nil {
		return nil, err
	}

	s.emitNewMessages(groupID, topic, group, userMsg, assistantMsg)
	return []*store.StudyMessage{userMsg, assistantMsg}, nil
}

// History returns the chat for (groupID, topic), or an empty chat shell when
// none exists yet.
func (s *Service) History(ctx context.Context, groupID, topic string) (*store.StudyChat, error) {
	chat, err := s.store.GetStudyChat(ctx, groupID, topic)
	if errors.Is(err, store.ErrNotFound) {
		return &store.StudyChat{GroupID: groupID, Topic: topic}, nil
	}
	return chat, err
}

// UserScore is one member's current score on one topic's quiz.
type UserScore struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}

// TopicSkills aggregates quiz scores for one topic.
type TopicSkills struct {
	Topic  string      `json:"topic"`
	Scores []UserScore `json:"scores"`
}

// SkillsMetrics reports the current quiz-score snapshot across every topic in
// the group, grouped by topic then user. Only the latest response per user
// exists (retakes overwrite), so this is a point-in-time view with no history.
func (s *Service) SkillsMetrics(ctx context.Context, groupID string) ([]TopicSkills, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	chats, err := s.store.ListStudyChats(ctx, groupID)
	if err != nil {
		return nil, err
	}

	metrics := make([]TopicSkills, 0, len(chats))
	for _, chat := range chats {
		if chat.Quiz == nil || len(chat.Quiz.Responses) == 0 {
			continue
		}
		topic := TopicSkills{Topic: chat.Topic, Scores: make([]UserScore, 0, len(chat.Quiz.Responses))}
		for _, resp := range chat.Quiz.Responses {
			topic.Scores = append(topic.Scores, UserScore{
				UserID: resp.UserID,
				Name:   senderName(group, resp.UserID),
				Score:  resp.Score,
			})
		}
		metrics = append(metrics, topic)
	}
	return metrics, nil
}

func (s *Service) emitNewMessages(groupID, topic string, group *store.Group, msgs ...*store.StudyMessage) {
	payload := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]any{
			"role":      string(m.Author.Kind),
			"content":   m.Content,
			"timestamp": m.CreatedAt,
		}
		if m.Author.Kind == store.AuthorHuman {
			entry["sender"] = map[string]any{
				"id":   m.Author.UserID,
				"name": senderName(group, m.Author.UserID),
			}
		}
		payload = append(payload, entry)
	}
	s.emitter.Emit(realtime.StudyRoom(groupID, topic), realtime.Event{
		Name: "newStudyChatMessages",
		Data: payload,
	})
}

func sentinelMessage(chatID string) *store.StudyMessage {
	return &store.StudyMessage{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Author:    store.Assistant(),
		Content:   SentinelLesson,
		CreatedAt: time.Now(),
	}
}

func isSentinel(msg store.StudyMessage) bool {
	return msg.Author.Kind == store.AuthorAssistant && strings.HasPrefix(msg.Content, SentinelLesson)
}

// seedContext builds the per-topic assistant context naming the members.
func seedContext(group *store.Group, topic string) string {
	return fmt.Sprintf(
		"You are a study assistant for the group %q, currently focused on the topic %q. The group members are: %s. Help them understand the topic using the uploaded study materials and the generated lesson.",
		group.Name, topic, strings.Join(memberNames(group), ", "))
}

func memberNames(group *store.Group) []string {
	names := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		names = append(names, m.Name)
	}
	return names
}

func senderName(group *store.Group, userID string) string {
	for _, m := range group.Members {
		if m.ID == userID {
			return m.Name
		}
	}
	return userID
}
