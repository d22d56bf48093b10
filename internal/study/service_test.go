// ABOUTME: Tests for study session initialization, chat, and skills aggregation
// ABOUTME: Verifies single-flight locking, sentinel polling, and quiz recovery

package study

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/realtime"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/strictjson"
)

type mockSubmitter struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	calls    atomic.Int32
	requests []*conversation.SubmitRequest
}

func (m *mockSubmitter) SubmitTurn(ctx context.Context, req *conversation.SubmitRequest) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type mockQuizzes struct {
	quiz  *store.Quiz
	err   error
	calls atomic.Int32
}

func (m *mockQuizzes) Generate(ctx context.Context, agentID, topic string, participants []string) (*store.Quiz, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.quiz, nil
}

type mockEmitter struct {
	mu     sync.Mutex
	rooms  []string
	events []realtime.Event
}

func (m *mockEmitter) Emit(room string, event realtime.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, room)
	m.events = append(m.events, event)
}

func (m *mockEmitter) all() []realtime.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]realtime.Event(nil), m.events...)
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGroup(t *testing.T, st *store.SQLiteStore) *store.Group {
	t.Helper()
	ctx := context.Background()

	for _, u := range []*store.User{
		{ID: "u1", Name: "John", Email: "john@example.com"},
		{ID: "u2", Name: "Mary", Email: "mary@example.com"},
	} {
		require.NoError(t, st.CreateUser(ctx, u))
	}

	group := &store.Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}
	require.NoError(t, st.CreateGroup(ctx, group, []string{"u1", "u2"}))

	loaded, err := st.GetGroup(ctx, "g1")
	require.NoError(t, err)
	return loaded
}

func sampleQuiz() *store.Quiz {
	return &store.Quiz{Questions: []store.QuizQuestion{
		{Question: "q1", Options: []string{"a", "b", "c", "d"}, Correct: 0},
	}}
}

func newService(st StudyStore, sub TurnSubmitter, quizzes QuizGenerator, em Emitter) *Service {
	return New(st, sub, quizzes, em, 5, 10*time.Millisecond, nil)
}

func TestInitialize_GeneratesLessonAndQuiz(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "# Calculus Lesson\n\nLimits first."}
	quizzes := &mockQuizzes{quiz: sampleQuiz()}
	svc := newService(st, sub, quizzes, &mockEmitter{})

	ctx := context.Background()
	res, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	assert.False(t, res.AlreadyInitialized)
	require.Len(t, res.Chat.Messages, 1)
	assert.Equal(t, store.AuthorAssistant, res.Chat.Messages[0].Author.Kind)
	assert.Equal(t, "# Calculus Lesson\n\nLimits first.", res.Chat.Messages[0].Content)
	require.NotNil(t, res.Chat.Quiz)
	assert.Len(t, res.Chat.Quiz.Questions, 1)

	// The lesson request went to the topic's own agent, named the members,
	// and carried the topic.
	require.Equal(t, int32(1), sub.calls.Load())
	req := sub.requests[0]
	assert.Equal(t, "study_g1_calculus", req.AgentID)
	assert.Equal(t, []string{"John", "Mary"}, req.Participants)
	require.NotEmpty(t, req.Parts)
	assert.Contains(t, req.Parts[len(req.Parts)-1].Text, `"calculus"`)
}

func TestInitialize_TopicsGetSeparateAgents(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "lesson"}
	svc := newService(st, sub, &mockQuizzes{quiz: sampleQuiz()}, &mockEmitter{})

	ctx := context.Background()
	_, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)
	_, err = svc.Initialize(ctx, "g1", "algebra")
	require.NoError(t, err)

	require.Len(t, sub.requests, 2)
	assert.Equal(t, "study_g1_calculus", sub.requests[0].AgentID)
	assert.Equal(t, "study_g1_algebra", sub.requests[1].AgentID)
}

func TestInitialize_AttachesAtMostThreeOldestDocuments(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	ctx := context.Background()

	for i, id := range []string{"d1", "d2", "d3", "d4"} {
		require.NoError(t, st.SaveDocument(ctx, &store.Document{
			ID:          id,
			GroupID:     "g1",
			Filename:    id + ".pdf",
			ContentType: "application/pdf",
			BlobRef:     "blob-" + id,
			UploadedBy:  "u1",
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	sub := &mockSubmitter{reply: "lesson"}
	svc := newService(st, sub, &mockQuizzes{quiz: sampleQuiz()}, &mockEmitter{})

	_, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	req := sub.requests[0]
	// Three document parts plus the instruction text.
	require.Len(t, req.Parts, 4)
	assert.Equal(t, "blob-d1", req.Parts[0].InlineData.BlobRef)
	assert.Equal(t, "blob-d2", req.Parts[1].InlineData.BlobRef)
	assert.Equal(t, "blob-d3", req.Parts[2].InlineData.BlobRef)
}

func TestInitialize_IdempotentShortCircuit(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "lesson"}
	quizzes := &mockQuizzes{quiz: sampleQuiz()}
	svc := newService(st, sub, quizzes, &mockEmitter{})

	ctx := context.Background()
	_, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	res, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	assert.True(t, res.AlreadyInitialized)
	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Equal(t, int32(1), quizzes.calls.Load())
}

func TestInitialize_QuizParseFailureKeepsLesson(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "lesson"}
	quizzes := &mockQuizzes{err: &strictjson.ParseError{Raw: "not json", Err: errors.New("bad")}}
	svc := newService(st, sub, quizzes, &mockEmitter{})

	res, err := svc.Initialize(context.Background(), "g1", "calculus")
	require.NoError(t, err)

	require.Len(t, res.Chat.Messages, 1)
	assert.Equal(t, "lesson", res.Chat.Messages[0].Content)
	assert.Nil(t, res.Chat.Quiz)
}

func TestInitialize_LessonFailureLeavesSentinel(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{err: errors.New("provider down")}
	svc := newService(st, sub, &mockQuizzes{}, &mockEmitter{})

	ctx := context.Background()
	_, err := svc.Initialize(ctx, "g1", "calculus")
	require.Error(t, err)

	// The sentinel stays; a later caller's polling surfaces the conflict.
	chat, err := st.GetStudyChat(ctx, "g1", "calculus")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, SentinelLesson, chat.Messages[0].Content)

	_, err = svc.Initialize(ctx, "g1", "calculus")
	assert.ErrorIs(t, err, ErrInitializationInProgress)
}

func TestInitialize_PollingPicksUpFinishedResult(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	svc := newService(st, &mockSubmitter{}, &mockQuizzes{}, &mockEmitter{})

	ctx := context.Background()

	// Simulate an in-flight initializer: sentinel persisted, result landing
	// while the second caller polls.
	chat := &store.StudyChat{ID: "sc1", GroupID: "g1", Topic: "calculus"}
	require.NoError(t, st.CreateStudyChat(ctx, chat))
	require.NoError(t, st.AppendStudyMessages(ctx, "sc1", &store.StudyMessage{
		ID: "m1", ChatID: "sc1", Author: store.Assistant(), Content: SentinelLesson, CreatedAt: time.Now(),
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.ReplaceStudyMessages(ctx, "sc1", &store.StudyMessage{
			ID: "m2", ChatID: "sc1", Author: store.Assistant(), Content: "real lesson", CreatedAt: time.Now(),
		})
	}()

	res, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	assert.True(t, res.AlreadyInitialized)
	require.Len(t, res.Chat.Messages, 1)
	assert.Equal(t, "real lesson", res.Chat.Messages[0].Content)
}

func TestInitialize_ConcurrentCallersSingleProviderCall(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "lesson", delay: 30 * time.Millisecond}
	quizzes := &mockQuizzes{quiz: sampleQuiz()}
	svc := New(st, sub, quizzes, &mockEmitter{}, 50, 10*time.Millisecond, nil)

	ctx := context.Background()
	const callers = 4
	var wg sync.WaitGroup
	results := make([]*InitializeResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Initialize(ctx, "g1", "calculus")
		}(i)
	}
	wg.Wait()

	// Exactly one lesson call and one quiz call regardless of caller count.
	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Equal(t, int32(1), quizzes.calls.Load())

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		require.Len(t, results[i].Chat.Messages, 1)
		assert.Equal(t, "lesson", results[i].Chat.Messages[0].Content)
	}
}

// claimRivalStore sneaks a rival sentinel into the chat right before every
// claim, reproducing a second initializer landing between the empty-chat read
// and the claim itself.
type claimRivalStore struct {
	StudyStore
	st *store.SQLiteStore
}

func (c *claimRivalStore) ClaimStudyChat(ctx context.Context, chatID string, msg *store.StudyMessage) error {
	rival := &store.StudyMessage{
		ID: "rival", ChatID: chatID, Author: store.Assistant(), Content: SentinelLesson, CreatedAt: time.Now(),
	}
	if err := c.st.AppendStudyMessages(ctx, chatID, rival); err != nil {
		return err
	}
	return c.st.ClaimStudyChat(ctx, chatID, msg)
}

func TestInitialize_LostClaimFallsBackToPolling(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	ctx := context.Background()

	// Empty chat left behind by an earlier plain chat interaction.
	chat := &store.StudyChat{ID: "sc1", GroupID: "g1", Topic: "calculus"}
	require.NoError(t, st.CreateStudyChat(ctx, chat))

	sub := &mockSubmitter{reply: "lesson"}
	svc := newService(&claimRivalStore{StudyStore: st, st: st}, sub, &mockQuizzes{}, &mockEmitter{})

	// The rival finishes while the losing caller polls.
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.ReplaceStudyMessages(ctx, "sc1", &store.StudyMessage{
			ID: "m2", ChatID: "sc1", Author: store.Assistant(), Content: "rival lesson", CreatedAt: time.Now(),
		})
	}()

	res, err := svc.Initialize(ctx, "g1", "calculus")
	require.NoError(t, err)

	// The loser never generated anything; it adopted the rival's result.
	assert.True(t, res.AlreadyInitialized)
	assert.Equal(t, int32(0), sub.calls.Load())
	require.Len(t, res.Chat.Messages, 1)
	assert.Equal(t, "rival lesson", res.Chat.Messages[0].Content)
}

func TestChat_AppendsAndEmitsOnlyNewMessages(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{reply: "limits are about approach, John"}
	em := &mockEmitter{}
	svc := newService(st, sub, &mockQuizzes{}, em)

	ctx := context.Background()
	msgs, err := svc.Chat(ctx, "g1", "calculus", "u1", "what are limits?")
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, store.AuthorHuman, msgs[0].Author.Kind)
	assert.Equal(t, "u1", msgs[0].Author.UserID)
	assert.Equal(t, store.AuthorAssistant, msgs[1].Author.Kind)

	// The sender name reached the conversation layer, addressed to the
	// topic's own agent.
	require.Len(t, sub.requests, 1)
	assert.Equal(t, "John", sub.requests[0].SenderName)
	assert.Equal(t, "study_g1_calculus", sub.requests[0].AgentID)

	// One emit to the topic room with exactly the two new messages.
	events := em.all()
	require.Len(t, events, 1)
	assert.Equal(t, "newStudyChatMessages", events[0].Name)
	assert.Equal(t, realtime.StudyRoom("g1", "calculus"), em.rooms[0])
	payload := events[0].Data.([]map[string]any)
	require.Len(t, payload, 2)
	sender := payload[0]["sender"].(map[string]any)
	assert.Equal(t, "John", sender["name"])

	// Second exchange: history grows but emits stay incremental.
	_, err = svc.Chat(ctx, "g1", "calculus", "u2", "and derivatives?")
	require.NoError(t, err)

	chat, err := st.GetStudyChat(ctx, "g1", "calculus")
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 4)

	events = em.all()
	require.Len(t, events, 2)
	assert.Len(t, events[1].Data.([]map[string]any), 2)
}

func TestChat_ProviderFailureKeepsUserMessage(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	sub := &mockSubmitter{err: errors.New("provider down")}
	em := &mockEmitter{}
	svc := newService(st, sub, &mockQuizzes{}, em)

	ctx := context.Background()
	_, err := svc.Chat(ctx, "g1", "calculus", "u1", "hello?")
	require.Error(t, err)

	chat, err := st.GetStudyChat(ctx, "g1", "calculus")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, store.AuthorHuman, chat.Messages[0].Author.Kind)

	// The room still learned about the durable user message.
	events := em.all()
	require.Len(t, events, 1)
	assert.Len(t, events[0].Data.([]map[string]any), 1)
}

func TestHistory_MissingChatReturnsEmptyShell(t *testing.T) {
	st := createTestStore(t)
	svc := newService(st, &mockSubmitter{}, &mockQuizzes{}, &mockEmitter{})

	chat, err := svc.History(context.Background(), "g1", "nothing")
	require.NoError(t, err)
	assert.Empty(t, chat.Messages)
	assert.Equal(t, "nothing", chat.Topic)
}

func TestSkillsMetrics_GroupsByTopicThenUser(t *testing.T) {
	st := createTestStore(t)
	seedGroup(t, st)
	ctx := context.Background()

	for i, topic := range []string{"calculus", "algebra"} {
		chat := &store.StudyChat{ID: topic, GroupID: "g1", Topic: topic, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		require.NoError(t, st.CreateStudyChat(ctx, chat))
	}
	require.NoError(t, st.SetStudyChatQuiz(ctx, "calculus", &store.Quiz{
		Questions: sampleQuiz().Questions,
		Responses: []store.QuizResponse{
			{UserID: "u1", Completed: true, Score: 80},
			{UserID: "u2", Completed: true, Score: 60},
		},
	}))
	// algebra has no quiz and must not appear.

	svc := newService(st, &mockSubmitter{}, &mockQuizzes{}, &mockEmitter{})
	metrics, err := svc.SkillsMetrics(ctx, "g1")
	require.NoError(t, err)

	require.Len(t, metrics, 1)
	assert.Equal(t, "calculus", metrics[0].Topic)
	require.Len(t, metrics[0].Scores, 2)
	assert.Equal(t, UserScore{UserID: "u1", Name: "John", Score: 80}, metrics[0].Scores[0])
	assert.Equal(t, UserScore{UserID: "u2", Name: "Mary", Score: 60}, metrics[0].Scores[1])
}
