// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversations, users, groups, messages, study chats, and documents

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []*User{
		{ID: "u1", Name: "John", Email: "john@example.com"},
		{ID: "u2", Name: "Mary", Email: "mary@example.com"},
		{ID: "u3", Name: "Ben", Email: "ben@example.com"},
	} {
		require.NoError(t, s.CreateUser(ctx, u))
	}
}

func TestConversations_CreateAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := &Conversation{
		ID:           "c1",
		AgentID:      "group_g1",
		ScopeType:    "group",
		ScopeID:      "g1",
		Participants: []string{"John", "Mary"},
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversationByAgentID(ctx, "group_g1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "group", got.ScopeType)
	assert.Equal(t, []string{"John", "Mary"}, got.Participants)
	assert.Empty(t, got.History)
}

func TestConversations_DuplicateAgentID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "c1", AgentID: "group_g1"}))
	err := s.CreateConversation(ctx, &Conversation{ID: "c2", AgentID: "group_g1"})
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestConversations_UnknownAgentID(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetConversationByAgentID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversations_AppendTurnOrderingAndLastInteraction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "c1", AgentID: "group_g1"}))

	turns := []*Turn{
		{ID: "t1", Role: RoleUser, Parts: []Part{{Text: "hello"}}},
		{ID: "t2", Role: RoleModel, Parts: []Part{{Text: "hi there"}}},
		{ID: "t3", Role: RoleUser, Parts: []Part{{InlineData: &InlineData{MimeType: "image/png", BlobRef: "b1"}}}},
	}
	for _, turn := range turns {
		require.NoError(t, s.AppendTurn(ctx, "c1", turn))
	}

	got, err := s.GetConversationByAgentID(ctx, "group_g1")
	require.NoError(t, err)
	require.Len(t, got.History, 3)
	assert.Equal(t, RoleUser, got.History[0].Role)
	assert.Equal(t, "hello", got.History[0].Parts[0].Text)
	assert.Equal(t, RoleModel, got.History[1].Role)
	require.NotNil(t, got.History[2].Parts[0].InlineData)
	assert.Equal(t, "b1", got.History[2].Parts[0].InlineData.BlobRef)
	assert.False(t, got.LastInteraction.IsZero())
}

func TestAppendTurn_UnknownConversation(t *testing.T) {
	s := createTestStore(t)

	err := s.AppendTurn(context.Background(), "ghost", &Turn{ID: "t1", Role: RoleUser})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_DuplicateEmail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &User{ID: "u1", Name: "John", Email: "john@example.com"}))
	err := s.CreateUser(ctx, &User{ID: "u2", Name: "Johnny", Email: "john@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestUsers_GetByEmail(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)

	u, err := s.GetUserByEmail(context.Background(), "mary@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)

	_, err = s.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroups_CreateIncludesAdmin(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, []string{"u2"}))

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, got.Members, 2)
	ids := []string{got.Members[0].ID, got.Members[1].ID}
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func TestGroups_MembershipChanges(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, []string{"u2"}))

	require.NoError(t, s.AddGroupMembers(ctx, "g1", []string{"u3"}))
	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, got.Members, 3)

	// Re-adding an existing member is a no-op, not an error.
	require.NoError(t, s.AddGroupMembers(ctx, "g1", []string{"u3"}))
	got, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, got.Members, 3)

	require.NoError(t, s.RemoveGroupMembers(ctx, "g1", []string{"u2", "u3"}))
	got, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	assert.Equal(t, "u1", got.Members[0].ID)
}

func TestGroups_ListForUser(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Alpha", AdminID: "u1"}, []string{"u2"}))
	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g2", Name: "Beta", AdminID: "u2"}, nil))

	groups, err := s.ListGroupsForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	groups, err = s.ListGroupsForUser(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroups_AgentIDsAndLessonPlan(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))

	require.NoError(t, s.SetGroupAgentID(ctx, "g1", "group_g1"))
	require.NoError(t, s.SetGroupStudyAgentID(ctx, "g1", "study_g1"))
	require.NoError(t, s.SetGroupLessonPlan(ctx, "g1", []byte(`{"course":"Algebra","modules":[]}`)))

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "group_g1", got.AgentID)
	assert.Equal(t, "study_g1", got.StudyAgentID)
	assert.JSONEq(t, `{"course":"Algebra","modules":[]}`, string(got.LessonPlan))

	assert.ErrorIs(t, s.SetGroupAgentID(ctx, "ghost", "x"), ErrNotFound)
}

func TestGroupMessages_SaveAndOrder(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))

	base := time.Now().Add(-time.Minute)
	require.NoError(t, s.SaveGroupMessage(ctx, &GroupMessage{ID: "m1", GroupID: "g1", SenderID: "u1", Text: "first", CreatedAt: base}))
	require.NoError(t, s.SaveGroupMessage(ctx, &GroupMessage{ID: "m2", GroupID: "g1", Text: "second", IsAssistant: true, CreatedAt: base.Add(time.Second)}))

	msgs, err := s.GetGroupMessages(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.True(t, msgs[1].IsAssistant)
	assert.Empty(t, msgs[1].SenderID)
}

func TestStudyChats_CreateGetDuplicate(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))

	chat := &StudyChat{ID: "c1", GroupID: "g1", Topic: "algebra", AIContext: "seed"}
	require.NoError(t, s.CreateStudyChat(ctx, chat))

	err := s.CreateStudyChat(ctx, &StudyChat{ID: "c2", GroupID: "g1", Topic: "algebra"})
	assert.ErrorIs(t, err, ErrDuplicateStudyChat)

	// Same topic in a different group is fine.
	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g2", Name: "Other", AdminID: "u2"}, nil))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c3", GroupID: "g2", Topic: "algebra"}))

	got, err := s.GetStudyChat(ctx, "g1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "seed", got.AIContext)

	_, err = s.GetStudyChat(ctx, "g1", "geometry")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStudyChats_AppendAndReplaceMessages(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c1", GroupID: "g1", Topic: "algebra"}))

	require.NoError(t, s.AppendStudyMessages(ctx, "c1",
		&StudyMessage{ID: "m1", ChatID: "c1", Author: Assistant(), Content: "placeholder"},
		&StudyMessage{ID: "m2", ChatID: "c1", Author: Human("u1"), Content: "question"},
	))

	got, err := s.GetStudyChat(ctx, "g1", "algebra")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, AuthorAssistant, got.Messages[0].Author.Kind)
	assert.Equal(t, "u1", got.Messages[1].Author.UserID)

	require.NoError(t, s.ReplaceStudyMessages(ctx, "c1",
		&StudyMessage{ID: "m3", ChatID: "c1", Author: Assistant(), Content: "the real lesson"},
	))

	got, err = s.GetStudyChat(ctx, "g1", "algebra")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "the real lesson", got.Messages[0].Content)
}

func TestStudyChats_ClaimOnlySucceedsWhileEmpty(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c1", GroupID: "g1", Topic: "algebra"}))

	require.NoError(t, s.ClaimStudyChat(ctx, "c1",
		&StudyMessage{ID: "m1", ChatID: "c1", Author: Assistant(), Content: "placeholder"}))

	// A second claim loses, and the loser's message is never inserted.
	err := s.ClaimStudyChat(ctx, "c1",
		&StudyMessage{ID: "m2", ChatID: "c1", Author: Assistant(), Content: "placeholder"})
	assert.ErrorIs(t, err, ErrStudyChatNotEmpty)

	got, err := s.GetStudyChat(ctx, "g1", "algebra")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "m1", got.Messages[0].ID)
}

func TestStudyChats_QuizRoundTrip(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c1", GroupID: "g1", Topic: "algebra"}))

	quiz := &Quiz{
		Questions: []QuizQuestion{
			{Question: "q1", Options: []string{"a", "b", "c", "d"}, Correct: 2, Explanation: "because"},
		},
		Responses: []QuizResponse{
			{UserID: "u1", Answers: []int{2}, Completed: true, Score: 100},
		},
	}
	require.NoError(t, s.SetStudyChatQuiz(ctx, "c1", quiz))

	got, err := s.GetStudyChat(ctx, "g1", "algebra")
	require.NoError(t, err)
	require.NotNil(t, got.Quiz)
	require.Len(t, got.Quiz.Questions, 1)
	assert.Equal(t, 2, got.Quiz.Questions[0].Correct)
	require.Len(t, got.Quiz.Responses, 1)
	assert.Equal(t, 100, got.Quiz.Responses[0].Score)
}

func TestStudyChats_ListByGroup(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c1", GroupID: "g1", Topic: "algebra"}))
	require.NoError(t, s.CreateStudyChat(ctx, &StudyChat{ID: "c2", GroupID: "g1", Topic: "geometry"}))

	chats, err := s.ListStudyChats(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, chats, 2)
}

func TestDocuments_SaveGetList(t *testing.T) {
	s := createTestStore(t)
	seedUsers(t, s)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: "g1", Name: "Study Buddies", AdminID: "u1"}, nil))

	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.SaveDocument(ctx, &Document{
			ID:          id,
			GroupID:     "g1",
			Filename:    id + ".pdf",
			ContentType: "application/pdf",
			BlobRef:     "blob-" + id,
			UploadedBy:  "u1",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	doc, err := s.GetDocument(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, "d2.pdf", doc.Filename)
	assert.Equal(t, "blob-d2", doc.BlobRef)

	_, err = s.GetDocument(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	// Oldest first.
	docs, err := s.ListDocuments(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "d3", docs[2].ID)
}
