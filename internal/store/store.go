// ABOUTME: Store interface and data types for nexus persistence
// ABOUTME: Defines Conversation, Group, StudyChat structs and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation
// for an agent ID that already has one
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateStudyChat is returned when trying to create a study chat for a
// (group, topic) pair that already has one
var ErrDuplicateStudyChat = errors.New("study chat already exists")

// ErrStudyChatNotEmpty is returned by ClaimStudyChat when the chat already
// has a first message, so the claim was lost
var ErrStudyChatNotEmpty = errors.New("study chat already has messages")

// ErrDuplicateUser is returned when trying to create a user with an email
// that is already registered
var ErrDuplicateUser = errors.New("user already exists")

// Role identifies who authored a conversation turn
type Role string

const (
	RoleUser  Role = "user"  // caller-submitted content
	RoleModel Role = "model" // completion provider output
)

// InlineData is a binary content part. Exactly one of Data or BlobRef is set:
// Data carries the payload directly, BlobRef points into the blob store and
// must be resolved before the part is sent to the completion provider.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data,omitempty"`
	BlobRef  string `json:"blobRef,omitempty"`
}

// Part is one piece of a turn: text or inline binary data
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Turn is one role-attributed contribution to a conversation history
type Turn struct {
	ID        string
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

// Conversation holds the ordered turn history backing one agent.
// Agent IDs encode scope: "group_<groupID>" for a group's general assistant,
// "study_<groupID>_<topic>" for a topic's study session, and
// "study_<groupID>" for the curriculum derivation agent.
type Conversation struct {
	ID              string
	AgentID         string
	ScopeType       string // "group" or "study"
	ScopeID         string
	Participants    []string
	History         []Turn
	LastInteraction time.Time
	CreatedAt       time.Time
}

// User carries display data only. Credentials live in the external auth
// service; this store never sees a password.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Group is a study group with members and lazily assigned agent IDs
type Group struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	AdminID      string          `json:"adminId"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	AgentID      string          `json:"-"` // group assistant, "" until first @nexus interaction
	StudyAgentID string          `json:"-"` // study assistant, "" until first document upload
	LessonPlan   json.RawMessage `json:"lessonPlan,omitempty"`
	Members      []*User         `json:"members"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// GroupMessage is a chat message within a group
type GroupMessage struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	SenderID    string    `json:"senderId,omitempty"`
	Text        string    `json:"text"`
	ImageRef    string    `json:"imageRef,omitempty"` // blob reference, "" if no image attached
	IsAssistant bool      `json:"isAssistant"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuthorKind discriminates the author variant of a study message
type AuthorKind string

const (
	AuthorHuman     AuthorKind = "user"
	AuthorAssistant AuthorKind = "assistant"
	AuthorSystem    AuthorKind = "system"
)

// Author is a tagged variant: a human member (with user ID), the assistant,
// or the system. UserID is set only for AuthorHuman.
type Author struct {
	Kind   AuthorKind `json:"kind"`
	UserID string     `json:"userId,omitempty"`
}

// Human returns an Author for the given group member
func Human(userID string) Author {
	return Author{Kind: AuthorHuman, UserID: userID}
}

// Assistant returns the assistant Author
func Assistant() Author {
	return Author{Kind: AuthorAssistant}
}

// System returns the system Author
func System() Author {
	return Author{Kind: AuthorSystem}
}

// StudyMessage is one message in a topic-scoped study chat
type StudyMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// QuizQuestion is one multiple-choice question with a 0-based answer index
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation"`
}

// QuizResponse is one user's recorded answers. At most one response per user
// exists in a quiz; resubmission replaces the previous entry.
type QuizResponse struct {
	UserID    string `json:"user"`
	Answers   []int  `json:"answers"`
	Completed bool   `json:"completed"`
	Score     int    `json:"score"`
}

// Quiz is the generated quiz attached to a study chat
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
	Responses []QuizResponse `json:"responses"`
}

// StudyChat is the per-(group, topic) session chat. Quiz is nil until one is
// generated. Messages are ordered oldest first.
type StudyChat struct {
	ID        string         `json:"id"`
	GroupID   string         `json:"groupId"`
	Topic     string         `json:"topic"`
	AIContext string         `json:"-"`
	Quiz      *Quiz          `json:"quiz,omitempty"`
	Messages  []StudyMessage `json:"messages"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Document is metadata for an uploaded source document; the bytes live in
// the blob store under BlobRef.
type Document struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	BlobRef     string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store defines the interface for nexus persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversationByAgentID(ctx context.Context, agentID string) (*Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, turn *Turn) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Groups
	CreateGroup(ctx context.Context, group *Group, memberIDs []string) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error)
	AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	RemoveGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	SetGroupAgentID(ctx context.Context, groupID, agentID string) error
	SetGroupStudyAgentID(ctx context.Context, groupID, agentID string) error
	SetGroupLessonPlan(ctx context.Context, groupID string, plan json.RawMessage) error

	// Group messages
	SaveGroupMessage(ctx context.Context, msg *GroupMessage) error
	GetGroupMessages(ctx context.Context, groupID string) ([]*GroupMessage, error)

	// Study chats
	CreateStudyChat(ctx context.Context, chat *StudyChat) error
	GetStudyChat(ctx context.Context, groupID, topic string) (*StudyChat, error)
	ListStudyChats(ctx context.Context, groupID string) ([]*StudyChat, error)
	AppendStudyMessages(ctx context.Context, chatID string, msgs ...*StudyMessage) error
	ClaimStudyChat(ctx context.Context, chatID string, msg *StudyMessage) error
	ReplaceStudyMessages(ctx context.Context, chatID string, msgs ...*StudyMessage) error
	SetStudyChatQuiz(ctx context.Context, chatID string, quiz *Quiz) error

	// Documents
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, groupID string) ([]*Document, error)

	Close() error
}
