// ABOUTME: Group lifecycle, group chat with assistant invocation, and document uploads
// ABOUTME: The @nexus mention routes a group message through the group's agent

package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexuschat/nexus/internal/blob"
	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/curriculum"
	"github.com/nexuschat/nexus/internal/realtime"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/study"
)

// Mention is the trigger token that routes a group message to the assistant.
const Mention = "@nexus"

// ErrNotAdmin is returned when a non-admin attempts membership changes.
var ErrNotAdmin = errors.New("only the group admin may change membership")

// GroupStore defines what the service needs from storage
type GroupStore interface {
	CreateGroup(ctx context.Context, group *store.Group, memberIDs []string) error
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*store.Group, error)
	AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	RemoveGroupMembers(ctx context.Context, groupID string, memberIDs []string) error
	SetGroupAgentID(ctx context.Context, groupID, agentID string) error
	SetGroupStudyAgentID(ctx context.Context, groupID, agentID string) error
	SetGroupLessonPlan(ctx context.Context, groupID string, plan json.RawMessage) error
	SaveGroupMessage(ctx context.Context, msg *store.GroupMessage) error
	GetGroupMessages(ctx context.Context, groupID string) ([]*store.GroupMessage, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	SaveDocument(ctx context.Context, doc *store.Document) error
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListDocuments(ctx context.Context, groupID string) ([]*store.Document, error)
}

// TurnSubmitter defines what the service needs from the conversation layer
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req *conversation.SubmitRequest) (string, error)
}

// LessonBuilder defines what the service needs from the curriculum builder
type LessonBuilder interface {
	BuildFromDocument(ctx context.Context, agentID string, participants []string, doc *store.Document, payload []byte) (*curriculum.Plan, error)
}

// Emitter defines what the service needs from the realtime layer
type Emitter interface {
	Emit(room string, event realtime.Event)
	EmitExcept(room, excludeUserID string, event realtime.Event)
}

// Service implements group management, group chat, and the document upload
// pipeline that feeds the curriculum builder.
type Service struct {
	store   GroupStore
	blobs   blob.Store
	conv    TurnSubmitter
	builder LessonBuilder
	emitter Emitter
	logger  *slog.Logger
}

// New creates a group Service.
func New(st GroupStore, blobs blob.Store, conv TurnSubmitter, builder LessonBuilder, emitter Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		blobs:   blobs,
		conv:    conv,
		builder: builder,
		emitter: emitter,
		logger:  logger.With("component", "group"),
	}
}

// GroupAgentID returns the general assistant agent ID for a group.
func GroupAgentID(groupID string) string { return "group_" + groupID }

// Create persists a new group with the admin as an implicit member and
// announces it to every member's personal room.
func (s *Service) Create(ctx context.Context, name, adminID string, memberIDs []string) (*store.Group, error) {
	group := &store.Group{
		ID:        uuid.New().String(),
		Name:      name,
		AdminID:   adminID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateGroup(ctx, group, memberIDs); err != nil {
		return nil, err
	}

	populated, err := s.store.GetGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	for _, member := range populated.Members {
		s.emitter.Emit(realtime.UserRoom(member.ID), realtime.Event{Name: "newGroup", Data: populated})
	}

	s.logger.Info("group created", "group_id", group.ID, "members", len(populated.Members))
	return populated, nil
}

// Get returns one group with its members.
func (s *Service) Get(ctx context.Context, groupID string) (*store.Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// ListForUser returns every group the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*store.Group, error) {
	return s.store.ListGroupsForUser(ctx, userID)
}

// AddMembers adds members to a group. Admin only. Newly added members are
// told about the group through their personal rooms.
func (s *Service) AddMembers(ctx context.Context, groupID, callerID string, memberIDs []string) (*store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != callerID {
		return nil, ErrNotAdmin
	}

	if err := s.store.AddGroupMembers(ctx, groupID, memberIDs); err != nil {
		return nil, err
	}

	populated, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		s.emitter.Emit(realtime.UserRoom(id), realtime.Event{Name: "newGroup", Data: populated})
	}
	return populated, nil
}

// RemoveMembers removes members from a group. Admin only.
func (s *Service) RemoveMembers(ctx context.Context, groupID, callerID string, memberIDs []string) (*store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != callerID {
		return nil, ErrNotAdmin
	}

	if err := s.store.RemoveGroupMembers(ctx, groupID, memberIDs); err != nil {
		return nil, err
	}
	return s.store.GetGroup(ctx, groupID)
}

// Messages returns a group's chat history, oldest first.
func (s *Service) Messages(ctx context.Context, groupID string) ([]*store.GroupMessage, error) {
	return s.store.GetGroupMessages(ctx, groupID)
}

// MessagePayload is the realtime shape of a group message.
type MessagePayload struct {
	*store.GroupMessage
	SenderName       string `json:"senderName"`
	SenderProfilePic string `json:"senderProfilePic"`
}

// SendMessage persists one group chat message, fans it out to the other
// members, and — when the text mentions the assistant — obtains and fans out
// an assistant reply. Assistant failures never fail the user's message.
func (s *Service) SendMessage(ctx context.Context, groupID, senderID, text string, image []byte) (*store.GroupMessage, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	sender, err := s.store.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}

	var imageRef string
	if len(image) > 0 {
		imageRef, err = s.blobs.Put(ctx, image, blob.Metadata{ContentType: "image/jpeg"})
		if err != nil {
			return nil, fmt.Errorf("storing message image: %w", err)
		}
	}

	msg := &store.GroupMessage{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		SenderID:  senderID,
		Text:      text,
		ImageRef:  imageRef,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveGroupMessage(ctx, msg); err != nil {
		return nil, err
	}

	// The sender already has the message locally; everyone else learns now.
	s.emitter.EmitExcept(realtime.GroupRoom(groupID), senderID, realtime.Event{
		Name: "newGroupMessage",
		Data: MessagePayload{GroupMessage: msg, SenderName: sender.Name, SenderProfilePic: sender.ProfilePic},
	})

	if strings.Contains(text, Mention) {
		s.respondAsAssistant(ctx, group, sender, text, imageRef)
	}

	return msg, nil
}

// respondAsAssistant routes the mention through the group's agent and fans
// the reply out to the whole room, sender included. Best-effort: a provider
// failure is logged, not surfaced, because the human message already landed.
func (s *Service) respondAsAssistant(ctx context.Context, group *store.Group, sender *store.User, text, imageRef string) {
	agentID := group.AgentID
	if agentID == "" {
		agentID = GroupAgentID(group.ID)
		if err := s.store.SetGroupAgentID(ctx, group.ID, agentID); err != nil {
			s.logger.Error("assigning group agent failed", "group_id", group.ID, "error", err)
			return
		}
	}

	// Everything after the mention is the question.
	question := strings.TrimSpace(strings.SplitN(text, Mention, 2)[1])

	req := &conversation.SubmitRequest{
		AgentID:      agentID,
		ScopeType:    "group",
		ScopeID:      group.ID,
		Participants: memberNames(group),
		SenderName:   sender.Name,
	}
	if imageRef != "" {
		prompt := "Please briefly describe what you see in this image. Keep your response focused and concise."
		if question != "" {
			prompt = fmt.Sprintf("Please analyze this image and respond to: %q. Keep your response focused and concise.", question)
		}
		req.Parts = []store.Part{
			{InlineData: &store.InlineData{MimeType: "image/jpeg", BlobRef: imageRef}},
			{Text: prompt},
		}
	} else {
		req.Prompt = question
	}

	reply, err := s.conv.SubmitTurn(ctx, req)
	if err != nil {
		s.logger.Warn("assistant reply failed",
			"group_id", group.ID,
			"agent_id", agentID,
			"error", err)
		return
	}

	aiMsg := &store.GroupMessage{
		ID:          uuid.New().String(),
		GroupID:     group.ID,
		SenderID:    "",
		Text:        reply,
		IsAssistant: true,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveGroupMessage(ctx, aiMsg); err != nil {
		s.logger.Error("persisting assistant message failed", "group_id", group.ID, "error", err)
		return
	}

	// The assistant's reply goes to everyone, the asker included.
	s.emitter.Emit(realtime.GroupRoom(group.ID), realtime.Event{
		Name: "newGroupMessage",
		Data: MessagePayload{GroupMessage: aiMsg, SenderName: "Nexus AI"},
	})
}

// UploadedFile is one incoming document in an upload batch.
type UploadedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FileResult reports the outcome for one file of an upload batch.
type FileResult struct {
	Filename string `json:"filename"`
	DocID    string `json:"docId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UploadResult is the outcome of a document upload batch.
type UploadResult struct {
	LessonPlan *curriculum.Plan `json:"lessonPlan"`
	Files      []FileResult     `json:"files"`
}

// UploadDocuments stores each file, derives a lesson plan from it, and merges
// the plans into the group's curriculum artifact. Files are independent: one
// file's failure is reported per-file and does not abort the batch.
func (s *Service) UploadDocuments(ctx context.Context, groupID, uploaderID string, files []UploadedFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files uploaded")
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	// Lesson derivation runs through the curriculum agent so the material
	// lands in its conversation history.
	studyAgentID := group.StudyAgentID
	if studyAgentID == "" {
		studyAgentID = study.CurriculumAgentID(groupID)
		if err := s.store.SetGroupStudyAgentID(ctx, groupID, studyAgentID); err != nil {
			return nil, err
		}
	}

	existing, err := curriculum.ParsePlan(group.LessonPlan)
	if err != nil {
		s.logger.Warn("discarding unreadable stored lesson plan", "group_id", groupID, "error", err)
	}

	plans := make([]*curriculum.Plan, 0, len(files)+1)
	if existing != nil {
		plans = append(plans, existing)
	}

	result := &UploadResult{}
	members := memberNames(group)

	for _, file := range files {
		fr := FileResult{Filename: file.Filename}

		ref, err := s.blobs.Put(ctx, file.Data, blob.Metadata{ContentType: file.ContentType, Filename: file.Filename})
		if err != nil {
			fr.Error = fmt.Sprintf("storing file: %v", err)
			result.Files = append(result.Files, fr)
			continue
		}

		doc := &store.Document{
			ID:          uuid.New().String(),
			GroupID:     groupID,
			Filename:    file.Filename,
			ContentType: file.ContentType,
			BlobRef:     ref,
			UploadedBy:  uploaderID,
			CreatedAt:   time.Now(),
		}
		if err := s.store.SaveDocument(ctx, doc); err != nil {
			fr.Error = fmt.Sprintf("saving document: %v", err)
			result.Files = append(result.Files, fr)
			continue
		}
		fr.DocID = doc.ID

		plan, err := s.builder.BuildFromDocument(ctx, studyAgentID, members, doc, file.Data)
		if err != nil {
			// The document is stored either way; only the derivation failed.
			fr.Error = fmt.Sprintf("deriving lesson plan: %v", err)
			result.Files = append(result.Files, fr)
			continue
		}

		plans = append(plans, plan)
		result.Files = append(result.Files, fr)
	}

	if merged := curriculum.Merge(plans); merged != nil {
		raw, err := curriculum.EncodePlan(merged)
		if err != nil {
			return nil, err
		}
		if err := s.store.SetGroupLessonPlan(ctx, groupID, raw); err != nil {
			return nil, fmt.Errorf("persisting lesson plan: %w", err)
		}
		result.LessonPlan = merged
	}

	s.logger.Info("documents processed",
		"group_id", groupID,
		"files", len(files),
		"plans_merged", len(plans))

	return result, nil
}

// LessonPlan returns the group's current merged curriculum artifact, nil if
// none has been built yet.
func (s *Service) LessonPlan(ctx context.Context, groupID string) (*curriculum.Plan, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return curriculum.ParsePlan(group.LessonPlan)
}

// Documents lists a group's stored source documents, oldest first.
func (s *Service) Documents(ctx context.Context, groupID string) ([]*store.Document, error) {
	return s.store.ListDocuments(ctx, groupID)
}

// OpenDocument resolves a document to a streaming reader for download.
func (s *Service) OpenDocument(ctx context.Context, docID string) (*store.Document, io.ReadCloser, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, doc.BlobRef)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

func memberNames(group *store.Group) []string {
	names := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		names = append(names, m.Name)
	}
	return names
}
