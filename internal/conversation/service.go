// ABOUTME: Service is the central layer for agent turn submission
// ABOUTME: All provider traffic flows through here - history is the source of truth

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexuschat/nexus/internal/provider"
	"github.com/nexuschat/nexus/internal/store"
)

// ErrProvider marks completion provider failures so callers can distinguish
// upstream trouble from their own.
var ErrProvider = errors.New("provider failure")

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversationByAgentID(ctx context.Context, agentID string) (*store.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, turn *store.Turn) error
}

// BlobResolver defines what the service needs from the blob store
type BlobResolver interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Service mediates all interaction between logical agents and the completion
// provider: conversation resolution, history formatting, first-use priming,
// and atomic turn appends.
type Service struct {
	store     ConversationStore
	blobs     BlobResolver
	provider  provider.Provider
	maxTokens int
	logger    *slog.Logger
}

// New creates a conversation Service. maxTokens caps provider output per call;
// zero means the provider default.
func New(st ConversationStore, blobs BlobResolver, p provider.Provider, maxTokens int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		blobs:     blobs,
		provider:  p,
		maxTokens: maxTokens,
		logger:    logger.With("component", "conversation"),
	}
}

// SubmitRequest contains everything needed to submit one turn to an agent
type SubmitRequest struct {
	// Agent identification (required)
	AgentID   string
	ScopeType string // "group" or "study"
	ScopeID   string

	// Participants seeds the priming context on a conversation's first use.
	// Nil skips priming.
	Participants []string

	// SenderName prefixes the outgoing text so the model can tell speakers
	// apart in shared history. The literal "system" marks automated
	// injections such as quiz score summaries.
	SenderName string

	// Message content: Parts wins if set, otherwise Prompt is wrapped as a
	// single text part.
	Prompt string
	Parts  []store.Part
}

// SubmitTurn resolves the agent's conversation, primes it on first use,
// calls the provider with the full resolved history plus the new turn, and
// persists both the user turn and the model reply.
//
// Provider failures propagate to the caller unmodified; there is no fallback
// text. On failure nothing is appended to history.
func (s *Service) SubmitTurn(ctx context.Context, req *SubmitRequest) (string, error) {
	if req.AgentID == "" {
		return "", fmt.Errorf("agent_id is required")
	}

	conv, err := s.GetOrCreate(ctx, req.AgentID, req.ScopeType, req.ScopeID, req.Participants)
	if err != nil {
		return "", fmt.Errorf("conversation resolution failed: %w", err)
	}

	// First use with known participants: prime the agent with its persona
	// context before the caller's content.
	if len(conv.History) == 0 && len(req.Participants) > 0 {
		if err := s.prime(ctx, conv, req.Participants); err != nil {
			return "", err
		}
	}

	parts, err := s.buildOutgoingParts(ctx, req)
	if err != nil {
		return "", err
	}

	history, err := s.FormatHistory(ctx, conv)
	if err != nil {
		return "", err
	}

	result, err := s.provider.Generate(ctx, history, parts, provider.Options{MaxOutputTokens: s.maxTokens})
	if err != nil {
		return "", fmt.Errorf("provider call failed: %w: %w", ErrProvider, err)
	}

	// User turn persists before its model reply.
	if _, err := s.appendTurn(ctx, conv.ID, store.RoleUser, storeParts(parts)); err != nil {
		return "", err
	}
	if _, err := s.appendTurn(ctx, conv.ID, store.RoleModel, []store.Part{{Text: result.Text}}); err != nil {
		return "", err
	}

	s.logger.Debug("turn submitted",
		"agent_id", req.AgentID,
		"sender", req.SenderName,
		"parts", len(parts))

	return result.Text, nil
}

// GetOrCreate returns the conversation for agentID, creating an empty one if
// none exists. Safe under concurrent first use: a uniqueness violation on
// insert means another request won the race, so the lookup is retried.
func (s *Service) GetOrCreate(ctx context.Context, agentID, scopeType, scopeID string, participants []string) (*store.Conversation, error) {
	conv, err := s.store.GetConversationByAgentID(ctx, agentID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	conv = &store.Conversation{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		ScopeType:       scopeType,
		ScopeID:         scopeID,
		Participants:    participants,
		LastInteraction: now,
		CreatedAt:       now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := s.store.GetConversationByAgentID(ctx, agentID)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "agent_id", agentID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error",
				"agent_id", agentID,
				"lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("conversation created", "agent_id", agentID)
	return conv, nil
}

// prime submits the fixed initial-context message and persists both it and
// the model's acknowledgement, so later turns carry the persona. The pair is
// also appended to conv's in-memory history: the caller formats that history
// for the very next provider call, and the priming turns must be in it.
func (s *Service) prime(ctx context.Context, conv *store.Conversation, participants []string) error {
	contextText := InitialContext(participants)
	parts := []provider.Part{{Text: contextText}}

	result, err := s.provider.Generate(ctx, nil, parts, provider.Options{MaxOutputTokens: s.maxTokens})
	if err != nil {
		return fmt.Errorf("priming call failed: %w: %w", ErrProvider, err)
	}

	userTurn, err := s.appendTurn(ctx, conv.ID, store.RoleUser, []store.Part{{Text: contextText}})
	if err != nil {
		return err
	}
	modelTurn, err := s.appendTurn(ctx, conv.ID, store.RoleModel, []store.Part{{Text: result.Text}})
	if err != nil {
		return err
	}
	conv.History = append(conv.History, *userTurn, *modelTurn)

	s.logger.Debug("conversation primed", "agent_id", conv.AgentID, "participants", len(participants))
	return nil
}

// buildOutgoingParts normalizes the request's content into provider parts:
// multimodal parts are resolved and validated, a bare prompt becomes a single
// text part, and the sender name prefixes the first text part.
func (s *Service) buildOutgoingParts(ctx context.Context, req *SubmitRequest) ([]provider.Part, error) {
	var parts []provider.Part

	if len(req.Parts) > 0 {
		cleaned, err := s.cleanParts(ctx, req.Parts)
		if err != nil {
			return nil, err
		}
		parts = cleaned
	} else {
		parts = []provider.Part{{Text: req.Prompt}}
	}

	if req.SenderName != "" {
		for i := range parts {
			if len(parts[i].Data) == 0 {
				parts[i].Text = req.SenderName + ": " + parts[i].Text
				break
			}
		}
	}

	return parts, nil
}

// cleanParts validates parts and resolves blob references to inline payloads.
// Empty or unresolvable parts are dropped; a turn never goes out with zero
// parts, so an all-dropped list collapses to one empty text part.
func (s *Service) cleanParts(ctx context.Context, parts []store.Part) ([]provider.Part, error) {
	cleaned := make([]provider.Part, 0, len(parts))

	for _, part := range parts {
		switch {
		case part.InlineData != nil && len(part.InlineData.Data) > 0:
			cleaned = append(cleaned, provider.Part{
				MimeType: defaultMime(part.InlineData.MimeType),
				Data:     part.InlineData.Data,
			})

		case part.InlineData != nil && part.InlineData.BlobRef != "":
			data, err := s.blobs.Get(ctx, part.InlineData.BlobRef)
			if err != nil {
				s.logger.Warn("dropping unresolvable inline part",
					"blob_ref", part.InlineData.BlobRef,
					"error", err)
				continue
			}
			cleaned = append(cleaned, provider.Part{
				MimeType: defaultMime(part.InlineData.MimeType),
				Data:     data,
			})

		case part.Text != "":
			cleaned = append(cleaned, provider.Part{Text: part.Text})
		}
	}

	if len(cleaned) == 0 {
		cleaned = append(cleaned, provider.Part{Text: ""})
	}

	return cleaned, nil
}

// FormatHistory converts a conversation's stored history into provider turns,
// resolving every inline part. A turn that loses all its parts to resolution
// failures keeps a single empty-text placeholder.
func (s *Service) FormatHistory(ctx context.Context, conv *store.Conversation) ([]provider.Turn, error) {
	history := make([]provider.Turn, 0, len(conv.History))

	for _, turn := range conv.History {
		parts, err := s.cleanParts(ctx, turn.Parts)
		if err != nil {
			return nil, err
		}
		history = append(history, provider.Turn{
			Role:  string(turn.Role),
			Parts: parts,
		})
	}

	return history, nil
}

func (s *Service) appendTurn(ctx context.Context, conversationID string, role store.Role, parts []store.Part) (*store.Turn, error) {
	turn := &store.Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
	if err := s.store.AppendTurn(ctx, conversationID, turn); err != nil {
		return nil, fmt.Errorf("failed to record %s turn: %w", role, err)
	}
	return turn, nil
}

// storeParts converts resolved provider parts back to storable parts.
// Resolved payloads are stored inline so history replay needs no blob access
// for parts that already resolved once.
func storeParts(parts []provider.Part) []store.Part {
	out := make([]store.Part, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, store.Part{InlineData: &store.InlineData{
				MimeType: p.MimeType,
				Data:     p.Data,
			}})
			continue
		}
		out = append(out, store.Part{Text: p.Text})
	}
	return out
}

func defaultMime(mimeType string) string {
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}
