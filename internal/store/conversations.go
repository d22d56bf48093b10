// ABOUTME: Conversation and turn persistence for SQLiteStore
// ABOUTME: Append-only turn histories keyed by unique agent ID

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateConversation creates a new conversation.
// If a conversation for the same agent ID already exists, it returns
// ErrDuplicateConversation; callers racing on first use retry the lookup.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	query := `
		INSERT INTO conversations (id, agent_id, scope_type, scope_id, participants_json, last_interaction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AgentID,
		conv.ScopeType,
		conv.ScopeID,
		string(participants),
		conv.LastInteraction.UTC().Format(timeFormat),
		conv.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "agent_id", conv.AgentID)
	return nil
}

// GetConversationByAgentID retrieves a conversation with its full turn history.
// Returns ErrNotFound if no conversation exists for the agent ID.
func (s *SQLiteStore) GetConversationByAgentID(ctx context.Context, agentID string) (*Conversation, error) {
	query := `
		SELECT id, agent_id, scope_type, scope_id, participants_json, last_interaction, created_at
		FROM conversations
		WHERE agent_id = ?
	`

	var conv Conversation
	var participantsJSON, lastInteractionStr, createdAtStr string

	err := s.db.QueryRowContext(ctx, query, agentID).Scan(
		&conv.ID,
		&conv.AgentID,
		&conv.ScopeType,
		&conv.ScopeID,
		&participantsJSON,
		&lastInteractionStr,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(participantsJSON), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}

	conv.LastInteraction, err = time.Parse(timeFormat, lastInteractionStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_interaction: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	conv.History, err = s.getTurns(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

// getTurns loads a conversation's turns in chronological order
func (s *SQLiteStore) getTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	query := `
		SELECT id, role, parts_json, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var role, partsJSON, createdAtStr string

		if err := rows.Scan(&turn.ID, &role, &partsJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}

		turn.Role = Role(role)

		if err := json.Unmarshal([]byte(partsJSON), &turn.Parts); err != nil {
			return nil, fmt.Errorf("decoding turn parts: %w", err)
		}

		turn.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing turn created_at: %w", err)
		}

		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	return turns, nil
}

// AppendTurn appends one turn to a conversation's history and bumps the
// conversation's last_interaction timestamp.
func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, turn *Turn) error {
	parts, err := json.Marshal(turn.Parts)
	if err != nil {
		return fmt.Errorf("encoding turn parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, role, parts_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		turn.ID,
		conversationID,
		string(turn.Role),
		string(parts),
		turn.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_interaction = ? WHERE id = ?
	`,
		turn.CreatedAt.UTC().Format(timeFormat),
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("updating last_interaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("appended turn", "conversation_id", conversationID, "role", turn.Role)
	return nil
}
