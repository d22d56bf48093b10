// ABOUTME: Group chat message persistence for SQLiteStore
// ABOUTME: Messages are ordered oldest first for history reconstruction

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveGroupMessage saves a message to a group's chat history
func (s *SQLiteStore) SaveGroupMessage(ctx context.Context, msg *GroupMessage) error {
	query := `
		INSERT INTO group_messages (id, group_id, sender_id, text, image_ref, is_assistant, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	isAssistant := 0
	if msg.IsAssistant {
		isAssistant = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.GroupID,
		msg.SenderID,
		msg.Text,
		msg.ImageRef,
		isAssistant,
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting group message: %w", err)
	}

	s.logger.Debug("saved group message", "id", msg.ID, "group_id", msg.GroupID)
	return nil
}

// GetGroupMessages retrieves a group's messages in chronological order
func (s *SQLiteStore) GetGroupMessages(ctx context.Context, groupID string) ([]*GroupMessage, error) {
	query := `
		SELECT id, group_id, sender_id, text, image_ref, is_assistant, created_at
		FROM group_messages
		WHERE group_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group messages: %w", err)
	}
	defer rows.Close()

	var messages []*GroupMessage
	for rows.Next() {
		var msg GroupMessage
		var isAssistant int
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &msg.Text, &msg.ImageRef, &isAssistant, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.IsAssistant = isAssistant != 0

		msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}
