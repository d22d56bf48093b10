// ABOUTME: Study chat persistence: per-(group, topic) messages and quiz state
// ABOUTME: The UNIQUE(group_id, topic) constraint backs first-use race handling

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateStudyChat creates a study chat for a (group, topic) pair.
// Returns ErrDuplicateStudyChat if one already exists; callers racing on
// first use retry the lookup.
func (s *SQLiteStore) CreateStudyChat(ctx context.Context, chat *StudyChat) error {
	quizJSON, err := encodeQuiz(chat.Quiz)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO study_chats (id, group_id, topic, ai_context, quiz_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		chat.ID,
		chat.GroupID,
		chat.Topic,
		chat.AIContext,
		quizJSON,
		chat.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateStudyChat
		}
		return fmt.Errorf("inserting study chat: %w", err)
	}

	if len(chat.Messages) > 0 {
		if err := s.AppendStudyMessages(ctx, chat.ID, messagePointers(chat.Messages)...); err != nil {
			return err
		}
	}

	s.logger.Debug("created study chat", "id", chat.ID, "group_id", chat.GroupID, "topic", chat.Topic)
	return nil
}

func encodeQuiz(quiz *Quiz) (any, error) {
	if quiz == nil {
		return nil, nil
	}
	data, err := json.Marshal(quiz)
	if err != nil {
		return nil, fmt.Errorf("encoding quiz: %w", err)
	}
	return string(data), nil
}

func messagePointers(msgs []StudyMessage) []*StudyMessage {
	out := make([]*StudyMessage, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out
}

// GetStudyChat retrieves the study chat for a (group, topic) pair with its
// messages loaded in chronological order.
// Returns ErrNotFound if no chat exists.
func (s *SQLiteStore) GetStudyChat(ctx context.Context, groupID, topic string) (*StudyChat, error) {
	query := `
		SELECT id, group_id, topic, ai_context, quiz_json, created_at
		FROM study_chats
		WHERE group_id = ? AND topic = ?
	`

	chat, err := s.scanStudyChat(s.db.QueryRowContext(ctx, query, groupID, topic))
	if err != nil {
		return nil, err
	}

	chat.Messages, err = s.getStudyMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	return chat, nil
}

// ListStudyChats retrieves all study chats for a group, oldest first, with
// messages loaded. Used by the group-wide skills aggregation.
func (s *SQLiteStore) ListStudyChats(ctx context.Context, groupID string) ([]*StudyChat, error) {
	query := `
		SELECT id, group_id, topic, ai_context, quiz_json, created_at
		FROM study_chats
		WHERE group_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying study chats: %w", err)
	}
	defer rows.Close()

	var chats []*StudyChat
	for rows.Next() {
		chat, err := s.scanStudyChatRow(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating study chat rows: %w", err)
	}

	for _, chat := range chats {
		chat.Messages, err = s.getStudyMessages(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
	}

	return chats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanStudyChat(row *sql.Row) (*StudyChat, error) {
	chat, err := s.scanStudyChatRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return chat, err
}

func (s *SQLiteStore) scanStudyChatRow(row rowScanner) (*StudyChat, error) {
	var chat StudyChat
	var quizJSON sql.NullString
	var createdAtStr string

	err := row.Scan(
		&chat.ID,
		&chat.GroupID,
		&chat.Topic,
		&chat.AIContext,
		&quizJSON,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning study chat: %w", err)
	}

	if quizJSON.Valid {
		var quiz Quiz
		if err := json.Unmarshal([]byte(quizJSON.String), &quiz); err != nil {
			return nil, fmt.Errorf("decoding quiz: %w", err)
		}
		chat.Quiz = &quiz
	}

	chat.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &chat, nil
}

// getStudyMessages loads a chat's messages in chronological order
func (s *SQLiteStore) getStudyMessages(ctx context.Context, chatID string) ([]StudyMessage, error) {
	query := `
		SELECT id, chat_id, sender_id, role, content, created_at
		FROM study_messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying study messages: %w", err)
	}
	defer rows.Close()

	var messages []StudyMessage
	for rows.Next() {
		var msg StudyMessage
		var senderID sql.NullString
		var role, createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ChatID, &senderID, &role, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning study message: %w", err)
		}

		msg.Author = Author{Kind: AuthorKind(role)}
		if senderID.Valid {
			msg.Author.UserID = senderID.String
		}

		msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing study message created_at: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating study message rows: %w", err)
	}

	return messages, nil
}

// AppendStudyMessages appends messages to a study chat
func (s *SQLiteStore) AppendStudyMessages(ctx context.Context, chatID string, msgs ...*StudyMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertStudyMessages(ctx, tx, chatID, msgs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing study messages: %w", err)
	}

	s.logger.Debug("appended study messages", "chat_id", chatID, "count", len(msgs))
	return nil
}

// ClaimStudyChat inserts msg as the chat's very first message, but only if the
// chat still has none: the insert and the emptiness check are one statement,
// so two racing claimants cannot both succeed. Returns ErrStudyChatNotEmpty
// to the loser.
func (s *SQLiteStore) ClaimStudyChat(ctx context.Context, chatID string, msg *StudyMessage) error {
	var senderID any
	if msg.Author.Kind == AuthorHuman {
		senderID = msg.Author.UserID
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO study_messages (id, chat_id, sender_id, role, content, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM study_messages WHERE chat_id = ?)
	`,
		msg.ID,
		chatID,
		senderID,
		string(msg.Author.Kind),
		msg.Content,
		msg.CreatedAt.UTC().Format(timeFormat),
		chatID,
	)
	if err != nil {
		return fmt.Errorf("claiming study chat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStudyChatNotEmpty
	}

	s.logger.Debug("claimed study chat", "chat_id", chatID)
	return nil
}

// ReplaceStudyMessages atomically replaces a chat's entire message list.
// Used to overwrite the initialization placeholder with the real lesson.
func (s *SQLiteStore) ReplaceStudyMessages(ctx context.Context, chatID string, msgs ...*StudyMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM study_messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clearing study messages: %w", err)
	}

	if err := insertStudyMessages(ctx, tx, chatID, msgs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing study messages: %w", err)
	}

	s.logger.Debug("replaced study messages", "chat_id", chatID, "count", len(msgs))
	return nil
}

func insertStudyMessages(ctx context.Context, tx *sql.Tx, chatID string, msgs []*StudyMessage) error {
	for _, msg := range msgs {
		var senderID any
		if msg.Author.Kind == AuthorHuman {
			senderID = msg.Author.UserID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO study_messages (id, chat_id, sender_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			msg.ID,
			chatID,
			senderID,
			string(msg.Author.Kind),
			msg.Content,
			msg.CreatedAt.UTC().Format(timeFormat),
		)
		if err != nil {
			return fmt.Errorf("inserting study message: %w", err)
		}
	}
	return nil
}

// SetStudyChatQuiz stores (or clears, with nil) a chat's quiz state
func (s *SQLiteStore) SetStudyChatQuiz(ctx context.Context, chatID string, quiz *Quiz) error {
	quizJSON, err := encodeQuiz(quiz)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE study_chats SET quiz_json = ? WHERE id = ?
	`, quizJSON, chatID)
	if err != nil {
		return fmt.Errorf("updating quiz: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated study chat quiz", "chat_id", chatID, "cleared", quiz == nil)
	return nil
}
