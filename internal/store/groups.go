// ABOUTME: Group, membership, and user persistence for SQLiteStore
// ABOUTME: Groups carry lazily assigned agent IDs and the merged lesson plan

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateUser creates a new user record.
// Returns ErrDuplicateUser if the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, profile_pic, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.ProfilePic,
		user.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserBy(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email address.
// Returns ErrNotFound if no user has the given email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *SQLiteStore) getUserBy(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, name, email, profile_pic, created_at
		FROM users
		WHERE %s = ?
	`, column)

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.ProfilePic,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateGroup creates a group and its initial membership in one transaction.
// The admin is always a member, whether or not memberIDs includes them.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, admin_id, image_url, agent_id, study_agent_id, lesson_plan_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		group.ID,
		group.Name,
		group.AdminID,
		group.ImageURL,
		group.AgentID,
		group.StudyAgentID,
		nullString(string(group.LessonPlan)),
		group.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}

	seen := map[string]bool{}
	members := append([]string{group.AdminID}, memberIDs...)
	for _, userID := range members {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		`, group.ID, userID)
		if err != nil {
			return fmt.Errorf("inserting group member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group: %w", err)
	}

	s.logger.Debug("created group", "id", group.ID, "name", group.Name, "members", len(seen))
	return nil
}

// GetGroup retrieves a group with its member list populated.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	query := `
		SELECT id, name, admin_id, image_url, agent_id, study_agent_id, lesson_plan_json, created_at
		FROM groups
		WHERE id = ?
	`

	var group Group
	var lessonPlan sql.NullString
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&group.ID,
		&group.Name,
		&group.AdminID,
		&group.ImageURL,
		&group.AgentID,
		&group.StudyAgentID,
		&lessonPlan,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	if lessonPlan.Valid {
		group.LessonPlan = json.RawMessage(lessonPlan.String)
	}

	group.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	group.Members, err = s.getGroupMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	return &group, nil
}

// getGroupMembers loads the users belonging to a group
func (s *SQLiteStore) getGroupMembers(ctx context.Context, groupID string) ([]*User, error) {
	query := `
		SELECT u.id, u.name, u.email, u.profile_pic, u.created_at
		FROM users u
		JOIN group_members gm ON gm.user_id = u.id
		WHERE gm.group_id = ?
		ORDER BY u.name
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []*User
	for rows.Next() {
		var user User
		var createdAtStr string

		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePic, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}

		user.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing member created_at: %w", err)
		}

		members = append(members, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}

	return members, nil
}

// ListGroupsForUser retrieves all groups the user is a member of,
// most recently created first, with member lists populated.
func (s *SQLiteStore) ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error) {
	query := `
		SELECT g.id
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying groups for user: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group rows: %w", err)
	}

	groups := make([]*Group, 0, len(ids))
	for _, id := range ids {
		group, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// AddGroupMembers adds users to a group. Existing memberships are ignored.
func (s *SQLiteStore) AddGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, userID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)
		`, groupID, userID)
		if err != nil {
			return fmt.Errorf("adding group member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing membership: %w", err)
	}

	s.logger.Debug("added group members", "group_id", groupID, "count", len(memberIDs))
	return nil
}

// RemoveGroupMembers removes users from a group
func (s *SQLiteStore) RemoveGroupMembers(ctx context.Context, groupID string, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, userID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM group_members WHERE group_id = ? AND user_id = ?
		`, groupID, userID)
		if err != nil {
			return fmt.Errorf("removing group member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing membership: %w", err)
	}

	s.logger.Debug("removed group members", "group_id", groupID, "count", len(memberIDs))
	return nil
}

// SetGroupAgentID records the group assistant's agent ID
func (s *SQLiteStore) SetGroupAgentID(ctx context.Context, groupID, agentID string) error {
	return s.updateGroupColumn(ctx, groupID, "agent_id", agentID)
}

// SetGroupStudyAgentID records the study assistant's agent ID
func (s *SQLiteStore) SetGroupStudyAgentID(ctx context.Context, groupID, agentID string) error {
	return s.updateGroupColumn(ctx, groupID, "study_agent_id", agentID)
}

// SetGroupLessonPlan stores the merged curriculum artifact for a group
func (s *SQLiteStore) SetGroupLessonPlan(ctx context.Context, groupID string, plan json.RawMessage) error {
	return s.updateGroupColumn(ctx, groupID, "lesson_plan_json", string(plan))
}

func (s *SQLiteStore) updateGroupColumn(ctx context.Context, groupID, column, value string) error {
	query := fmt.Sprintf(`UPDATE groups SET %s = ? WHERE id = ?`, column)

	result, err := s.db.ExecContext(ctx, query, value, groupID)
	if err != nil {
		return fmt.Errorf("updating group %s: %w", column, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated group", "group_id", groupID, "column", column)
	return nil
}
