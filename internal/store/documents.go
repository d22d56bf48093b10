// ABOUTME: Uploaded source document metadata for SQLiteStore
// ABOUTME: Document bytes live in the blob store; only references are kept here

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument records metadata for an uploaded source document
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (id, group_id, filename, content_type, blob_ref, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.GroupID,
		doc.Filename,
		doc.ContentType,
		doc.BlobRef,
		doc.UploadedBy,
		doc.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("saved document", "id", doc.ID, "group_id", doc.GroupID, "filename", doc.Filename)
	return nil
}

// GetDocument retrieves a document's metadata by ID.
// Returns ErrNotFound if the document doesn't exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, group_id, filename, content_type, blob_ref, uploaded_by, created_at
		FROM documents
		WHERE id = ?
	`

	var doc Document
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.GroupID,
		&doc.Filename,
		&doc.ContentType,
		&doc.BlobRef,
		&doc.UploadedBy,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	doc.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &doc, nil
}

// ListDocuments retrieves a group's documents oldest first. Session
// initialization reads the oldest documents as lesson source material.
func (s *SQLiteStore) ListDocuments(ctx context.Context, groupID string) ([]*Document, error) {
	query := `
		SELECT id, group_id, filename, content_type, blob_ref, uploaded_by, created_at
		FROM documents
		WHERE group_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var createdAtStr string

		if err := rows.Scan(&doc.ID, &doc.GroupID, &doc.Filename, &doc.ContentType, &doc.BlobRef, &doc.UploadedBy, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}

		doc.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing document created_at: %w", err)
		}

		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}

	return docs, nil
}
