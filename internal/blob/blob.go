// ABOUTME: Blob store adapter: opaque put/get/delete of binary content by reference
// ABOUTME: Conversation history stores references; payloads resolve on demand

package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists for a reference
var ErrNotFound = errors.New("blob not found")

// Metadata describes a stored blob
type Metadata struct {
	ContentType string
	Filename    string
}

// Store is the external blob storage collaborator. References are opaque to
// callers; only the issuing store can resolve them.
type Store interface {
	// Put stores the payload and returns a reference to it
	Put(ctx context.Context, data []byte, meta Metadata) (string, error)

	// Get resolves a reference to its full payload
	Get(ctx context.Context, ref string) ([]byte, error)

	// Open resolves a reference to a streaming reader. Callers must close it.
	// Preferred over Get for large documents.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting an unknown reference returns ErrNotFound.
	Delete(ctx context.Context, ref string) error
}
