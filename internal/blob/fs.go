// ABOUTME: Filesystem-backed implementation of the blob Store interface
// ABOUTME: One file per blob under a root directory, named by generated reference

package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore stores blobs as files under a root directory
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates a filesystem blob store rooted at dir.
// The directory is created if it doesn't exist.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FSStore{
		root:   dir,
		logger: slog.Default().With("component", "blob"),
	}, nil
}

// Put stores the payload and returns its reference
func (s *FSStore) Put(ctx context.Context, data []byte, meta Metadata) (string, error) {
	ref := uuid.New().String()
	if ext := filepath.Ext(meta.Filename); ext != "" && !strings.ContainsAny(ext, "/\\") {
		ref += ext
	}

	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	s.logger.Debug("stored blob", "ref", ref, "size", len(data), "content_type", meta.ContentType)
	return ref, nil
}

// Get resolves a reference to its full payload
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Open resolves a reference to a streaming reader
func (s *FSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob
func (s *FSStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}

	s.logger.Debug("deleted blob", "ref", ref)
	return nil
}

// resolve maps a reference to a path under the root, rejecting traversal
func (s *FSStore) resolve(ref string) (string, error) {
	if ref == "" || strings.Contains(ref, "/") || strings.Contains(ref, "\\") || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.root, ref), nil
}

// Ensure FSStore implements Store
var _ Store = (*FSStore)(nil)
