package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// FSStore is an ArtifactStore on the local filesystem, for development and
// single-node deployments. Keys shard into two-character subdirectories to
// keep directory listings small.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem artifact store rooted at root
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put stores bytes under their content digest and returns the reference
func (s *FSStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := contentRef(data)
	dir := filepath.Join(s.root, ref[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	final := filepath.Join(dir, ref)
	if _, err := os.Stat(final); err == nil {
		// content-addressed: the bytes are already there
		return ref, nil
	}

	// write-then-rename so readers never observe a partial artifact
	tmp, err := os.CreateTemp(dir, ref+".tmp*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return ref, nil
}

// Get retrieves the bytes behind a reference
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if len(ref) < 2 {
		return nil, domain.ErrDocumentNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, ref[:2], ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", ref, err)
	}
	return data, nil
}

var _ ports.ArtifactStore = (*FSStore)(nil)
