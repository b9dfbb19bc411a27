package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore persists archives under Root/<batch-id>/<name> on the local
// filesystem. It is the default ArchiveStore backend.
type LocalStore struct {
	Root string
}

// NewLocalStore returns a LocalStore rooted at root. root is created lazily
// on first Put.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) path(batchID, name string) string {
	return filepath.Join(s.Root, batchID, name)
}

// Put streams r to Root/batchID/name, creating the batch directory as
// needed. Writes go to a temp file first and are renamed into place so a
// reader never observes a partially-written object.
func (s *LocalStore) Put(ctx context.Context, batchID, name string, r io.Reader) (int64, error) {
	dir := filepath.Join(s.Root, batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating batch directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s/%s: %w", batchID, name, err)
	}

	dest := s.path(batchID, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("finalizing %s/%s: %w", batchID, name, err)
	}
	return n, nil
}

// Get opens Root/batchID/name for reading.
func (s *LocalStore) Get(ctx context.Context, batchID, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(batchID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{BatchID: batchID, Name: name}
		}
		return nil, fmt.Errorf("opening %s/%s: %w", batchID, name, err)
	}
	return f, nil
}

// Delete removes Root/batchID and everything under it.
func (s *LocalStore) Delete(ctx context.Context, batchID string) error {
	dir := filepath.Join(s.Root, batchID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing batch directory %s: %w", dir, err)
	}
	return nil
}
