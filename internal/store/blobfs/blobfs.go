// Package blobfs implements store.BlobStore over the local filesystem
// rooted at the configured photo path, holding registered avatar images
// named "<user>.<suffix>".
package blobfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store writes blobs as files under Dir.
type Store struct {
	Dir string
}

// New ensures Dir exists and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "blobfs: create photo dir")
	}
	return &Store{Dir: dir}, nil
}

// Put writes data to name (e.g. "alice.png"), overwriting any prior blob.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	path, err := s.safeJoin(name)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "blobfs: write blob")
}

// Get reads name's content. Returns ok=false if the blob does not exist.
func (s *Store) Get(_ context.Context, name string) ([]byte, bool, error) {
	path, err := s.safeJoin(name)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "blobfs: read blob")
	}
	return data, true, nil
}

// safeJoin rejects names that would escape Dir via path traversal — the
// suffix half of REG_PHOTO's name is client-supplied.
func (s *Store) safeJoin(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || filepath.IsAbs(clean) || filepath.Dir(clean) != "." {
		return "", errors.Errorf("blobfs: invalid blob name %q", name)
	}
	return filepath.Join(s.Dir, clean), nil
}
