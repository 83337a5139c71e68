package quote

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"auction-coordinator/pkg/types"
)

// FileStore persists quotes to JSON files, one per fingerprint, standing
// in for the out-of-scope persistent SQL store spec.md §1 names as an
// external collaborator (same role the Order Book's snapshot file plays
// for C6). Adapted from the teacher's internal/store package: atomic
// write-then-rename per key under a mutex, one file per record.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// OpenFileStore creates a FileStore backed by dir, creating it if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("quote: create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(fingerprint [32]byte) string {
	return filepath.Join(s.dir, "quote_"+hex.EncodeToString(fingerprint[:])+".json")
}

// Save atomically persists q under fingerprint.
func (s *FileStore) Save(_ context.Context, fingerprint [32]byte, q *types.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("quote: marshal: %w", err)
	}
	path := s.path(fingerprint)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("quote: write: %w", err)
	}
	return os.Rename(tmp, path)
}

// Lookup restores the quote saved under fingerprint, if any.
func (s *FileStore) Lookup(_ context.Context, fingerprint [32]byte) (*types.Quote, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("quote: read: %w", err)
	}

	var q types.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, false, fmt.Errorf("quote: unmarshal: %w", err)
	}
	return &q, true, nil
}
