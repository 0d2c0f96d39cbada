// Package reconcile replays ledger records the consumer has not
// acknowledged. It trails the sealed partitions with a persisted
// cursor; the consumer's idempotency key absorbs duplicates.
package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Offset is the persisted reconciliation cursor for one consumer.
// ByteOffset is the resume position inside PartitionID: the first
// byte after the last acknowledged record.
type Offset struct {
	PartitionID      string `json:"partition_id"`
	ByteOffset       int64  `json:"byte_offset"`
	LastSeenSignalID string `json:"last_seen_signal_id"`
}

// OffsetStore persists the cursor via write-tmp-then-rename, so a
// crash leaves either the old cursor or the new one, never a torn
// file. Single writer: the reconcile job.
type OffsetStore struct {
	path string
}

// NewOffsetStore creates a store at path.
func NewOffsetStore(path string) *OffsetStore {
	return &OffsetStore{path: path}
}

// Load reads the cursor. A missing file means start from zero.
func (s *OffsetStore) Load() (Offset, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Offset{}, nil
		}
		return Offset{}, fmt.Errorf("load reconcile offset: %w", err)
	}
	var off Offset
	if err := json.Unmarshal(data, &off); err != nil {
		return Offset{}, fmt.Errorf("decode reconcile offset: %w", err)
	}
	return off, nil
}

// Save atomically persists the cursor.
func (s *OffsetStore) Save(off Offset) error {
	data, err := json.Marshal(off)
	if err != nil {
		return fmt.Errorf("encode reconcile offset: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("save reconcile offset: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save reconcile offset: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save reconcile offset: %w", err)
	}
	return nil
}
