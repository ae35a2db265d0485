package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const snapshotVersion = 1

// Snapshot is the complete persisted image of the store: every record, every
// action log and the id counter. It is always written as one document so a
// reader never observes a partial state.
type Snapshot struct {
	Version  int                `json:"version"`
	NextID   int64              `json:"next_id"`
	Posts    []Post             `json:"posts"`
	Bookings []Booking          `json:"bookings"`
	Logs     []ActionLog        `json:"logs"`
	Accounts map[string]Account `json:"accounts"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Version:  snapshotVersion,
		NextID:   1,
		Accounts: make(map[string]Account),
	}
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.NextID < 1 {
		return nil, fmt.Errorf("snapshot next_id %d out of range", snap.NextID)
	}
	for _, p := range snap.Posts {
		if p.ID >= snap.NextID {
			return nil, fmt.Errorf("snapshot post id %d exceeds next_id %d", p.ID, snap.NextID)
		}
	}
	for _, b := range snap.Bookings {
		if b.ID >= snap.NextID {
			return nil, fmt.Errorf("snapshot booking id %d exceeds next_id %d", b.ID, snap.NextID)
		}
	}
	if snap.Accounts == nil {
		snap.Accounts = make(map[string]Account)
	}
	return &snap, nil
}

// encodeSnapshot keeps the file indented so it stays hand-inspectable.
func encodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// writeSnapshotFile replaces path atomically: write to a temp file in the
// same directory, fsync, then rename over the old file. A reader either sees
// the previous snapshot or the new one, never a truncated mix.
func writeSnapshotFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// backupSnapshotFile keeps the previous snapshot as a timestamped sibling
// before it is replaced.
func backupSnapshotFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot for backup: %w", err)
	}
	timestamp := time.Now().UTC().Format("20060102T150405")
	backupPath := fmt.Sprintf("%s.%s.bak", path, timestamp)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return fmt.Errorf("write snapshot backup: %w", err)
	}
	return nil
}

// cleanupBackups removes snapshot backups older than the retention window.
func cleanupBackups(path string, retention time.Duration) error {
	files, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		return fmt.Errorf("list snapshot backups: %w", err)
	}
	cutoff := time.Now().UTC().Add(-retention)
	prefix := filepath.Base(path) + "."
	for _, file := range files {
		name := filepath.Base(file)
		timeStr := name[len(prefix) : len(name)-len(".bak")]
		t, err := time.Parse("20060102T150405", timeStr)
		if err != nil {
			continue // skip malformed files
		}
		if t.Before(cutoff) {
			if err := os.Remove(file); err != nil {
				return fmt.Errorf("remove old backup %s: %w", file, err)
			}
		}
	}
	return nil
}
