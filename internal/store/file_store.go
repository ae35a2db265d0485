package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/boweazy/smartflow/internal/log"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Update* when no record carries the given id.
var ErrNotFound = errors.New("record not found")

// ErrTerminal is returned by UpdatePost when the stored post is already
// published or failed and the update would move it to another status.
var ErrTerminal = errors.New("record is terminal")

// FileStore is the single durable store for posts, bookings, action logs and
// the id counter. One mutex serializes every operation; each operation reads
// the whole snapshot, mutates it and writes it back atomically. Coarse on
// purpose: volumes are small and correctness beats throughput here.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *log.Logger
}

// Open initializes the store at path. A missing file starts empty; an
// unreadable or corrupt file is a hard error so bad state never gets
// silently discarded.
func Open(path string, logger *log.Logger) (*FileStore, error) {
	s := &FileStore{path: path, logger: logger}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		snap := newSnapshot()
		if err := s.persist(snap); err != nil {
			logger.Error("Failed to initialize snapshot", zap.Error(err), zap.String("path", path))
			return nil, fmt.Errorf("initialize snapshot: %w", err)
		}
		logger.Info("Initialized empty snapshot", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		logger.Error("Failed to read snapshot", zap.Error(err), zap.String("path", path))
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if _, err := decodeSnapshot(data); err != nil {
		logger.Error("Snapshot is corrupt, refusing to start", zap.Error(err), zap.String("path", path))
		return nil, fmt.Errorf("snapshot %s is corrupt: %w", path, err)
	}
	if err := backupSnapshotFile(path); err != nil {
		logger.Error("Failed to back up snapshot", zap.Error(err))
		return nil, fmt.Errorf("back up snapshot: %w", err)
	}
	logger.Info("Opened snapshot", zap.String("path", path))
	return s, nil
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

func (s *FileStore) persist(snap *Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return writeSnapshotFile(s.path, data)
}

// AddPost assigns the next id and appends the post. The counter advance and
// the append share one critical section and one persisted write, so a failed
// write never burns an id.
func (s *FileStore) AddPost(p Post) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return Post{}, err
	}
	now := time.Now().UTC()
	p.ID = snap.NextID
	p.CreatedAt = now
	p.UpdatedAt = now
	snap.NextID++
	snap.Posts = append(snap.Posts, p)
	if err := s.persist(snap); err != nil {
		s.logger.Error("Failed to persist post", zap.Error(err), zap.Int64("id", p.ID))
		return Post{}, fmt.Errorf("persist post: %w", err)
	}
	return p, nil
}

// UpdatePost replaces the stored post with the same id.
func (s *FileStore) UpdatePost(p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	for i := range snap.Posts {
		if snap.Posts[i].ID == p.ID {
			// Terminality is checked here, under the lock, so a caller
			// working from a stale read can never re-arm a published or
			// failed post.
			if Terminal(snap.Posts[i].Status) && p.Status != snap.Posts[i].Status {
				return fmt.Errorf("update post %d: %w", p.ID, ErrTerminal)
			}
			p.CreatedAt = snap.Posts[i].CreatedAt
			p.UpdatedAt = time.Now().UTC()
			snap.Posts[i] = p
			if err := s.persist(snap); err != nil {
				s.logger.Error("Failed to persist post update", zap.Error(err), zap.Int64("id", p.ID))
				return fmt.Errorf("persist post update: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("update post %d: %w", p.ID, ErrNotFound)
}

// ListPosts returns posts, optionally filtered by status, newest first. The
// result is a copy; callers iterate without holding the store lock.
func (s *FileStore) ListPosts(status string) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(snap.Posts))
	for _, p := range snap.Posts {
		if status == "" || p.Status == status {
			posts = append(posts, p)
		}
	}
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

// AddBooking assigns the next id and appends the booking.
func (s *FileStore) AddBooking(b Booking) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return Booking{}, err
	}
	now := time.Now().UTC()
	b.ID = snap.NextID
	b.CreatedAt = now
	b.UpdatedAt = now
	snap.NextID++
	snap.Bookings = append(snap.Bookings, b)
	if err := s.persist(snap); err != nil {
		s.logger.Error("Failed to persist booking", zap.Error(err), zap.Int64("id", b.ID))
		return Booking{}, fmt.Errorf("persist booking: %w", err)
	}
	return b, nil
}

// UpdateBooking replaces the stored booking with the same id.
func (s *FileStore) UpdateBooking(b Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	for i := range snap.Bookings {
		if snap.Bookings[i].ID == b.ID {
			b.CreatedAt = snap.Bookings[i].CreatedAt
			b.UpdatedAt = time.Now().UTC()
			snap.Bookings[i] = b
			if err := s.persist(snap); err != nil {
				s.logger.Error("Failed to persist booking update", zap.Error(err), zap.Int64("id", b.ID))
				return fmt.Errorf("persist booking update: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("update booking %d: %w", b.ID, ErrNotFound)
}

// ListBookings returns bookings, optionally filtered by status, newest first.
func (s *FileStore) ListBookings(status string) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	bookings := make([]Booking, 0, len(snap.Bookings))
	for _, b := range snap.Bookings {
		if status == "" || b.Status == status {
			bookings = append(bookings, b)
		}
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		if bookings[i].CreatedAt.Equal(bookings[j].CreatedAt) {
			return bookings[i].ID > bookings[j].ID
		}
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
	return bookings, nil
}

// AddLog records that a side-effecting action succeeded. Call it only after
// the external call completed. A duplicate (record id, channel, kind) is
// absorbed so at most one entry ever exists.
func (s *FileStore) AddLog(entry ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	for _, l := range snap.Logs {
		if l.RecordID == entry.RecordID && l.Channel == entry.Channel && l.Kind == entry.Kind {
			return nil
		}
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	snap.Logs = append(snap.Logs, entry)
	if err := s.persist(snap); err != nil {
		s.logger.Error("Failed to persist action log", zap.Error(err), zap.Int64("record_id", entry.RecordID))
		return fmt.Errorf("persist action log: %w", err)
	}
	return nil
}

// HasLog reports whether the action already succeeded for this record,
// channel and kind.
func (s *FileStore) HasLog(recordID int64, channel, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return false, err
	}
	for _, l := range snap.Logs {
		if l.RecordID == recordID && l.Channel == channel && l.Kind == kind {
			return true, nil
		}
	}
	return false, nil
}

// SaveAccount stores platform credentials for the publisher.
func (s *FileStore) SaveAccount(acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	snap.Accounts[acc.Platform] = acc
	if err := s.persist(snap); err != nil {
		s.logger.Error("Failed to persist account", zap.Error(err), zap.String("platform", acc.Platform))
		return fmt.Errorf("persist account: %w", err)
	}
	return nil
}

// AccessToken returns the stored token for a platform, if any.
func (s *FileStore) AccessToken(platform string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return "", false, err
	}
	acc, ok := snap.Accounts[platform]
	if !ok || acc.AccessToken == "" {
		return "", false, nil
	}
	return acc.AccessToken, true, nil
}

// Counts reports collection sizes for metrics.
func (s *FileStore) Counts() (posts, bookings, logs int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return 0, 0, 0, err
	}
	return len(snap.Posts), len(snap.Bookings), len(snap.Logs), nil
}

// CleanupBackups prunes snapshot backups older than retention.
func (s *FileStore) CleanupBackups(retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cleanupBackups(s.path, retention)
}
