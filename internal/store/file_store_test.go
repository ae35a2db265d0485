package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boweazy/smartflow/internal/log"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("open store: %s", err)
	}
	return s
}

func TestOpenInitializesEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("open store: %s", err)
	}
	posts, bookings, logs, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %s", err)
	}
	if posts != 0 || bookings != 0 || logs != 0 {
		t.Fatalf("expected empty store, got %d/%d/%d", posts, bookings, logs)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file not created: %s", err)
	}
}

func TestOpenFailsOnCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write corrupt file: %s", err)
	}
	if _, err := Open(path, log.NewNop()); err == nil {
		t.Fatal("expected error opening corrupt snapshot, got nil")
	}
	// The corrupt file must survive for inspection, not be reset.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %s", err)
	}
	if string(data) != "{not json" {
		t.Fatalf("corrupt snapshot was rewritten: %q", data)
	}
}

func TestOpenFailsOnBadIDCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	snap := `{"version":1,"next_id":1,"posts":[{"id":5,"platform":"x","content":"c","status":"scheduled"}]}`
	if err := os.WriteFile(path, []byte(snap), 0644); err != nil {
		t.Fatalf("write snapshot: %s", err)
	}
	if _, err := Open(path, log.NewNop()); err == nil {
		t.Fatal("expected error for id exceeding next_id, got nil")
	}
}

func TestAddPostAssignsSequentialIDs(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 5; i++ {
		saved, err := s.AddPost(Post{Platform: "x", Content: "hello", Status: StatusScheduled})
		if err != nil {
			t.Fatalf("add post: %s", err)
		}
		if saved.ID != int64(i) {
			t.Fatalf("expected id %d, got %d", i, saved.ID)
		}
	}
}

func TestConcurrentAddsKeepIDsUniqueAndGapless(t *testing.T) {
	s := newTestStore(t)
	const n = 20

	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			saved, err := s.AddPost(Post{Platform: "x", Content: "hello", Status: StatusScheduled})
			if err != nil {
				t.Errorf("add post: %s", err)
				return
			}
			ids <- saved.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing id %d", i)
		}
	}
}

func TestUpdatePostNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdatePost(Post{ID: 42, Status: StatusPublished})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBookingNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateBooking(Booking{ID: 7})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePostRefusesToLeaveTerminalStatus(t *testing.T) {
	s := newTestStore(t)
	saved, err := s.AddPost(Post{Platform: "x", Content: "hello", Status: StatusScheduled})
	if err != nil {
		t.Fatalf("add post: %s", err)
	}
	saved.Status = StatusPublished
	if err := s.UpdatePost(saved); err != nil {
		t.Fatalf("mark published: %s", err)
	}

	// A caller holding a stale copy must not be able to re-arm the post.
	saved.Status = StatusScheduled
	err = s.UpdatePost(saved)
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	scheduled, err := s.ListPosts(StatusScheduled)
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if len(scheduled) != 0 {
		t.Fatalf("published post left terminal state: %+v", scheduled[0])
	}

	// Re-writing the same terminal status stays allowed (idempotent mark).
	saved.Status = StatusPublished
	external := "x_77"
	saved.ExternalID = &external
	if err := s.UpdatePost(saved); err != nil {
		t.Fatalf("same-status update rejected: %s", err)
	}
}

func TestUpdatePostPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	saved, err := s.AddPost(Post{Platform: "x", Content: "hello", Status: StatusScheduled})
	if err != nil {
		t.Fatalf("add post: %s", err)
	}
	saved.Status = StatusPublished
	saved.CreatedAt = time.Time{} // caller cannot clobber it
	if err := s.UpdatePost(saved); err != nil {
		t.Fatalf("update post: %s", err)
	}
	posts, err := s.ListPosts("")
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if posts[0].CreatedAt.IsZero() {
		t.Fatal("created_at was clobbered by update")
	}
	if !posts[0].UpdatedAt.After(posts[0].CreatedAt) && !posts[0].UpdatedAt.Equal(posts[0].CreatedAt) {
		t.Fatal("updated_at went backwards")
	}
}

func TestListPostsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	first, err := s.AddPost(Post{Platform: "x", Content: "first", Status: StatusScheduled})
	if err != nil {
		t.Fatalf("add post: %s", err)
	}
	second, err := s.AddPost(Post{Platform: "x", Content: "second", Status: StatusScheduled})
	if err != nil {
		t.Fatalf("add post: %s", err)
	}
	first.Status = StatusPublished
	if err := s.UpdatePost(first); err != nil {
		t.Fatalf("update post: %s", err)
	}

	scheduled, err := s.ListPosts(StatusScheduled)
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != second.ID {
		t.Fatalf("expected only post %d scheduled, got %+v", second.ID, scheduled)
	}

	all, err := s.ListPosts("")
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(all))
	}
	// Newest first; equal timestamps fall back to higher id first.
	if all[0].ID < all[1].ID {
		t.Fatalf("expected newest first, got ids %d, %d", all[0].ID, all[1].ID)
	}
}

func TestListReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddPost(Post{Platform: "x", Content: "original", Status: StatusScheduled}); err != nil {
		t.Fatalf("add post: %s", err)
	}
	posts, err := s.ListPosts("")
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	posts[0].Content = "mutated"

	again, err := s.ListPosts("")
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if again[0].Content != "original" {
		t.Fatalf("list returned a live reference, content = %q", again[0].Content)
	}
}

func TestActionLogIdempotence(t *testing.T) {
	s := newTestStore(t)
	booking, err := s.AddBooking(Booking{CustomerName: "Ann", Service: "cut", Status: StatusConfirmed, StartsAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("add booking: %s", err)
	}

	has, err := s.HasLog(booking.ID, ChannelEmail, KindBookingReminder)
	if err != nil {
		t.Fatalf("has log: %s", err)
	}
	if has {
		t.Fatal("log entry exists before any send")
	}

	entry := ActionLog{RecordID: booking.ID, Channel: ChannelEmail, Kind: KindBookingReminder}
	if err := s.AddLog(entry); err != nil {
		t.Fatalf("add log: %s", err)
	}
	if err := s.AddLog(entry); err != nil {
		t.Fatalf("add duplicate log: %s", err)
	}

	has, err = s.HasLog(booking.ID, ChannelEmail, KindBookingReminder)
	if err != nil {
		t.Fatalf("has log: %s", err)
	}
	if !has {
		t.Fatal("log entry missing after AddLog")
	}
	_, _, logs, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %s", err)
	}
	if logs != 1 {
		t.Fatalf("expected exactly one log entry, got %d", logs)
	}

	// Same record, different channel is a separate action.
	has, err = s.HasLog(booking.ID, ChannelSMS, KindBookingReminder)
	if err != nil {
		t.Fatalf("has log: %s", err)
	}
	if has {
		t.Fatal("sms log reported before any sms send")
	}
}

func TestAbandonedTempFileDoesNotCorruptStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	s, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("open store: %s", err)
	}
	if _, err := s.AddPost(Post{Platform: "x", Content: "committed", Status: StatusScheduled}); err != nil {
		t.Fatalf("add post: %s", err)
	}

	// A crash between temp write and rename leaves a partial temp file
	// behind. The committed snapshot must be unaffected.
	partial := filepath.Join(dir, "data.json.tmp-crash")
	if err := os.WriteFile(partial, []byte(`{"version":1,"next_`), 0644); err != nil {
		t.Fatalf("write partial temp file: %s", err)
	}

	reopened, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("reopen store: %s", err)
	}
	posts, err := reopened.ListPosts("")
	if err != nil {
		t.Fatalf("list posts: %s", err)
	}
	if len(posts) != 1 || posts[0].Content != "committed" {
		t.Fatalf("committed snapshot lost: %+v", posts)
	}
}

func TestAccounts(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.AccessToken("x"); err != nil || ok {
		t.Fatalf("expected no token, got ok=%v err=%v", ok, err)
	}
	if err := s.SaveAccount(Account{Platform: "x", AccessToken: "tok_123"}); err != nil {
		t.Fatalf("save account: %s", err)
	}
	token, ok, err := s.AccessToken("x")
	if err != nil {
		t.Fatalf("access token: %s", err)
	}
	if !ok || token != "tok_123" {
		t.Fatalf("expected tok_123, got %q ok=%v", token, ok)
	}
}

func TestBackupAndCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	s, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("open store: %s", err)
	}
	if _, err := s.AddPost(Post{Platform: "x", Content: "hello", Status: StatusScheduled}); err != nil {
		t.Fatalf("add post: %s", err)
	}

	// Reopening an existing snapshot keeps a backup copy.
	if _, err := Open(path, log.NewNop()); err != nil {
		t.Fatalf("reopen store: %s", err)
	}
	backups, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		t.Fatalf("glob backups: %s", err)
	}
	if len(backups) == 0 {
		t.Fatal("expected a snapshot backup after reopen")
	}

	if err := s.CleanupBackups(-time.Hour); err != nil {
		t.Fatalf("cleanup backups: %s", err)
	}
	backups, err = filepath.Glob(path + ".*.bak")
	if err != nil {
		t.Fatalf("glob backups: %s", err)
	}
	if len(backups) != 0 {
		t.Fatalf("expected backups pruned, got %v", backups)
	}
}
