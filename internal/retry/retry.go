package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/boweazy/smartflow/internal/log"

	"go.uber.org/zap"
)

// Tracker paces reminder retries per (record, channel). Failed sends back
// off exponentially with jitter instead of being re-attempted on every poll
// cycle, and give up after maxAttempts. State is in-memory: a restart simply
// restarts the schedule, the ActionLog still prevents double-sends.
type Tracker struct {
	baseBackoff time.Duration
	maxAttempts int
	logger      *log.Logger

	mu     sync.Mutex
	states map[stateKey]*state
}

type stateKey struct {
	recordID int64
	channel  string
}

type state struct {
	attempts      int
	nextAttemptAt time.Time
}

func NewTracker(baseBackoff time.Duration, maxAttempts int, logger *log.Logger) *Tracker {
	return &Tracker{
		baseBackoff: baseBackoff,
		maxAttempts: maxAttempts,
		logger:      logger,
		states:      make(map[stateKey]*state),
	}
}

// Ready reports whether a send may be attempted now. Exhausted records and
// records still inside their backoff window are held back.
func (t *Tracker) Ready(recordID int64, channel string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[stateKey{recordID, channel}]
	if !ok {
		return true
	}
	if st.attempts >= t.maxAttempts {
		return false
	}
	return !now.Before(st.nextAttemptAt)
}

// RecordFailure advances the backoff schedule after a failed send.
// Base doubles per attempt; jitter of +/- 20% avoids thundering herd.
func (t *Tracker) RecordFailure(recordID int64, channel string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := stateKey{recordID, channel}
	st, ok := t.states[key]
	if !ok {
		st = &state{}
		t.states[key] = st
	}
	st.attempts++

	baseBackoff := t.baseBackoff * time.Duration(1<<st.attempts)
	jitterFactor := 0.8 + (rand.Float64() * 0.4)
	backoff := time.Duration(float64(baseBackoff) * jitterFactor)
	st.nextAttemptAt = now.Add(backoff)

	if st.attempts >= t.maxAttempts {
		t.logger.Warn("Retries exhausted",
			zap.Int64("record_id", recordID), zap.String("channel", channel), zap.Int("attempts", st.attempts))
		return
	}
	t.logger.Info("Scheduled retry",
		zap.Int64("record_id", recordID), zap.String("channel", channel),
		zap.Int("attempts", st.attempts), zap.Duration("backoff", backoff))
}

// Clear forgets the schedule after a successful send.
func (t *Tracker) Clear(recordID int64, channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, stateKey{recordID, channel})
}

// Attempts returns the failure count so far for a record and channel.
func (t *Tracker) Attempts(recordID int64, channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[stateKey{recordID, channel}]; ok {
		return st.attempts
	}
	return 0
}
