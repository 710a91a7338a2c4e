package retry

import (
	"sync"
	"time"
)

const (
	// trackerBaseDelay is the base delay for per-entity backoff:
	// 5s * 2^count.
	trackerBaseDelay = 5 * time.Second

	// trackerMaxDelay is the ceiling for per-entity backoff.
	trackerMaxDelay = 5 * time.Minute
)

type trackerEntry struct {
	count       int
	lastFailure time.Time
}

// Tracker holds per-entity retry backoff for background resubmission.
// Entries are keyed by entity id (message id, cid, reaction key).
// Backoff state is connection-scoped: Reset on every reconnect.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]trackerEntry
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]trackerEntry),
		now:     time.Now,
	}
}

// Check returns (waitUntil, true) if key is in backoff, or
// (zeroTime, false) if it may be attempted now.
func (t *Tracker) Check(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return time.Time{}, false
	}

	shift := entry.count
	if shift > maxShift {
		shift = maxShift
	}

	delay := trackerBaseDelay * time.Duration(1<<shift)
	if delay > trackerMaxDelay {
		delay = trackerMaxDelay
	}

	waitUntil := entry.lastFailure.Add(delay)
	if t.now().Before(waitUntil) {
		return waitUntil, true
	}

	return time.Time{}, false
}

// Record records a failure for key and returns the new failure count.
func (t *Tracker) Record(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[key]
	entry.count++
	entry.lastFailure = t.now()
	t.entries[key] = entry

	return entry.count
}

// Attempts returns the number of failures recorded for key.
func (t *Tracker) Attempts(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entries[key].count
}

// Clear removes key after a successful operation.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
}

// Reset drops all entries.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.entries)
}
