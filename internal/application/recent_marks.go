package application

import (
	"context"
	"sync"
	"time"
)

// MemoryMarks is an in-process RecentMarks with a TTL and a bounded size.
type MemoryMarks struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]time.Time
}

// NewMemoryMarks constructs a MemoryMarks. Non-positive arguments fall back to
// a 30 second TTL and 4096 entries.
func NewMemoryMarks(ttl time.Duration, maxEntries int, now func() time.Time) *MemoryMarks {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryMarks{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]time.Time),
	}
}

func markKey(studentID, sessionID string) string {
	return sessionID + "|" + studentID
}

// Seen reports whether the pair was marked within the TTL.
func (c *MemoryMarks) Seen(_ context.Context, studentID, sessionID string) (bool, error) {
	if c == nil {
		return false, nil
	}
	key := markKey(studentID, sessionID)
	c.mu.RLock()
	expiresAt, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if c.now().After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Mark records the pair until the TTL elapses.
func (c *MemoryMarks) Mark(_ context.Context, studentID, sessionID string) error {
	if c == nil {
		return nil
	}
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[markKey(studentID, sessionID)] = expiry
	return nil
}

// Forget drops a pair, used when its attendance row is removed.
func (c *MemoryMarks) Forget(_ context.Context, studentID, sessionID string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	delete(c.entries, markKey(studentID, sessionID))
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (c *MemoryMarks) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return len(c.entries)
}

func (c *MemoryMarks) cleanupLocked() {
	now := c.now()
	for key, expiresAt := range c.entries {
		if now.After(expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry.
func (c *MemoryMarks) evictOneLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, expiresAt := range c.entries {
		if oldestKey == "" || expiresAt.Before(oldest) {
			oldestKey, oldest = key, expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

var _ RecentMarks = (*MemoryMarks)(nil)
