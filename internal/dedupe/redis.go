// Package dedupe holds the shared recent-mark cache used to absorb repeated
// recognition signals across service replicas.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/classroom-attendance/internal/application"
)

// DefaultPrefix namespaces recent-mark keys.
const DefaultPrefix = "attendance:mark:"

// commands is the subset of the redis client RedisMarks needs.
type commands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisMarks stores recent (student, session) marks as expiring redis keys.
type RedisMarks struct {
	client commands
	prefix string
	ttl    time.Duration
}

// NewRedisMarks wraps client. A non-positive ttl falls back to 30 seconds and
// an empty prefix to DefaultPrefix.
func NewRedisMarks(client *redis.Client, prefix string, ttl time.Duration) *RedisMarks {
	if client == nil {
		return newRedisMarks(nil, prefix, ttl)
	}
	return newRedisMarks(client, prefix, ttl)
}

func newRedisMarks(client commands, prefix string, ttl time.Duration) *RedisMarks {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisMarks{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key a pair is stored under.
func (m *RedisMarks) Key(studentID, sessionID string) string {
	return m.prefix + sessionID + ":" + studentID
}

// Seen reports whether the pair was marked within the TTL. Without a client
// nothing is ever seen.
func (m *RedisMarks) Seen(ctx context.Context, studentID, sessionID string) (bool, error) {
	if m == nil || m.client == nil {
		return false, nil
	}
	n, err := m.client.Exists(ctx, m.Key(studentID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("recent mark lookup: %w", err)
	}
	return n > 0, nil
}

// Mark records the pair, refreshing the TTL when it is already present.
func (m *RedisMarks) Mark(ctx context.Context, studentID, sessionID string) error {
	if m == nil || m.client == nil {
		return nil
	}
	if err := m.client.Set(ctx, m.Key(studentID, sessionID), 1, m.ttl).Err(); err != nil {
		return fmt.Errorf("recent mark store: %w", err)
	}
	return nil
}

// Forget removes the pair, used when its attendance row is deleted.
func (m *RedisMarks) Forget(ctx context.Context, studentID, sessionID string) error {
	if m == nil || m.client == nil {
		return nil
	}
	err := m.client.Del(ctx, m.Key(studentID, sessionID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("recent mark delete: %w", err)
	}
	return nil
}

var _ application.RecentMarks = (*RedisMarks)(nil)
