package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis keeps keys in a map and ignores expiry.
type fakeRedis struct {
	keys    map[string]time.Duration
	failSet error
	failGet error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]time.Duration)}
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.keys[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if f.failGet != nil {
		return redis.NewIntResult(0, f.failGet)
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.keys[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.keys[key]; ok {
			delete(f.keys, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisMarksRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	marks := newRedisMarks(fake, "", 45*time.Second)

	seen, err := marks.Seen(ctx, "stu-1", "ses-1")
	if err != nil || seen {
		t.Fatalf("expected an unseen pair, got %v, %v", seen, err)
	}
	if err := marks.Mark(ctx, "stu-1", "ses-1"); err != nil {
		t.Fatalf("Mark returned error: %v", err)
	}
	if ttl := fake.keys["attendance:mark:ses-1:stu-1"]; ttl != 45*time.Second {
		t.Fatalf("expected key with 45s ttl, got %v (keys %v)", ttl, fake.keys)
	}
	seen, err = marks.Seen(ctx, "stu-1", "ses-1")
	if err != nil || !seen {
		t.Fatalf("expected a seen pair, got %v, %v", seen, err)
	}
	if seen, _ := marks.Seen(ctx, "stu-2", "ses-1"); seen {
		t.Fatalf("other students must not be seen")
	}

	if err := marks.Forget(ctx, "stu-1", "ses-1"); err != nil {
		t.Fatalf("Forget returned error: %v", err)
	}
	if seen, _ := marks.Seen(ctx, "stu-1", "ses-1"); seen {
		t.Fatalf("expected pair to be forgotten")
	}
}

func TestRedisMarksErrors(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")
	fake := newFakeRedis()
	fake.failSet = down
	fake.failGet = down
	marks := newRedisMarks(fake, "p:", 0)

	if marks.ttl != 30*time.Second {
		t.Fatalf("expected default ttl, got %v", marks.ttl)
	}
	if err := marks.Mark(ctx, "a", "b"); !errors.Is(err, down) {
		t.Fatalf("expected wrapped error from Mark, got %v", err)
	}
	if _, err := marks.Seen(ctx, "a", "b"); !errors.Is(err, down) {
		t.Fatalf("expected wrapped error from Seen, got %v", err)
	}
}

func TestRedisMarksWithoutClient(t *testing.T) {
	ctx := context.Background()
	marks := NewRedisMarks(nil, "", time.Minute)

	if err := marks.Mark(ctx, "a", "b"); err != nil {
		t.Fatalf("Mark without client returned error: %v", err)
	}
	if seen, err := marks.Seen(ctx, "a", "b"); err != nil || seen {
		t.Fatalf("expected nothing seen without client, got %v, %v", seen, err)
	}
	if got := marks.Key("stu", "ses"); got != DefaultPrefix+"ses:stu" {
		t.Fatalf("unexpected key %q", got)
	}
}
