package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestLockers_Exclusive(t *testing.T) {
	redisLocker, _ := newRedisLocker(t, time.Minute)

	tests := []struct {
		name   string
		locker Locker
	}{
		{name: "redis", locker: redisLocker},
		{name: "memory", locker: NewMemoryLocker()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			release, err := tt.locker.Acquire(ctx, "Bamboo")
			if err != nil {
				t.Fatalf("first Acquire failed: %v", err)
			}

			if _, err := tt.locker.Acquire(ctx, "Bamboo"); !errors.Is(err, ErrNotAcquired) {
				t.Fatalf("second Acquire: expected ErrNotAcquired, got %v", err)
			}

			// Other keys are independent.
			other, err := tt.locker.Acquire(ctx, "Bamboo-East")
			if err != nil {
				t.Fatalf("Acquire other key failed: %v", err)
			}
			defer other(ctx)

			if err := release(ctx); err != nil {
				t.Fatalf("release failed: %v", err)
			}

			again, err := tt.locker.Acquire(ctx, "Bamboo")
			if err != nil {
				t.Fatalf("Acquire after release failed: %v", err)
			}
			again(ctx)
		})
	}
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)

	stale, err := locker.Acquire(ctx, "Bamboo")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := locker.Acquire(ctx, "Bamboo"); err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}

	if err := stale(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}

	if !mr.Exists("collector:lock:Bamboo") {
		t.Error("stale release must not delete the new holder's lock")
	}
}

func TestRedisLocker_Unavailable(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)
	mr.Close()

	if _, err := locker.Acquire(ctx, "Bamboo"); err == nil || errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected connection error, got %v", err)
	}
}
