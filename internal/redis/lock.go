package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLockKey serialises sweep runs across replicas.
const SweepLockKey = "lock:sweep"

// BookingLockKey returns the lock key guarding gateway calls for one booking.
func BookingLockKey(bookingID string) string {
	return fmt.Sprintf("lock:booking:%s", bookingID)
}

// releaseScript deletes the key only if it still holds the caller's token, so
// an expired lock re-acquired by someone else is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// Acquire attempts to take the lock at key for ttl.
// Returns the owner token and true if acquired, false if already held.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}

	return token, ok, nil
}

// Release releases the lock at key if token still owns it.
func (s *LockStore) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, s.client, []string{key}, token).Err()
}
