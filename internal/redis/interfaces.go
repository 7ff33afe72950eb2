package redis

import (
	"context"
	"time"

	"carshare/internal/domain"
)

// Locker defines the interface for distributed locking.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// PointCache defines the interface for geocode result caching.
type PointCache interface {
	Get(ctx context.Context, address string) (*domain.GeoPoint, error)
	Set(ctx context.Context, address string, point domain.GeoPoint) error
}

// ResponseStore defines the interface for idempotent response storage.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Ensure concrete types implement interfaces.
var (
	_ Locker        = (*LockStore)(nil)
	_ PointCache    = (*GeocodeCache)(nil)
	_ ResponseStore = (*ResponseCache)(nil)
)
