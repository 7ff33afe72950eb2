package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"carshare/internal/domain"
)

const geocodeCachePrefix = "cache:geocode:"

// GeocodeCache stores resolved address coordinates in Redis.
type GeocodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGeocodeCache creates a new GeocodeCache.
func NewGeocodeCache(client *redis.Client, ttl time.Duration) *GeocodeCache {
	return &GeocodeCache{client: client, ttl: ttl}
}

type cachedPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Get returns the cached point for address, or nil on a cache miss.
func (c *GeocodeCache) Get(ctx context.Context, address string) (*domain.GeoPoint, error) {
	data, err := c.client.Get(ctx, geocodeKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var p cachedPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &domain.GeoPoint{Lat: p.Lat, Lng: p.Lng}, nil
}

// Set stores the point for address.
func (c *GeocodeCache) Set(ctx context.Context, address string, point domain.GeoPoint) error {
	data, err := json.Marshal(cachedPoint{Lat: point.Lat, Lng: point.Lng})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, geocodeKey(address), data, c.ttl).Err()
}

func geocodeKey(address string) string {
	return geocodeCachePrefix + strings.ToLower(strings.Join(strings.Fields(address), " "))
}
