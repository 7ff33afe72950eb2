// Package geocode resolves vehicle addresses to coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"googlemaps.github.io/maps"

	"carshare/internal/domain"
	"carshare/internal/redis"
)

// ErrNoResult is returned when an address resolves to nothing.
var ErrNoResult = errors.New("address not found")

// Geocoder resolves an address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (domain.GeoPoint, error)
}

// Google resolves addresses with the Google Maps Geocoding API.
type Google struct {
	client *maps.Client
}

// NewGoogle creates a Google geocoder with the given API key.
func NewGoogle(apiKey string) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client}, nil
}

// Geocode returns the location of the best match for address.
func (g *Google) Geocode(ctx context.Context, address string) (domain.GeoPoint, error) {
	if txn := newrelic.FromContext(ctx); txn != nil {
		seg := newrelic.ExternalSegment{
			StartTime: txn.StartSegmentNow(),
			URL:       "https://maps.googleapis.com/maps/api/geocode/json",
			Procedure: "Geocode",
			Library:   "googlemaps",
		}
		defer seg.End()
	}

	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return domain.GeoPoint{}, ErrNoResult
	}

	loc := results[0].Geometry.Location
	return domain.GeoPoint{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// Cached consults a point cache before delegating to next.
// Cache errors degrade to a provider lookup.
type Cached struct {
	next  Geocoder
	cache redis.PointCache
}

// NewCached wraps next with cache.
func NewCached(next Geocoder, cache redis.PointCache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Geocode(ctx context.Context, address string) (domain.GeoPoint, error) {
	if p, err := c.cache.Get(ctx, address); err == nil && p != nil {
		return *p, nil
	}

	p, err := c.next.Geocode(ctx, address)
	if err != nil {
		return domain.GeoPoint{}, err
	}

	_ = c.cache.Set(ctx, address, p)
	return p, nil
}

// Static serves a fixed address book. It backs local runs without an API key
// and tests.
type Static struct {
	points map[string]domain.GeoPoint
}

// NewStatic creates a geocoder over points, keyed by case-insensitive address.
func NewStatic(points map[string]domain.GeoPoint) *Static {
	s := &Static{points: make(map[string]domain.GeoPoint, len(points))}
	for addr, p := range points {
		s.points[strings.ToLower(strings.TrimSpace(addr))] = p
	}
	return s
}

func (s *Static) Geocode(ctx context.Context, address string) (domain.GeoPoint, error) {
	p, ok := s.points[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return domain.GeoPoint{}, ErrNoResult
	}
	return p, nil
}

// Ensure implementations satisfy Geocoder.
var (
	_ Geocoder = (*Google)(nil)
	_ Geocoder = (*Cached)(nil)
	_ Geocoder = (*Static)(nil)
)
