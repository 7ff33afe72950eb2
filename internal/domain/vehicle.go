package domain

import "time"

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Vehicle represents a listed car. Owned by exactly one host.
type Vehicle struct {
	ID          string
	HostID      string
	HostName    string
	FleetID     string
	Name        string
	Address     string
	Location    *GeoPoint // geocoded lazily from Address
	InstantBook bool
	TotalTrips  int
	LastTripAt  *time.Time
}
