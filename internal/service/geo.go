package service

import "math"

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance in metres between two
// points in decimal degrees.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// unavailableFix reports the (0,0) coordinate devices send when they have no fix.
func unavailableFix(lat, lng float64) bool {
	return lat == 0 && lng == 0
}
