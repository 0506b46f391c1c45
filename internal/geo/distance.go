package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is Earth's mean radius used for the haversine calculation.
const EarthRadiusMeters = 6371000.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether p lies within the WGS84 coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineMeters calculates the great-circle distance between two points in meters.
func HaversineMeters(a, b Point) float64 {
	const degToRad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// IsWithinRadius reports whether a and b are at most radiusMeters apart.
func IsWithinRadius(a, b Point, radiusMeters float64) bool {
	return HaversineMeters(a, b) <= radiusMeters
}

// TravelTime estimates how long covering distanceMeters takes at speedKmh.
// A non-positive speed yields zero.
func TravelTime(distanceMeters, speedKmh float64) time.Duration {
	if speedKmh <= 0 {
		return 0
	}
	hours := (distanceMeters / 1000) / speedKmh
	return time.Duration(hours * float64(time.Hour))
}
