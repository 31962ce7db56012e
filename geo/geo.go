package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula
const EarthRadiusMeters = 6371000.0

// DefaultRadiusMeters applies when an event does not configure its own radius
const DefaultRadiusMeters = 100.0

// Coordinate is a WGS-84 point in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is the geofence of an event: a center and a radius in meters
type Location struct {
	Coordinate   Coordinate `json:"coordinate"`
	RadiusMeters float64    `json:"radius_meters"`
}

// Radius returns the configured radius or DefaultRadiusMeters when unset
func (l Location) Radius() float64 {
	if l.RadiusMeters <= 0 {
		return DefaultRadiusMeters
	}
	return l.RadiusMeters
}

// Contains reports whether c lies inside the geofence
func (l Location) Contains(c Coordinate) bool {
	return WithinRadius(c, l.Coordinate, l.Radius())
}

// DistanceMeters calculates the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLng := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng

	// rounding can push h slightly outside [0,1] near the poles and antipodes
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether user is at most radiusMeters away from event
func WithinRadius(user, event Coordinate, radiusMeters float64) bool {
	return DistanceMeters(user, event) <= radiusMeters
}

// Validate checks that latitude and longitude are within their WGS-84 ranges
func Validate(c Coordinate) error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", c.Longitude)
	}
	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
