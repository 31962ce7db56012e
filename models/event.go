package models

import (
	"time"

	"presence-backend/geo"
)

// Event is the off-chain event metadata the check-in flow reads
type Event struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	LocationLabel string    `json:"location" db:"location_label"`
	Latitude      *float64  `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64  `json:"longitude,omitempty" db:"longitude"`
	RadiusMeters  *float64  `json:"radius_meters,omitempty" db:"radius_meters"`
	ImageURL      string    `json:"image_url" db:"image_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Location returns the event geofence, or nil when the event has no coordinate
func (e Event) Location() *geo.Location {
	if e.Latitude == nil || e.Longitude == nil {
		return nil
	}
	loc := &geo.Location{Coordinate: geo.Coordinate{Latitude: *e.Latitude, Longitude: *e.Longitude}}
	if e.RadiusMeters != nil {
		loc.RadiusMeters = *e.RadiusMeters
	}
	return loc
}

type CreateEventRequest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name" binding:"required"`
	Description   string   `json:"description"`
	LocationLabel string   `json:"location"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	RadiusMeters  *float64 `json:"radius_meters"`
	ImageURL      string   `json:"image_url"`
}
