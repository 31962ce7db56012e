package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence-backend/geo"
	"presence-backend/models"
	"presence-backend/store"
)

type EventHandler struct {
	events store.EventStore
}

func NewEventHandler(events store.EventStore) *EventHandler {
	return &EventHandler{events: events}
}

func (h *EventHandler) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if (req.Latitude == nil) != (req.Longitude == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude must be set together"})
		return
	}
	if req.Latitude != nil {
		if err := geo.Validate(geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.RadiusMeters != nil && *req.RadiusMeters <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius_meters must be positive"})
		return
	}

	log.Printf("Creating event: id=%s, name=%s", req.ID, req.Name)

	event, err := h.events.CreateEvent(c.Request.Context(), models.Event{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		LocationLabel: req.LocationLabel,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		RadiusMeters:  req.RadiusMeters,
		ImageURL:      req.ImageURL,
	})
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Event already exists"})
		return
	}
	if err != nil {
		log.Printf("Error creating event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create event"})
		return
	}

	c.JSON(http.StatusCreated, event)
}

func (h *EventHandler) GetEvent(c *gin.Context) {
	event, err := h.events.GetEvent(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	if err != nil {
		log.Printf("Error fetching event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, event)
}
