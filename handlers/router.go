package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence-backend/auth"
	"presence-backend/store"
)

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds what the routes are built from. Verifier, Metrics and Health may be nil.
type Deps struct {
	CheckIns      store.CheckInStore
	Events        store.EventStore
	Verifier      MintVerifier
	Metrics       *Metrics
	Health        Pinger
	JWTSigningKey string
	JWTIssuer     string
}

// Register mounts the API on router
func Register(router *gin.Engine, d Deps) {
	if d.Metrics != nil {
		router.Use(d.Metrics.Instrument())
	}

	eventHandler := NewEventHandler(d.Events)
	checkinHandler := NewCheckinHandler(d.CheckIns, d.Verifier, d.Metrics)

	api := router.Group("/api/v1", auth.Bearer(d.JWTSigningKey, d.JWTIssuer))
	{
		// Event routes
		api.POST("/events", eventHandler.CreateEvent)
		api.GET("/events/:id", eventHandler.GetEvent)
		api.GET("/events/:id/checkins", checkinHandler.ListByEvent)

		// Checkin routes
		api.GET("/checkins/:eventId/verify", checkinHandler.Verify)
		api.POST("/checkins/:eventId", checkinHandler.CheckIn)
		api.GET("/users/me/checkins", checkinHandler.ListMine)
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
}
