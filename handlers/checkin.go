package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"presence-backend/auth"
	"presence-backend/contracts"
	"presence-backend/models"
	"presence-backend/store"
)

// MintVerifier confirms on-chain that a token was minted to a wallet
type MintVerifier interface {
	VerifyMint(ctx context.Context, txRef, tokenID, wallet string) error
}

type CheckinHandler struct {
	checkins store.CheckInStore
	verifier MintVerifier
	metrics  *Metrics
}

// NewCheckinHandler creates the check-in routes. verifier and metrics may be nil.
func NewCheckinHandler(checkins store.CheckInStore, verifier MintVerifier, metrics *Metrics) *CheckinHandler {
	return &CheckinHandler{checkins: checkins, verifier: verifier, metrics: metrics}
}

// Verify reports whether the caller has checked in to the event
func (h *CheckinHandler) Verify(c *gin.Context) {
	userID := c.GetString(auth.UserIDKey)
	eventID := c.Param("eventId")

	rec, err := h.checkins.GetCheckIn(c.Request.Context(), userID, eventID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, models.VerifyCheckInResponse{HasCheckedIn: false})
		return
	}
	if err != nil {
		log.Printf("Error verifying check-in: event=%s, user=%s: %v", eventID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, models.VerifyCheckInResponse{HasCheckedIn: true, CheckIn: rec})
}

// CheckIn records a minted proof-of-presence token for the caller
func (h *CheckinHandler) CheckIn(c *gin.Context) {
	var req models.CreateCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.write("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.WalletAddress) {
		h.metrics.write("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
		return
	}

	userID := c.GetString(auth.UserIDKey)
	eventID := c.Param("eventId")
	ctx := c.Request.Context()

	log.Printf("Checking in participant: event=%s, user=%s, token=%s", eventID, userID, req.TokenID)

	if h.verifier != nil {
		if err := h.verifier.VerifyMint(ctx, req.TxRef, req.TokenID, req.WalletAddress); err != nil {
			if errors.Is(err, contracts.ErrMintMismatch) {
				h.metrics.write("unverified")
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Token mint could not be verified on chain"})
				return
			}
			log.Printf("Error verifying mint on chain: tx=%s: %v", req.TxRef, err)
			h.metrics.write("error")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Ledger unavailable"})
			return
		}
	}

	rec, created, err := h.checkins.CreateCheckIn(ctx, models.CheckIn{
		UserID:        userID,
		EventID:       eventID,
		WalletAddress: req.WalletAddress,
		TokenID:       req.TokenID,
		TxRef:         req.TxRef,
	})

	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		h.metrics.write("conflict")
		log.Printf("Check-in conflict on %s: event=%s, user=%s", conflict.Field, eventID, userID)
		body := gin.H{"error": "User has already checked in to this event"}
		if conflict.Existing != nil {
			body["checkin"] = conflict.Existing
		} else {
			body["error"] = "Token or transaction already recorded for another check-in"
		}
		c.JSON(http.StatusConflict, body)
		return
	case err != nil:
		h.metrics.write("error")
		log.Printf("Error creating check-in: event=%s, user=%s: %v", eventID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record check-in"})
		return
	}

	if !created {
		h.metrics.write("replayed")
		c.JSON(http.StatusOK, rec)
		return
	}

	h.metrics.write("created")
	log.Printf("Successfully checked in participant: event=%s, user=%s", eventID, userID)
	c.JSON(http.StatusCreated, rec)
}

// ListMine returns the caller's check-ins, newest first
func (h *CheckinHandler) ListMine(c *gin.Context) {
	h.list(c, func(ctx context.Context, page store.Page) ([]models.CheckIn, int, error) {
		return h.checkins.ListByUser(ctx, c.GetString(auth.UserIDKey), page)
	})
}

// ListByEvent returns the event's check-ins, newest first
func (h *CheckinHandler) ListByEvent(c *gin.Context) {
	eventID := c.Param("id")
	h.list(c, func(ctx context.Context, page store.Page) ([]models.CheckIn, int, error) {
		return h.checkins.ListByEvent(ctx, eventID, page)
	})
}

func (h *CheckinHandler) list(c *gin.Context, fetch func(context.Context, store.Page) ([]models.CheckIn, int, error)) {
	page, err := parsePage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, total, err := fetch(c.Request.Context(), page)
	if err != nil {
		log.Printf("Error listing check-ins: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, models.CheckInPage{
		Items:    items,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  total > page.Offset()+len(items),
	})
}

func parsePage(c *gin.Context) (store.Page, error) {
	page := store.Page{Page: 1, PageSize: store.DefaultPageSize}
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, errors.New("page must be a positive integer")
		}
		page.Page = n
	}
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.MaxPageSize {
			return page, errors.New("page_size must be between 1 and 100")
		}
		page.PageSize = n
	}
	return page, nil
}
