package models

import (
	"time"
)

// CheckIn is the durable proof that a user attended an event. At most one
// exists per (user_id, event_id).
type CheckIn struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	EventID       string    `json:"event_id" db:"event_id"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	TokenID       string    `json:"token_id" db:"token_id"`
	TxRef         string    `json:"tx_ref" db:"tx_ref"`
	CheckedInAt   time.Time `json:"checked_in_at" db:"checked_in_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	EventName     string    `json:"event_name,omitempty" db:"event_name"`
	EventImage    string    `json:"event_image,omitempty" db:"event_image"`
}

// SameMint reports whether other describes the same minted token
func (c CheckIn) SameMint(other CheckIn) bool {
	return c.TokenID == other.TokenID && c.TxRef == other.TxRef && c.WalletAddress == other.WalletAddress
}

type CreateCheckInRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	TokenID       string `json:"token_id" binding:"required"`
	TxRef         string `json:"tx_ref" binding:"required"`
}

type VerifyCheckInResponse struct {
	HasCheckedIn bool     `json:"has_checked_in"`
	CheckIn      *CheckIn `json:"checkin,omitempty"`
}

// CheckInPage is one page of a check-in listing, newest first
type CheckInPage struct {
	Items    []CheckIn `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	HasMore  bool      `json:"has_more"`
}
