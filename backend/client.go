package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"presence-backend/auth"
	"presence-backend/checkin"
	"presence-backend/models"
)

// Client calls the check-in backend as the user its token belongs to.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	token  string
	userID string
	logger *slog.Logger
}

var _ checkin.Recorder = (*Client)(nil)

// New creates a client for the bearer token's subject.
func New(baseURL, accessToken string, logger *slog.Logger) (*Client, error) {
	userID, err := auth.SubjectUnverified(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		token:   accessToken,
		userID:  userID,
		logger:  logger,
	}, nil
}

// UserID returns the user the client acts as
func (c *Client) UserID() string {
	return c.userID
}

// StatusError is a non-success response the client has no better mapping for
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Body)
}

func (c *Client) checkUser(userID string) error {
	if userID != c.userID {
		return fmt.Errorf("client is authenticated as %s, not %s", c.userID, userID)
	}
	return nil
}

// GetCheckIn returns the user's check-in for the event, or nil when none exists.
func (c *Client) GetCheckIn(ctx context.Context, userID, eventID string) (*checkin.Record, error) {
	if err := c.checkUser(userID); err != nil {
		return nil, err
	}

	var out struct {
		HasCheckedIn bool            `json:"has_checked_in"`
		CheckIn      *models.CheckIn `json:"checkin"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/checkins/"+url.PathEscape(eventID)+"/verify", nil, &out); err != nil {
		return nil, err
	}
	if !out.HasCheckedIn || out.CheckIn == nil {
		return nil, nil
	}
	return toRecord(out.CheckIn), nil
}

// CreateCheckIn records a minted token. Replays of an identical request
// succeed; a different existing check-in yields *checkin.ConflictError.
func (c *Client) CreateCheckIn(ctx context.Context, req checkin.CreateRequest) (*checkin.Record, error) {
	if err := c.checkUser(req.UserID); err != nil {
		return nil, err
	}

	body := models.CreateCheckInRequest{
		WalletAddress: req.WalletAddress,
		TokenID:       req.TokenID,
		TxRef:         req.TxRef,
	}
	var out models.CheckIn
	code, err := c.do(ctx, http.MethodPost, "/api/v1/checkins/"+url.PathEscape(req.EventID), body, &out)
	if err != nil {
		return nil, err
	}
	if code == http.StatusOK {
		c.logger.Debug("check-in already recorded with the same token", "event_id", req.EventID, "token_id", req.TokenID)
	}
	return toRecord(&out), nil
}

// GetEvent fetches the event metadata the check-in needs
func (c *Client) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var out models.Event
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMine returns one page of the user's check-ins
func (c *Client) ListMine(ctx context.Context, page, pageSize int) (*models.CheckInPage, error) {
	path := fmt.Sprintf("/api/v1/users/me/checkins?page=%d&page_size=%d", page, pageSize)
	var out models.CheckInPage
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fmt.Errorf("backend request failed: %w: %w", checkin.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		var conflict struct {
			Error   string          `json:"error"`
			CheckIn *models.CheckIn `json:"checkin"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return resp.StatusCode, &checkin.ConflictError{}
		}
		return resp.StatusCode, &checkin.ConflictError{Existing: toRecord(conflict.CheckIn)}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%w: %w", checkin.ErrTransient, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)})
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func toRecord(m *models.CheckIn) *checkin.Record {
	if m == nil {
		return nil
	}
	return &checkin.Record{
		ID:            m.ID,
		UserID:        m.UserID,
		EventID:       m.EventID,
		WalletAddress: m.WalletAddress,
		TokenID:       m.TokenID,
		TxRef:         m.TxRef,
		CheckedInAt:   m.CheckedInAt,
		CreatedAt:     m.CreatedAt,
		EventName:     m.EventName,
		EventImage:    m.EventImage,
	}
}
