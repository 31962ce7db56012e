package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-backend/auth"
	"presence-backend/contracts"
	"presence-backend/models"
	"presence-backend/store"
)

const (
	signingKey = "handler-test-key"
	issuer     = "presence-test"
	wallet     = "0x1111111111111111111111111111111111111111"
)

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) VerifyMint(context.Context, string, string, string) error { return f.err }

type testServer struct {
	router  *gin.Engine
	store   *store.Memory
	metrics *Metrics
}

func newTestServer(t *testing.T, verifier MintVerifier) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	Register(router, Deps{
		CheckIns:      mem,
		Events:        mem,
		Verifier:      verifier,
		Metrics:       metrics,
		Health:        nil,
		JWTSigningKey: signingKey,
		JWTIssuer:     issuer,
	})
	return &testServer{router: router, store: mem, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := auth.Issue(user, issuer, signingKey, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func checkinBody(token string) models.CreateCheckInRequest {
	return models.CreateCheckInRequest{WalletAddress: wallet, TokenID: token, TxRef: "0xtx-" + token}
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/v1/checkins/e1/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerifyBeforeAndAfterCheckIn(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/checkins/e1/verify", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.VerifyCheckInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.HasCheckedIn)
	assert.Nil(t, resp.CheckIn)

	w = s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", checkinBody("1"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/checkins/e1/verify", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasCheckedIn)
	require.NotNil(t, resp.CheckIn)
	assert.Equal(t, "1", resp.CheckIn.TokenID)
	assert.Equal(t, "u1", resp.CheckIn.UserID)

	// another user is unaffected
	w = s.do(t, http.MethodGet, "/api/v1/checkins/e1/verify", "u2", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.HasCheckedIn)
}

func TestCheckInReplayAndConflict(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", checkinBody("1"))
	require.Equal(t, http.StatusCreated, w.Code)
	var first models.CheckIn
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", checkinBody("1"))
	require.Equal(t, http.StatusOK, w.Code)
	var replay models.CheckIn
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
	assert.Equal(t, first.ID, replay.ID)

	w = s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", checkinBody("2"))
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		Error   string          `json:"error"`
		CheckIn *models.CheckIn `json:"checkin"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.NotEmpty(t, conflict.Error)
	require.NotNil(t, conflict.CheckIn)
	assert.Equal(t, "1", conflict.CheckIn.TokenID)

	// token reuse by another user leaks nothing
	w = s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u2", checkinBody("1"))
	require.Equal(t, http.StatusConflict, w.Code)
	conflict.CheckIn = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Nil(t, conflict.CheckIn)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.CheckInWrites.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.CheckInWrites.WithLabelValues("replayed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.CheckInWrites.WithLabelValues("conflict")))
}

func TestCheckInValidation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", map[string]string{"wallet_address": wallet})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := checkinBody("1")
	body.WalletAddress = "not-a-wallet"
	w = s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckInOnchainVerification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"verified", nil, http.StatusCreated},
		{"mismatch", fmt.Errorf("wrap: %w", contracts.ErrMintMismatch), http.StatusUnprocessableEntity},
		{"ledger down", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, fakeVerifier{err: tt.err})
			w := s.do(t, http.MethodPost, "/api/v1/checkins/e1", "u1", checkinBody("1"))
			assert.Equal(t, tt.code, w.Code)
			if tt.err != nil {
				_, err := s.store.GetCheckIn(context.Background(), "u1", "e1")
				assert.ErrorIs(t, err, store.ErrNotFound)
			}
		})
	}
}

func TestListings(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/events", "u1", models.CreateEventRequest{ID: "e1", Name: "Meetup", ImageURL: "https://img/1.png"})
	require.Equal(t, http.StatusCreated, w.Code)

	for i := 0; i < 3; i++ {
		w := s.do(t, http.MethodPost, "/api/v1/checkins/e1", fmt.Sprintf("u%d", i), checkinBody(fmt.Sprint(i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/v1/events/e1/checkins?page=1&page_size=2", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.CheckInPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "Meetup", page.Items[0].EventName)

	w = s.do(t, http.MethodGet, "/api/v1/events/e1/checkins?page=2&page_size=2", "u1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	w = s.do(t, http.MethodGet, "/api/v1/users/me/checkins", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, store.DefaultPageSize, page.PageSize)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "u2", page.Items[0].UserID)

	for _, q := range []string{"page=0", "page=abc", "page_size=0", "page_size=101"} {
		w = s.do(t, http.MethodGet, "/api/v1/users/me/checkins?"+q, "u2", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, nil)
	lat, lng, radius := 10.77, 106.70, 150.0

	w := s.do(t, http.MethodPost, "/api/v1/events", "u1", models.CreateEventRequest{
		Name: "Meetup", LocationLabel: "District 1", Latitude: &lat, Longitude: &lng, RadiusMeters: &radius,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = s.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Location())
	assert.Equal(t, 150.0, got.Location().Radius())

	w = s.do(t, http.MethodGet, "/api/v1/events/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	bad := 95.0
	w = s.do(t, http.MethodPost, "/api/v1/events", "u1", models.CreateEventRequest{Name: "x", Latitude: &bad, Longitude: &lng})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/events", "u1", models.CreateEventRequest{Name: "x", Latitude: &lat})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/events", "u1", models.CreateEventRequest{ID: created.ID, Name: "dup"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInstrumentCountsRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/api/v1/checkins/e1/verify", "u1", nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		s.metrics.Requests.WithLabelValues("/api/v1/checkins/:eventId/verify", http.MethodGet, "200")))
}
