package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/confirm"
	"github.com/devicehub/server/internal/events"
	apihttp "github.com/devicehub/server/internal/http"
	"github.com/devicehub/server/internal/http/handlers"
	"github.com/devicehub/server/internal/logging"
	"github.com/devicehub/server/internal/middleware"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/tests"
	"github.com/devicehub/server/internal/trade"
)

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newLimitedTestServer(t, nil)
}

func newLimitedTestServer(t *testing.T, actionLimiter *middleware.RateLimiter) *testServer {
	t.Helper()

	st := tests.NewSQLiteStore(t)
	logger := logging.Discard()
	userRepo := repo.NewUserRepo(st.DB())
	jwtService := auth.NewJWTService("test-secret", time.Hour)

	authHandler := handlers.NewAuthHandler(auth.NewAuthService(jwtService, userRepo), nil, logger)
	t.Cleanup(authHandler.Close)

	router := apihttp.NewRouter(apihttp.Handlers{
		Health:  handlers.NewHealthHandler(st.DB()),
		Auth:    authHandler,
		Actions: handlers.NewActionHandler(st, trade.NewEngine(logger), confirm.NewEngine(logger), events.NewLogPublisher(logger), logger),

		ActionLimiter: actionLimiter,
	}, jwtService, userRepo, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	status := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": tests.TestPassword,
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bearer", resp.TokenType)
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

type action struct {
	ID       uuid.UUID   `json:"id"`
	Type     string      `json:"type"`
	Devices  []int64     `json:"devices"`
	Confirms []uuid.UUID `json:"confirms"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var body map[string]bool
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil, &body))
	assert.True(t, body["ok"])
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)
	user := tests.CreateUser(t, s.store, "a@example.com")

	token := s.login(t, "A@Example.com")

	var me struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/me", token, nil, &me))
	assert.Equal(t, user.ID.String(), me.ID)
	assert.Equal(t, "a@example.com", me.Email)
	assert.Empty(t, me.Roles)

	var errBody map[string]string
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "wrong",
	}, &errBody))
	assert.Equal(t, auth.ErrInvalidCredentials.Error(), errBody["error"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/me", "/actions/"} {
		assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, path, "", nil, nil), path)
		assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, path, "garbage", nil, nil), path)
	}
}

func TestTradeRevokeScenario(t *testing.T) {
	s := newTestServer(t)
	a := tests.CreateUser(t, s.store, "a@example.com")
	b := tests.CreateUser(t, s.store, "b@example.com")
	d1 := tests.CreateDevice(t, s.store, a.ID)
	l := tests.CreateLot(t, s.store, a.ID, "returns")

	tokenA := s.login(t, a.Email)
	tokenB := s.login(t, b.Email)

	// Trade without mandatory confirmation moves the device straight away
	var tr action
	status := s.do(t, http.MethodPost, "/actions/", tokenA, map[string]any{
		"type":     "Trade",
		"devices":  []int64{d1.ID},
		"userFrom": a.Email,
		"userTo":   b.Email,
		"lot":      l.ID,
		"confirm":  false,
	}, &tr)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Trade", tr.Type)
	assert.Len(t, tr.Confirms, 2)

	device := tests.GetDevice(t, s.store, d1.ID)
	assert.Equal(t, b.ID, device.OwnerID)
	assert.Equal(t, model.TradingTradeConfirmed, device.Trading)
	assert.Equal(t, []int64{d1.ID}, tests.GetLot(t, s.store, l.ID).DeviceIDs)

	// Revoke takes the device out of the lot
	var rv action
	status = s.do(t, http.MethodPost, "/actions/", tokenA, map[string]any{
		"type":    "Revoke",
		"action":  tr.ID,
		"devices": []int64{d1.ID},
	}, &rv)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Revoke", rv.Type)
	assert.Empty(t, tests.GetLot(t, s.store, l.ID).DeviceIDs)
	assert.Equal(t, model.TradingRevoke, tests.GetDevice(t, s.store, d1.ID).Trading)

	// ConfirmRevoke hands the device back
	var cr action
	status = s.do(t, http.MethodPost, "/actions/", tokenB, map[string]any{
		"type":    "ConfirmRevoke",
		"action":  rv.ID,
		"devices": []int64{d1.ID},
	}, &cr)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ConfirmRevoke", cr.Type)

	device = tests.GetDevice(t, s.store, d1.ID)
	assert.Equal(t, a.ID, device.OwnerID)
	assert.Equal(t, model.TradingRevokeConfirmed, device.Trading)
	assert.NotContains(t, tests.GetAction(t, s.store, tr.ID).DeviceIDs, d1.ID)
	assert.NotContains(t, tests.GetLot(t, s.store, l.ID).DeviceIDs, d1.ID)

	// both parties can read the trade
	for _, token := range []string{tokenA, tokenB} {
		var got action
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/actions/"+tr.ID.String(), token, nil, &got))
		assert.Equal(t, tr.ID, got.ID)
	}
}

func TestRevokeNeedsConfirmedDevices(t *testing.T) {
	s := newTestServer(t)
	a := tests.CreateUser(t, s.store, "a@example.com")
	b := tests.CreateUser(t, s.store, "b@example.com")
	d1 := tests.CreateDevice(t, s.store, a.ID)
	token := s.login(t, a.Email)

	var tr action
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/actions/", token, map[string]any{
		"type":     "Trade",
		"devices":  []int64{d1.ID},
		"userFrom": a.Email,
		"userTo":   b.Email,
		"confirm":  true,
	}, &tr))
	actionsBefore := tests.CountRows(t, s.store, "actions")

	var errBody map[string]string
	status := s.do(t, http.MethodPost, "/actions/", token, map[string]any{
		"type":    "Revoke",
		"action":  tr.ID,
		"devices": []int64{d1.ID},
	}, &errBody)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Some of devices do not have enough to confirm for to do a revoke", errBody["error"])

	device := tests.GetDevice(t, s.store, d1.ID)
	assert.Equal(t, a.ID, device.OwnerID)
	assert.Equal(t, model.TradingConfirm, device.Trading)
	assert.Equal(t, actionsBefore, tests.CountRows(t, s.store, "actions"))
}

func TestActionCreationIsRateLimitedPerUser(t *testing.T) {
	limiter := middleware.NewRateLimiter(time.Minute, 1)
	t.Cleanup(limiter.Close)

	s := newLimitedTestServer(t, limiter)
	a := tests.CreateUser(t, s.store, "a@example.com")
	b := tests.CreateUser(t, s.store, "b@example.com")
	tokenA, tokenB := s.login(t, a.Email), s.login(t, b.Email)

	// an invalid body still uses up the request
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/actions/", tokenA, map[string]any{"type": "Trade"}, nil))
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/actions/", tokenA, map[string]any{"type": "Trade"}, nil))

	// other users and reads are not affected
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(t, http.MethodPost, "/actions/", tokenB, map[string]any{"type": "Trade"}, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/actions/", tokenA, nil, nil))
}
