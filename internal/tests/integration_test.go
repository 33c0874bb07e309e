package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/config"
	"github.com/devicehub/server/internal/confirm"
	"github.com/devicehub/server/internal/events"
	httphandler "github.com/devicehub/server/internal/http"
	"github.com/devicehub/server/internal/http/handlers"
	"github.com/devicehub/server/internal/logging"
	"github.com/devicehub/server/internal/repo"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/trade"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}

	code := m.Run()
	os.Exit(code)
}

// testServer holds the server and store for integration tests
type testServer struct {
	Server *httptest.Server
	Store  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := NewPostgresStore(t)

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	logger := logging.Discard()
	userRepo := repo.NewUserRepo(st.DB())
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	authHandler := handlers.NewAuthHandler(auth.NewAuthService(jwtService, userRepo), nil, logger)
	t.Cleanup(authHandler.Close)

	router := httphandler.NewRouter(httphandler.Handlers{
		Health:  handlers.NewHealthHandler(st.DB()),
		Auth:    authHandler,
		Actions: handlers.NewActionHandler(st, trade.NewEngine(logger), confirm.NewEngine(logger), events.NewLogPublisher(logger), logger),
	}, jwtService, userRepo, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, Store: st}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// post sends body as JSON with an optional bearer token
func (s *testServer) post(t *testing.T, path, token string, body any) (int, string) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.BaseURL()+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, readBody(resp)
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()

	status, body := s.post(t, "/auth/login", "", map[string]string{"email": email, "password": TestPassword})
	require.Equal(t, http.StatusOK, status, "POST /auth/login must return 200; body: %s", body)

	var res loginResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	require.NotEmpty(t, res.AccessToken)
	return res.AccessToken
}

// Response types for JSON decoding in tests
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type actionResponse struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	User     string   `json:"user"`
	UserTo   string   `json:"userTo"`
	Devices  []int64  `json:"devices"`
	Confirms []string `json:"confirms"`
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
