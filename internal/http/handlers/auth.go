package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/auth"
	"github.com/devicehub/server/internal/middleware"
)

// RoleChecker looks up the ledger roles of a user
type RoleChecker interface {
	UserRoles(ctx context.Context, email string) ([]string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	roles       RoleChecker
	ipLimiter   *middleware.RateLimiter
	logger      *logrus.Logger
}

// NewAuthHandler creates a new auth handler. roles may be nil when no ledger
// is configured.
func NewAuthHandler(authService *auth.AuthService, roles RoleChecker, logger *logrus.Logger) *AuthHandler {
	// 20 login attempts per 10 minutes per IP
	return &AuthHandler{
		authService: authService,
		roles:       roles,
		ipLimiter:   middleware.NewRateLimiter(10*time.Minute, 20),
		logger:      logger,
	}
}

// Close stops the login rate limiter
func (h *AuthHandler) Close() {
	h.ipLimiter.Close()
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the JSON response for login
type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	user, token, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.WithField("email", maskEmail(req.Email)).Info("login rejected")
			respondWithError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.logger.WithError(err).Error("login failed")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User: userResponse{
			ID:    user.ID.String(),
			Email: user.Email,
		},
	})
}

// HandleMe handles GET /me (protected). Returns the authenticated user and,
// when a ledger is configured, its roles there.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	response := userResponse{
		ID:    user.ID.String(),
		Email: user.Email,
	}
	if h.roles != nil {
		roles, err := h.roles.UserRoles(r.Context(), user.Email)
		if err != nil {
			h.logger.WithError(err).WithField("user_id", user.ID).Warn("role lookup failed")
		} else {
			response.Roles = roles
		}
	}

	respondWithJSON(w, http.StatusOK, response)
}

// maskEmail hides the local part of an email for logging (e.g., a***@example.com)
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "****"
	}
	return email[:1] + strings.Repeat("*", 3) + email[at:]
}
