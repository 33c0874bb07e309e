package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
)

// ErrInvalidCredentials is returned for unknown emails, wrong passwords and
// accounts that cannot log in (inactive or phantom).
var ErrInvalidCredentials = errors.New("invalid email or password")

// AuthService orchestrates authentication operations
type AuthService struct {
	jwtService *JWTService
	userRepo   repo.UserRepo
}

// NewAuthService creates a new auth service
func NewAuthService(jwtService *JWTService, userRepo repo.UserRepo) *AuthService {
	return &AuthService{
		jwtService: jwtService,
		userRepo:   userRepo,
	}
}

// Login checks the password of an active user and issues an access token
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.userRepo.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if fault.IsNotFound(err) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}

	if !user.Active || user.Phantom || user.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.jwtService.SignAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	return &user, token, nil
}

// HashPassword returns the bcrypt hash stored for a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
