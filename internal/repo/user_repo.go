package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
	"github.com/google/uuid"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetPhantom(ctx context.Context, ownerID uuid.UUID, code string) (model.User, error)
	Create(ctx context.Context, user *model.User) error
}

type userRepo struct {
	db DBTX
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db DBTX) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, password_hash, active, phantom, phantom_owner_id, phantom_code, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Active,
		&user.Phantom,
		&user.PhantomOwner,
		&user.PhantomCode,
		&user.CreatedAt,
	)
	return user, err
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fault.NotFound("user", id)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by its (already case-folded) email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fault.NotFound("user", email)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetPhantom retrieves the phantom user created by ownerID under code
func (r *userRepo) GetPhantom(ctx context.Context, ownerID uuid.UUID, code string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phantom_owner_id = $1 AND phantom_code = $2`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, ownerID, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fault.NotFound("phantom user", code)
		}
		return model.User{}, fmt.Errorf("failed to query phantom user: %w", err)
	}
	return user, nil
}

// Create inserts a user. ID and CreatedAt are filled in when zero.
func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}

	query := `
		INSERT INTO users (id, email, password_hash, active, phantom, phantom_owner_id, phantom_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Active,
		user.Phantom,
		user.PhantomOwner,
		user.PhantomCode,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
