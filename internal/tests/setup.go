package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/devicehub/server/internal/db"
	"github.com/devicehub/server/internal/logging"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
	"github.com/devicehub/server/internal/store"
)

// TestPassword is the password of every user created by CreateUser.
const TestPassword = "correct horse battery staple"

// NewSQLiteStore opens a migrated SQLite database in a temp dir.
func NewSQLiteStore(t *testing.T) *store.Store {
	t.Helper()

	logger := logging.Discard()
	path := filepath.Join(t.TempDir(), "devicehub.db")

	database, err := db.Open(context.Background(), db.SQLite, path, logger)
	require.NoError(t, err, "sqlite open must succeed")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database, db.SQLite, logger), "migrations must run successfully")
	return store.New(database, db.SQLite, logger)
}

// NewPostgresStore opens DATABASE_URL, migrates it and truncates every table.
// The test is skipped when DATABASE_URL is not set.
func NewPostgresStore(t *testing.T) *store.Store {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}

	logger := logging.Discard()
	ctx := context.Background()

	database, err := db.Open(ctx, db.Postgres, databaseURL, logger)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database, db.Postgres, logger), "migrations must run successfully")
	require.NoError(t, TruncateTables(ctx, database))
	return store.New(database, db.Postgres, logger)
}

// TruncateTables empties every table for a clean test state (postgres only).
func TruncateTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, `
		TRUNCATE TABLE proof_transfers, action_devices, trades, lot_devices, lots, actions, devices, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// CreateUser inserts an active user with TestPassword.
func CreateUser(t *testing.T, st *store.Store, email string) model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := model.User{Email: email, PasswordHash: string(hash), Active: true}
	require.NoError(t, repo.NewUserRepo(st.DB()).Create(context.Background(), &user))
	return user
}

// CreateDevice inserts a device owned by owner.
func CreateDevice(t *testing.T, st *store.Store, owner uuid.UUID) *model.Device {
	t.Helper()

	device := &model.Device{Type: "Laptop", OwnerID: owner}
	require.NoError(t, repo.NewDeviceRepo(st.DB(), st.Driver()).Create(context.Background(), device))
	return device
}

// CreateDevices inserts n devices owned by owner and returns their ids.
func CreateDevices(t *testing.T, st *store.Store, owner uuid.UUID, n int) []int64 {
	t.Helper()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, CreateDevice(t, st, owner).ID)
	}
	return ids
}

// CreateLot inserts a lot owned by owner containing deviceIDs.
func CreateLot(t *testing.T, st *store.Store, owner uuid.UUID, name string, deviceIDs ...int64) *model.Lot {
	t.Helper()

	lot := &model.Lot{Name: name, OwnerID: owner, DeviceIDs: deviceIDs}
	require.NoError(t, repo.NewLotRepo(st.DB(), st.Driver()).Create(context.Background(), lot))
	return lot
}

// GetDevice reads a device outside any session.
func GetDevice(t *testing.T, st *store.Store, id int64) *model.Device {
	t.Helper()

	device, err := repo.NewDeviceRepo(st.DB(), st.Driver()).Get(context.Background(), id)
	require.NoError(t, err)
	return device
}

// GetAction reads an action outside any session.
func GetAction(t *testing.T, st *store.Store, id uuid.UUID) *model.Action {
	t.Helper()

	action, err := repo.NewActionRepo(st.DB()).Get(context.Background(), id)
	require.NoError(t, err)
	return action
}

// GetLot reads a lot outside any session.
func GetLot(t *testing.T, st *store.Store, id uuid.UUID) *model.Lot {
	t.Helper()

	lot, err := repo.NewLotRepo(st.DB(), st.Driver()).Get(context.Background(), id)
	require.NoError(t, err)
	return lot
}

// CountRows counts the rows of a table.
func CountRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()

	var n int
	require.NoError(t, st.DB().QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
