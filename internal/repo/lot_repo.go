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

// LotRepo defines the interface for lot repository operations
type LotRepo interface {
	// Get loads a lot with its devices in insertion order.
	Get(ctx context.Context, id uuid.UUID) (*model.Lot, error)
	Create(ctx context.Context, lot *model.Lot) error
	AttachTrade(ctx context.Context, lotID, tradeID uuid.UUID) error
	AddDevices(ctx context.Context, lotID uuid.UUID, ids []int64) error
	RemoveDevices(ctx context.Context, lotID uuid.UUID, ids []int64) error
}

type lotRepo struct {
	db        DBTX
	rowLocked bool
}

// NewLotRepo creates a new LotRepo instance
func NewLotRepo(db DBTX, driver string) LotRepo {
	return &lotRepo{db: db, rowLocked: driver == "postgres"}
}

func (r *lotRepo) Get(ctx context.Context, id uuid.UUID) (*model.Lot, error) {
	query := `SELECT id, name, owner_id, trade_id, created_at FROM lots WHERE id = $1`
	if r.rowLocked {
		query += ` FOR UPDATE`
	}

	var lot model.Lot
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&lot.ID,
		&lot.Name,
		&lot.OwnerID,
		&lot.TradeID,
		&lot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound("lot", id)
		}
		return nil, fmt.Errorf("failed to query lot: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id FROM lot_devices WHERE lot_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query lot devices: %w", err)
	}
	defer rows.Close()

	lot.DeviceIDs = []int64{}
	for rows.Next() {
		var deviceID int64
		if err := rows.Scan(&deviceID); err != nil {
			return nil, fmt.Errorf("failed to scan lot device: %w", err)
		}
		lot.DeviceIDs = append(lot.DeviceIDs, deviceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lot devices: %w", err)
	}
	return &lot, nil
}

// Create inserts a lot together with its initial devices
func (r *lotRepo) Create(ctx context.Context, lot *model.Lot) error {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lots (id, name, owner_id, trade_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		lot.ID, lot.Name, lot.OwnerID, lot.TradeID, lot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return r.AddDevices(ctx, lot.ID, lot.DeviceIDs)
}

func (r *lotRepo) AttachTrade(ctx context.Context, lotID, tradeID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE lots SET trade_id = $1 WHERE id = $2 AND trade_id IS NULL`, tradeID, lotID)
	if err != nil {
		return fmt.Errorf("failed to attach trade to lot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to attach trade to lot: %w", err)
	}
	if n == 0 {
		return fault.ErrLotHasTrade
	}
	return nil
}

// AddDevices appends devices after the current last position. Devices already
// in the lot keep their place.
func (r *lotRepo) AddDevices(ctx context.Context, lotID uuid.UUID, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	var last int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM lot_devices WHERE lot_id = $1`, lotID).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to read lot positions: %w", err)
	}

	query := `
		INSERT INTO lot_devices (lot_id, device_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (lot_id, device_id) DO NOTHING
	`
	for i, id := range ids {
		if _, err := r.db.ExecContext(ctx, query, lotID, id, last+int64(i)+1); err != nil {
			return fmt.Errorf("failed to add device %d to lot: %w", id, err)
		}
	}
	return nil
}

func (r *lotRepo) RemoveDevices(ctx context.Context, lotID uuid.UUID, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := append([]any{lotID}, int64Args(ids)...)
	query := `DELETE FROM lot_devices WHERE lot_id = $1 AND device_id IN (` + placeholders(2, len(ids)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove devices from lot: %w", err)
	}
	return nil
}
