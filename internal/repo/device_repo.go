package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
)

// DeviceRepo defines the interface for device repository operations
type DeviceRepo interface {
	Get(ctx context.Context, id int64) (*model.Device, error)
	// GetForUpdate loads devices ordered by id, locking their rows where the
	// database supports row locks. Missing ids are simply absent from the result.
	GetForUpdate(ctx context.Context, ids []int64) ([]*model.Device, error)
	Create(ctx context.Context, device *model.Device) error
	Update(ctx context.Context, device *model.Device) error
}

type deviceRepo struct {
	db        DBTX
	rowLocked bool
}

// NewDeviceRepo creates a new DeviceRepo instance. Row locks are taken only on postgres.
func NewDeviceRepo(db DBTX, driver string) DeviceRepo {
	return &deviceRepo{db: db, rowLocked: driver == "postgres"}
}

const deviceColumns = `id, type, chid, owner_id, last_trading_action_id, trading_status, version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*model.Device, error) {
	var d model.Device
	err := row.Scan(
		&d.ID,
		&d.Type,
		&d.Chid,
		&d.OwnerID,
		&d.LastTradingActionID,
		&d.Trading,
		&d.Version,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Get retrieves a device by ID
func (r *deviceRepo) Get(ctx context.Context, id int64) (*model.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound("device", id)
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

func (r *deviceRepo) GetForUpdate(ctx context.Context, ids []int64) ([]*model.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id IN (` + placeholders(1, len(ids)) + `) ORDER BY id`
	if r.rowLocked {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

// Create inserts a device and fills in its generated ID
func (r *deviceRepo) Create(ctx context.Context, device *model.Device) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now()
	}

	query := `
		INSERT INTO devices (type, chid, owner_id, trading_status, version, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		device.Type,
		device.Chid,
		device.OwnerID,
		device.Trading,
		device.CreatedAt,
	).Scan(&device.ID)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	device.Version = 0
	return nil
}

// Update writes the trading fields of a device, guarded by its version.
// A concurrent writer makes the update miss and fault.ErrStaleDevice is returned.
func (r *deviceRepo) Update(ctx context.Context, device *model.Device) error {
	query := `
		UPDATE devices
		SET owner_id = $1, last_trading_action_id = $2, trading_status = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		device.OwnerID,
		device.LastTradingActionID,
		device.Trading,
		device.ID,
		device.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update device %d: %w", device.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update device %d: %w", device.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("device %d: %w", device.ID, fault.ErrStaleDevice)
	}
	device.Version++
	return nil
}
