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

// ActionRepo defines the interface for trading action persistence
type ActionRepo interface {
	// Create inserts the action, its trade details when present and its device set.
	Create(ctx context.Context, action *model.Action) error
	Get(ctx context.Context, id uuid.UUID) (*model.Action, error)
	// ListVisible returns actions authored by userID or belonging to a trade
	// userID takes part in, newest first.
	ListVisible(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*model.Action, error)
	// VisibleTo reports whether ListVisible would include action id for userID
	VisibleTo(ctx context.Context, id, userID uuid.UUID) (bool, error)
	RemoveDevices(ctx context.Context, actionID uuid.UUID, ids []int64) error
}

type actionRepo struct {
	db DBTX
}

// NewActionRepo creates a new ActionRepo instance
func NewActionRepo(db DBTX) ActionRepo {
	return &actionRepo{db: db}
}

func (r *actionRepo) Create(ctx context.Context, action *model.Action) error {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO actions (id, type, author_id, user_id, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, action.ID, action.Type, action.AuthorID, action.UserID, action.ParentID, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s action: %w", action.Type, err)
	}

	if t := action.Trade; t != nil {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO trades (id, user_from_id, user_to_id, price, date, document_id, code, confirm, lot_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, action.ID, t.UserFromID, t.UserToID, t.Price, t.Date, t.DocumentID, t.Code, t.Confirm, t.LotID)
		if err != nil {
			return fmt.Errorf("failed to create trade: %w", err)
		}
	}

	query := `
		INSERT INTO action_devices (action_id, device_id, previous_owner_id, position)
		VALUES ($1, $2, $3, $4)
	`
	for i, deviceID := range action.DeviceIDs {
		var prev *uuid.UUID
		if owner, ok := action.PreviousOwners[deviceID]; ok {
			prev = &owner
		}
		if _, err := r.db.ExecContext(ctx, query, action.ID, deviceID, prev, i+1); err != nil {
			return fmt.Errorf("failed to add device %d to action: %w", deviceID, err)
		}
	}
	return nil
}

func (r *actionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Action, error) {
	query := `
		SELECT a.id, a.type, a.author_id, a.user_id, a.parent_id, a.created_at,
		       t.user_from_id, t.user_to_id, t.price, t.date, t.document_id, t.code, t.confirm, t.lot_id
		FROM actions a
		LEFT JOIN trades t ON t.id = a.id
		WHERE a.id = $1
	`
	action, err := scanAction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.NotFound("action", id)
		}
		return nil, fmt.Errorf("failed to query action: %w", err)
	}
	if err := r.loadDevices(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// visibleFrom joins every action to the trade at the root of its chain:
// itself for a Trade, the parent for Confirm and Revoke, the grandparent for
// ConfirmRevoke.
const visibleFrom = `
	FROM actions a
	LEFT JOIN trades t ON t.id = a.id
	LEFT JOIN actions p ON p.id = a.parent_id
	LEFT JOIN trades root ON root.id = a.id OR root.id = a.parent_id OR root.id = p.parent_id
`

func (r *actionRepo) ListVisible(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*model.Action, error) {
	query := `
		SELECT a.id, a.type, a.author_id, a.user_id, a.parent_id, a.created_at,
		       t.user_from_id, t.user_to_id, t.price, t.date, t.document_id, t.code, t.confirm, t.lot_id
	` + visibleFrom + `
		WHERE a.author_id = $1 OR root.user_from_id = $2 OR root.user_to_id = $3
		ORDER BY a.created_at DESC, a.id
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.QueryContext(ctx, query, userID, userID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}

	var actions []*model.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate actions: %w", err)
	}
	// devices are loaded after the cursor is released; sqlite runs on one connection
	rows.Close()

	for _, action := range actions {
		if err := r.loadDevices(ctx, action); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func (r *actionRepo) VisibleTo(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	query := `SELECT COUNT(*)` + visibleFrom + `
		WHERE a.id = $1 AND (a.author_id = $2 OR root.user_from_id = $3 OR root.user_to_id = $4)
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, id, userID, userID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check action visibility: %w", err)
	}
	return n > 0, nil
}

// RemoveDevices shrinks the device set of an action
func (r *actionRepo) RemoveDevices(ctx context.Context, actionID uuid.UUID, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := append([]any{actionID}, int64Args(ids)...)
	query := `DELETE FROM action_devices WHERE action_id = $1 AND device_id IN (` + placeholders(2, len(ids)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove devices from action: %w", err)
	}
	return nil
}

func (r *actionRepo) loadDevices(ctx context.Context, action *model.Action) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, previous_owner_id
		FROM action_devices
		WHERE action_id = $1
		ORDER BY position
	`, action.ID)
	if err != nil {
		return fmt.Errorf("failed to query action devices: %w", err)
	}
	defer rows.Close()

	action.DeviceIDs = []int64{}
	for rows.Next() {
		var deviceID int64
		var prev *uuid.UUID
		if err := rows.Scan(&deviceID, &prev); err != nil {
			return fmt.Errorf("failed to scan action device: %w", err)
		}
		action.DeviceIDs = append(action.DeviceIDs, deviceID)
		if prev != nil {
			if action.PreviousOwners == nil {
				action.PreviousOwners = make(map[int64]uuid.UUID)
			}
			action.PreviousOwners[deviceID] = *prev
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate action devices: %w", err)
	}
	return nil
}

func scanAction(row rowScanner) (*model.Action, error) {
	var a model.Action
	var (
		userFrom, userTo *uuid.UUID
		documentID, code sql.NullString
		confirm          sql.NullBool
		t                model.TradeDetails
	)
	err := row.Scan(
		&a.ID,
		&a.Type,
		&a.AuthorID,
		&a.UserID,
		&a.ParentID,
		&a.CreatedAt,
		&userFrom,
		&userTo,
		&t.Price,
		&t.Date,
		&documentID,
		&code,
		&confirm,
		&t.LotID,
	)
	if err != nil {
		return nil, err
	}
	if a.Type == model.ActionTrade && userFrom != nil && userTo != nil {
		t.UserFromID = *userFrom
		t.UserToID = *userTo
		t.DocumentID = documentID.String
		t.Code = code.String
		t.Confirm = confirm.Bool
		a.Trade = &t
	}
	return &a, nil
}
