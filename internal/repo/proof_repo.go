package repo

import (
	"context"
	"fmt"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
	"github.com/google/uuid"
)

// ProofRepo defines the interface for ownership transfer proofs
type ProofRepo interface {
	Create(ctx context.Context, proof *model.ProofTransfer) error
	// ListPending returns proofs not yet registered on the ledger, oldest first.
	ListPending(ctx context.Context, limit int) ([]model.ProofTransfer, error)
	ListByDevice(ctx context.Context, deviceID int64) ([]model.ProofTransfer, error)
	SetHash(ctx context.Context, id uuid.UUID, hash string) error
}

type proofRepo struct {
	db DBTX
}

// NewProofRepo creates a new ProofRepo instance
func NewProofRepo(db DBTX) ProofRepo {
	return &proofRepo{db: db}
}

func (r *proofRepo) Create(ctx context.Context, proof *model.ProofTransfer) error {
	if proof.ID == uuid.Nil {
		proof.ID = uuid.New()
	}
	if proof.CreatedAt.IsZero() {
		proof.CreatedAt = now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proof_transfers (id, device_id, action_id, supplier_id, receiver_id, ethereum_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, proof.ID, proof.DeviceID, proof.ActionID, proof.SupplierID, proof.ReceiverID, proof.EthereumHash, proof.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transfer proof: %w", err)
	}
	return nil
}

const proofColumns = `id, device_id, action_id, supplier_id, receiver_id, ethereum_hash, created_at`

func (r *proofRepo) ListPending(ctx context.Context, limit int) ([]model.ProofTransfer, error) {
	return r.list(ctx,
		`SELECT `+proofColumns+` FROM proof_transfers WHERE ethereum_hash = '' ORDER BY created_at, id LIMIT $1`,
		limit)
}

func (r *proofRepo) ListByDevice(ctx context.Context, deviceID int64) ([]model.ProofTransfer, error) {
	return r.list(ctx,
		`SELECT `+proofColumns+` FROM proof_transfers WHERE device_id = $1 ORDER BY created_at, id`,
		deviceID)
}

func (r *proofRepo) list(ctx context.Context, query string, args ...any) ([]model.ProofTransfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer proofs: %w", err)
	}
	defer rows.Close()

	var proofs []model.ProofTransfer
	for rows.Next() {
		var p model.ProofTransfer
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.ActionID, &p.SupplierID, &p.ReceiverID, &p.EthereumHash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer proof: %w", err)
		}
		proofs = append(proofs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer proofs: %w", err)
	}
	return proofs, nil
}

// SetHash stores the ledger hash returned for a published proof
func (r *proofRepo) SetHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE proof_transfers SET ethereum_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to store proof hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store proof hash: %w", err)
	}
	if n == 0 {
		return fault.NotFound("transfer proof", id)
	}
	return nil
}
