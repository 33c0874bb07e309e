// Package store runs trading operations as units of work.
//
// A Session wraps one SQL transaction. Devices read through the session are
// kept in an identity map; changed devices are staged and written once by
// FinalFlush, in id order, with a version check on every row. Transfer
// proofs staged during the operation are written in the same flush.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
)

// Store opens sessions against one database.
type Store struct {
	db     *sql.DB
	driver string
	logger *logrus.Logger
}

// New creates a Store for an open database of the given driver.
func New(db *sql.DB, driver string, logger *logrus.Logger) *Store {
	return &Store{db: db, driver: driver, logger: logger}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// Session is one unit of work.
type Session struct {
	tx     *sql.Tx
	logger *logrus.Logger

	Users   repo.UserRepo
	Devices repo.DeviceRepo
	Lots    repo.LotRepo
	Actions repo.ActionRepo
	Proofs  repo.ProofRepo

	loaded map[int64]*model.Device
	staged map[int64]*model.Device
	proofs []*model.ProofTransfer
	done   bool
}

// Begin starts a session.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Session{
		tx:      tx,
		logger:  s.logger,
		Users:   repo.NewUserRepo(tx),
		Devices: repo.NewDeviceRepo(tx, s.driver),
		Lots:    repo.NewLotRepo(tx, s.driver),
		Actions: repo.NewActionRepo(tx),
		Proofs:  repo.NewProofRepo(tx),
		loaded:  make(map[int64]*model.Device),
		staged:  make(map[int64]*model.Device),
	}, nil
}

// Run executes fn in a session and commits it. Any error, including a failed
// flush, rolls the whole session back.
func (s *Store) Run(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	if err := fn(sess); err != nil {
		return err
	}
	if err := sess.FinalFlush(ctx); err != nil {
		return err
	}
	return sess.Commit()
}

// LoadDevices returns the devices with the given ids, ordered by id.
// Devices already read in this session are returned from the identity map so
// every caller works on the same instance.
func (s *Session) LoadDevices(ctx context.Context, ids []int64) ([]*model.Device, error) {
	var missing []int64
	for _, id := range ids {
		if _, ok := s.loaded[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		devices, err := s.Devices.GetForUpdate(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			s.loaded[d.ID] = d
		}
	}

	out := make([]*model.Device, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.loaded[id]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stage marks a device as changed.
func (s *Session) Stage(d *model.Device) {
	s.loaded[d.ID] = d
	s.staged[d.ID] = d
}

// StageProof queues a transfer proof for the final flush.
func (s *Session) StageProof(p *model.ProofTransfer) {
	s.proofs = append(s.proofs, p)
}

// Staged returns the staged devices ordered by id.
func (s *Session) Staged() []*model.Device {
	out := make([]*model.Device, 0, len(s.staged))
	for _, d := range s.staged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StagedProofs returns the proofs queued so far.
func (s *Session) StagedProofs() []*model.ProofTransfer {
	return s.proofs
}

// FinalFlush writes every staged device and proof.
func (s *Session) FinalFlush(ctx context.Context) error {
	for _, d := range s.Staged() {
		if err := s.Devices.Update(ctx, d); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
	}
	s.staged = make(map[int64]*model.Device)

	for _, p := range s.proofs {
		if err := s.Proofs.Create(ctx, p); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
	}
	return nil
}

// Commit commits the session transaction.
func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.done = true
	return nil
}

// Rollback discards the session. It is a no-op after Commit.
func (s *Session) Rollback() {
	if s.done {
		return
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WithError(err).Warn("rollback failed")
	}
}
