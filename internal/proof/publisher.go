// Package proof publishes ownership transfer proofs to the ledger in the background.
package proof

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
)

const batchSize = 50

// Registrar records a proof on the ledger and returns its hash.
type Registrar interface {
	RegisterProof(ctx context.Context, p model.ProofTransfer) (string, error)
}

// Publisher periodically pushes pending proofs to a Registrar and stores the
// returned hash. Proofs that fail stay pending and are retried next round.
type Publisher struct {
	proofs    repo.ProofRepo
	registrar Registrar
	interval  time.Duration
	logger    *logrus.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(proofs repo.ProofRepo, registrar Registrar, interval time.Duration, logger *logrus.Logger) *Publisher {
	return &Publisher{
		proofs:    proofs,
		registrar: registrar,
		interval:  interval,
		logger:    logger,
	}
}

// Run publishes on every tick until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval).Info("proof publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("proof publisher stopped")
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				p.logger.WithError(err).Error("proof publishing failed")
			}
		}
	}
}

// PublishPending publishes one batch and returns how many proofs got a hash.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	pending, err := p.proofs.ListPending(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, proof := range pending {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		hash, err := p.registrar.RegisterProof(ctx, proof)
		if err != nil {
			p.logger.WithError(err).WithField("proof_id", proof.ID).Warn("proof not registered")
			continue
		}
		if err := p.proofs.SetHash(ctx, proof.ID, hash); err != nil {
			return published, err
		}
		published++
	}

	if published > 0 {
		p.logger.WithFields(logrus.Fields{
			"published": published,
			"pending":   len(pending) - published,
		}).Info("proofs published")
	}
	return published, nil
}
