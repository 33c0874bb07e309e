package trade

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/store"
)

// resolvePhantom fills the missing endpoint of a trade with a placeholder user.
//
// Phantoms are keyed by (known user, linking code): the same pair always
// resolves to the same placeholder, so repeated trades with an unregistered
// counterparty do not multiply accounts. With mandatory confirmation both
// sides must be real users and nothing is synthesized.
func (e *Engine) resolvePhantom(ctx context.Context, sess *store.Session, principal uuid.UUID, from, to *model.User, code string, confirm bool) (*model.User, *model.User, error) {
	if from != nil && to != nil {
		return from, to, nil
	}
	if from == nil && to == nil {
		return nil, nil, fault.ErrUsersRequired
	}
	if confirm {
		return nil, nil, fault.ErrConfirmNeedsUsers
	}

	known := from
	if known == nil {
		known = to
	}
	if known.ID != principal {
		return nil, nil, fault.ErrPrincipalMismatch
	}
	if code == "" {
		return nil, nil, fault.ErrCodeRequired
	}

	phantom, err := e.phantomFor(ctx, sess, known.ID, code)
	if err != nil {
		return nil, nil, err
	}
	if from == nil {
		return phantom, to, nil
	}
	return from, phantom, nil
}

func (e *Engine) phantomFor(ctx context.Context, sess *store.Session, owner uuid.UUID, code string) (*model.User, error) {
	existing, err := sess.Users.GetPhantom(ctx, owner, code)
	if err == nil {
		return &existing, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	phantom := model.User{
		Email:        model.PhantomEmail(owner, code),
		Active:       false,
		Phantom:      true,
		PhantomOwner: &owner,
		PhantomCode:  &code,
	}
	if err := sess.Users.Create(ctx, &phantom); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"phantom_id": phantom.ID,
		"owner_id":   owner,
	}).Info("phantom user created")
	return &phantom, nil
}
