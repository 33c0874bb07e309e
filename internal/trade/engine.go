// Package trade creates trades: it resolves the two endpoints, records the
// initial confirmations and, when confirmation is not mandatory, moves the
// devices to the receiving user straight away.
package trade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/lot"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/ownership"
	"github.com/devicehub/server/internal/store"
)

// Request describes a transfer proposal. UserFrom and UserTo are emails; an
// empty or unknown email leaves that endpoint to be resolved.
type Request struct {
	Devices    []int64
	UserFrom   string
	UserTo     string
	Price      decimal.NullDecimal
	Date       *time.Time
	DocumentID string
	Code       string
	LotID      *uuid.UUID
	Confirm    bool
}

// linkingCode identifies the counterparty for phantom resolution.
func (r Request) linkingCode() string {
	if r.Code != "" {
		return model.NormalizeCode(r.Code)
	}
	return model.NormalizeCode(r.DocumentID)
}

// Result is a created trade with the confirmations seeded for it.
type Result struct {
	Trade    *model.Action
	Confirms []*model.Action
}

// Engine creates trades.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a trade engine.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// Create persists a trade on behalf of principal. Nothing is written to the
// database until the session is flushed.
func (e *Engine) Create(ctx context.Context, sess *store.Session, principal uuid.UUID, req Request) (*Result, error) {
	ids := lot.NewDeviceSet(req.Devices...).IDs()
	if len(ids) == 0 {
		return nil, fault.ErrDevicesRequired
	}

	devices, err := loadOwned(ctx, sess, principal, ids)
	if err != nil {
		return nil, err
	}

	from, err := lookupUser(ctx, sess, req.UserFrom)
	if err != nil {
		return nil, err
	}
	to, err := lookupUser(ctx, sess, req.UserTo)
	if err != nil {
		return nil, err
	}

	from, to, err = e.resolvePhantom(ctx, sess, principal, from, to, req.linkingCode(), req.Confirm)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return nil, fault.ErrSameUser
	}

	details := &model.TradeDetails{
		UserFromID: from.ID,
		UserToID:   to.ID,
		Price:      req.Price,
		Date:       req.Date,
		DocumentID: req.DocumentID,
		Code:       req.Code,
		Confirm:    req.Confirm,
		LotID:      req.LotID,
	}
	if !details.IsParticipant(principal) {
		return nil, fault.ErrNotParticipant
	}

	previous := make(map[int64]uuid.UUID, len(devices))
	for _, d := range devices {
		previous[d.ID] = d.OwnerID
	}

	trade := &model.Action{
		Type:           model.ActionTrade,
		AuthorID:       principal,
		UserID:         principal,
		DeviceIDs:      ids,
		PreviousOwners: previous,
		Trade:          details,
	}
	if err := sess.Actions.Create(ctx, trade); err != nil {
		return nil, err
	}

	if req.LotID != nil {
		if err := lot.Attach(ctx, sess, *req.LotID, principal, trade); err != nil {
			return nil, err
		}
	}

	res := &Result{Trade: trade}
	if req.Confirm {
		confirm, err := e.confirm(ctx, sess, principal, principal, trade)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			ownership.Mark(sess, d, confirm, model.TradingConfirm)
		}
		res.Confirms = append(res.Confirms, confirm)
	} else {
		confirmFrom, err := e.confirm(ctx, sess, principal, from.ID, trade)
		if err != nil {
			return nil, err
		}
		confirmTo, err := e.confirm(ctx, sess, principal, to.ID, trade)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			ownership.Transfer(sess, d, to.ID, confirmTo)
		}
		res.Confirms = append(res.Confirms, confirmFrom, confirmTo)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"devices":  len(ids),
		"confirm":  req.Confirm,
	}).Info("trade created")
	return res, nil
}

func (e *Engine) confirm(ctx context.Context, sess *store.Session, author, user uuid.UUID, trade *model.Action) (*model.Action, error) {
	parent := trade.ID
	c := &model.Action{
		Type:      model.ActionConfirm,
		AuthorID:  author,
		UserID:    user,
		ParentID:  &parent,
		DeviceIDs: trade.DeviceIDs,
	}
	if err := sess.Actions.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func loadOwned(ctx context.Context, sess *store.Session, principal uuid.UUID, ids []int64) ([]*model.Device, error) {
	devices, err := sess.LoadDevices(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(devices) != len(ids) {
		found := lot.NewDeviceSet()
		for _, d := range devices {
			found.Add(d.ID)
		}
		for _, id := range ids {
			if !found.Contains(id) {
				return nil, fault.NotFound("device", id)
			}
		}
	}
	for _, d := range devices {
		if d.OwnerID != principal {
			return nil, fault.ErrDeviceNotOwned
		}
	}
	return devices, nil
}

func lookupUser(ctx context.Context, sess *store.Session, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	u, err := sess.Users.GetByEmail(ctx, email)
	if err != nil {
		if fault.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
