package confirm

import (
	"context"

	"github.com/google/uuid"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/lot"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/ownership"
	"github.com/devicehub/server/internal/store"
)

// confirmHandler records the counterparty's confirmation and moves the devices.
type confirmHandler struct{}

func (confirmHandler) Kind() model.ActionType { return model.ActionConfirm }

// Apply keeps only the devices whose last trading action is a pending Confirm
// of this trade made by someone other than principal. Every kept device goes
// to the trade's receiving user.
func (confirmHandler) Apply(ctx context.Context, sess *store.Session, principal uuid.UUID, parent *model.Action, devices []*model.Device) (*model.Action, error) {
	t, err := tradeOf(parent)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(principal) {
		return nil, fault.ErrNotParticipant
	}

	pointers := make(map[uuid.UUID]*model.Action)
	var eligible []*model.Device
	for _, d := range devices {
		if !parent.HasDevice(d.ID) || d.Trading != model.TradingConfirm || d.LastTradingActionID == nil {
			continue
		}
		last, ok := pointers[*d.LastTradingActionID]
		if !ok {
			last, err = sess.Actions.Get(ctx, *d.LastTradingActionID)
			if err != nil {
				return nil, err
			}
			pointers[last.ID] = last
		}
		if last.Type != model.ActionConfirm || last.ParentID == nil || *last.ParentID != parent.ID {
			continue
		}
		if last.UserID == principal {
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil, fault.ErrDevicesRequired
	}

	parentID := parent.ID
	c := &model.Action{
		Type:      model.ActionConfirm,
		AuthorID:  principal,
		UserID:    principal,
		ParentID:  &parentID,
		DeviceIDs: deviceIDs(eligible),
	}
	if err := sess.Actions.Create(ctx, c); err != nil {
		return nil, err
	}

	for _, d := range eligible {
		ownership.Transfer(sess, d, t.UserToID, c)
	}
	return c, nil
}

// revokeHandler cancels a confirmed trade for some of its devices.
type revokeHandler struct{}

func (revokeHandler) Kind() model.ActionType { return model.ActionRevoke }

func (revokeHandler) Apply(ctx context.Context, sess *store.Session, principal uuid.UUID, parent *model.Action, devices []*model.Device) (*model.Action, error) {
	t, err := tradeOf(parent)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(principal) {
		return nil, fault.ErrNotParticipant
	}

	for _, d := range devices {
		if !parent.HasDevice(d.ID) || d.Trading != model.TradingTradeConfirmed {
			return nil, fault.ErrDevicesNotConfirmed
		}
	}

	return lot.RemoveFromTrade(ctx, sess, principal, parent, devices)
}

// confirmRevokeHandler accepts a revoke and returns the devices to their
// pre-trade owners. Only the party that did not revoke can accept it.
type confirmRevokeHandler struct{}

func (confirmRevokeHandler) Kind() model.ActionType { return model.ActionConfirmRevoke }

func (confirmRevokeHandler) Apply(ctx context.Context, sess *store.Session, principal uuid.UUID, parent *model.Action, devices []*model.Device) (*model.Action, error) {
	if parent.Type != model.ActionRevoke || parent.ParentID == nil {
		return nil, fault.ErrActionNotRevoke
	}

	trade, err := sess.Actions.Get(ctx, *parent.ParentID)
	if err != nil {
		return nil, err
	}
	t, err := tradeOf(trade)
	if err != nil {
		return nil, err
	}
	if !t.IsParticipant(principal) {
		return nil, fault.ErrNotParticipant
	}
	if parent.UserID == principal {
		return nil, fault.ErrOwnRevoke
	}

	for _, d := range devices {
		pointsAtRevoke := d.LastTradingActionID != nil && *d.LastTradingActionID == parent.ID
		if d.Trading != model.TradingRevoke || !pointsAtRevoke || !parent.HasDevice(d.ID) {
			return nil, fault.ErrDevicesNotRevoked
		}
	}

	parentID := parent.ID
	cr := &model.Action{
		Type:      model.ActionConfirmRevoke,
		AuthorID:  principal,
		UserID:    principal,
		ParentID:  &parentID,
		DeviceIDs: deviceIDs(devices),
	}
	if err := sess.Actions.Create(ctx, cr); err != nil {
		return nil, err
	}

	for _, d := range devices {
		previous, ok := parent.PreviousOwners[d.ID]
		if !ok {
			previous = t.UserFromID
		}
		ownership.Reset(sess, d, previous, cr)
	}

	if t.LotID != nil {
		if err := lot.DetachDevices(ctx, sess, *t.LotID, cr.DeviceIDs); err != nil {
			return nil, err
		}
	}
	return cr, nil
}
