package lot

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/ownership"
	"github.com/devicehub/server/internal/store"
)

// Attach puts a trade's devices into the lot and links the lot to the trade.
// The lot must belong to owner and must not carry a trade yet.
func Attach(ctx context.Context, sess *store.Session, lotID uuid.UUID, owner uuid.UUID, trade *model.Action) error {
	l, err := sess.Lots.Get(ctx, lotID)
	if err != nil {
		return err
	}
	if l.OwnerID != owner {
		return fault.ErrLotNotOwned
	}
	if l.TradeID != nil {
		return fault.ErrLotHasTrade
	}

	if err := sess.Lots.AttachTrade(ctx, l.ID, trade.ID); err != nil {
		return err
	}

	members := NewDeviceSet(l.DeviceIDs...)
	var added []int64
	for _, id := range trade.DeviceIDs {
		if !members.Contains(id) {
			added = append(added, id)
		}
	}
	return sess.Lots.AddDevices(ctx, l.ID, added)
}

// DetachDevices removes devices from the lot. Devices that are not members
// are ignored.
func DetachDevices(ctx context.Context, sess *store.Session, lotID uuid.UUID, deviceIDs []int64) error {
	l, err := sess.Lots.Get(ctx, lotID)
	if err != nil {
		return err
	}
	removed := NewDeviceSet(l.DeviceIDs...).DifferenceUpdate(deviceIDs...)
	return sess.Lots.RemoveDevices(ctx, l.ID, removed)
}

// RemoveFromTrade takes devices out of a trade: they leave the trade's lot and
// its device set, and a Revoke action authored by principal is recorded with
// the owners the devices had before the trade. Devices are marked Revoke and
// keep their current owner until the revoke is confirmed.
func RemoveFromTrade(ctx context.Context, sess *store.Session, principal uuid.UUID, trade *model.Action, devices []*model.Device) (*model.Action, error) {
	if trade.Trade == nil {
		return nil, fault.ErrActionNotTrade
	}

	ids := make([]int64, 0, len(devices))
	previous := make(map[int64]uuid.UUID, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
		if owner, ok := trade.PreviousOwners[d.ID]; ok {
			previous[d.ID] = owner
		} else {
			previous[d.ID] = trade.Trade.UserFromID
		}
	}

	if trade.Trade.LotID != nil {
		if err := DetachDevices(ctx, sess, *trade.Trade.LotID, ids); err != nil {
			return nil, fmt.Errorf("detach devices from lot: %w", err)
		}
	}

	if err := sess.Actions.RemoveDevices(ctx, trade.ID, ids); err != nil {
		return nil, err
	}
	remaining := NewDeviceSet(trade.DeviceIDs...)
	remaining.DifferenceUpdate(ids...)
	trade.DeviceIDs = remaining.IDs()

	parent := trade.ID
	revoke := &model.Action{
		Type:           model.ActionRevoke,
		AuthorID:       principal,
		UserID:         principal,
		ParentID:       &parent,
		DeviceIDs:      ids,
		PreviousOwners: previous,
	}
	if err := sess.Actions.Create(ctx, revoke); err != nil {
		return nil, err
	}

	for _, d := range devices {
		ownership.Mark(sess, d, revoke, model.TradingRevoke)
	}
	return revoke, nil
}
