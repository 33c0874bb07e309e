package lot_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/lot"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/tests"
)

// seedTrade writes a confirmed trade of devices from a to b by hand.
func seedTrade(t *testing.T, st *store.Store, a, b uuid.UUID, lotID *uuid.UUID, devices []int64) *model.Action {
	t.Helper()
	ctx := context.Background()

	previous := make(map[int64]uuid.UUID)
	for _, id := range devices {
		previous[id] = a
	}
	trade := &model.Action{
		Type:           model.ActionTrade,
		AuthorID:       a,
		UserID:         a,
		DeviceIDs:      devices,
		PreviousOwners: previous,
		Trade:          &model.TradeDetails{UserFromID: a, UserToID: b, LotID: lotID},
	}
	require.NoError(t, st.Run(ctx, func(sess *store.Session) error {
		if err := sess.Actions.Create(ctx, trade); err != nil {
			return err
		}
		if lotID != nil {
			if err := lot.Attach(ctx, sess, *lotID, a, trade); err != nil {
				return err
			}
		}
		loaded, err := sess.LoadDevices(ctx, devices)
		if err != nil {
			return err
		}
		for _, d := range loaded {
			d.OwnerID = b
			d.Trading = model.TradingTradeConfirmed
			sess.Stage(d)
		}
		return nil
	}))
	return trade
}

func TestRemoveFromTrade(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	ctx := context.Background()
	a := tests.CreateUser(t, st, "a@example.com")
	b := tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 3)
	l := tests.CreateLot(t, st, a.ID, "batch")
	trade := seedTrade(t, st, a.ID, b.ID, &l.ID, ids)

	var revoke *model.Action
	require.NoError(t, st.Run(ctx, func(sess *store.Session) error {
		devices, err := sess.LoadDevices(ctx, ids[:2])
		if err != nil {
			return err
		}
		revoke, err = lot.RemoveFromTrade(ctx, sess, b.ID, trade, devices)
		return err
	}))

	assert.Equal(t, model.ActionRevoke, revoke.Type)
	assert.Equal(t, trade.ID, *revoke.ParentID)
	assert.Equal(t, ids[:2], revoke.DeviceIDs)
	assert.Equal(t, []int64{ids[2]}, trade.DeviceIDs)

	assert.Equal(t, []int64{ids[2]}, tests.GetLot(t, st, l.ID).DeviceIDs)
	assert.Equal(t, []int64{ids[2]}, tests.GetAction(t, st, trade.ID).DeviceIDs)

	stored := tests.GetAction(t, st, revoke.ID)
	assert.Equal(t, a.ID, stored.PreviousOwners[ids[0]])
	assert.Equal(t, a.ID, stored.PreviousOwners[ids[1]])

	for _, id := range ids[:2] {
		d := tests.GetDevice(t, st, id)
		assert.Equal(t, b.ID, d.OwnerID, "revoke alone does not move devices")
		assert.Equal(t, model.TradingRevoke, d.Trading)
		assert.Equal(t, revoke.ID, *d.LastTradingActionID)
	}
}

func TestRemoveFromTradeRejectsNonTrade(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	ctx := context.Background()

	err := st.Run(ctx, func(sess *store.Session) error {
		_, err := lot.RemoveFromTrade(ctx, sess, uuid.New(), &model.Action{Type: model.ActionConfirm}, nil)
		return err
	})
	assert.ErrorIs(t, err, fault.ErrActionNotTrade)
}

func TestDetachDevicesIgnoresNonMembers(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	ctx := context.Background()
	a := tests.CreateUser(t, st, "a@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 3)
	l := tests.CreateLot(t, st, a.ID, "batch", ids[0], ids[1])

	require.NoError(t, st.Run(ctx, func(sess *store.Session) error {
		return lot.DetachDevices(ctx, sess, l.ID, []int64{ids[1], ids[2]})
	}))
	assert.Equal(t, []int64{ids[0]}, tests.GetLot(t, st, l.ID).DeviceIDs)
}
