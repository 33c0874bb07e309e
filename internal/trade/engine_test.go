package trade

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/logging"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/tests"
)

func create(t *testing.T, st *store.Store, principal uuid.UUID, req Request) (*Result, error) {
	t.Helper()

	engine := NewEngine(logging.Discard())
	var res *Result
	err := st.Run(context.Background(), func(sess *store.Session) error {
		var err error
		res, err = engine.Create(context.Background(), sess, principal, req)
		return err
	})
	return res, err
}

func countConfirms(t *testing.T, st *store.Store, tradeID uuid.UUID) int {
	t.Helper()

	var n int
	err := st.DB().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM actions WHERE type = 'Confirm' AND parent_id = $1`, tradeID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestCreateWithoutConfirmTransfersToReceiver(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	b := tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 3)

	res, err := create(t, st, a.ID, Request{
		Devices:  ids,
		UserFrom: "a@example.com",
		UserTo:   "B@Example.com",
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("10.50")),
	})
	require.NoError(t, err)
	require.Len(t, res.Confirms, 2)
	assert.Equal(t, a.ID, res.Confirms[0].UserID)
	assert.Equal(t, b.ID, res.Confirms[1].UserID)

	for _, id := range ids {
		d := tests.GetDevice(t, st, id)
		assert.Equal(t, b.ID, d.OwnerID)
		assert.Equal(t, model.TradingTradeConfirmed, d.Trading)
		require.NotNil(t, d.LastTradingActionID)
		assert.Equal(t, res.Confirms[1].ID, *d.LastTradingActionID)
		assert.Equal(t, int64(1), d.Version)
	}
	assert.Equal(t, 2, countConfirms(t, st, res.Trade.ID))
	assert.Equal(t, 3, tests.CountRows(t, st, "proof_transfers"))

	stored := tests.GetAction(t, st, res.Trade.ID)
	require.NotNil(t, stored.Trade)
	assert.Equal(t, a.ID, stored.Trade.UserFromID)
	assert.Equal(t, b.ID, stored.Trade.UserToID)
	assert.Equal(t, "10.5", stored.Trade.Price.Decimal.String())
	assert.Equal(t, ids, stored.DeviceIDs)
	for _, id := range ids {
		assert.Equal(t, a.ID, stored.PreviousOwners[id])
	}
}

func TestCreateWithConfirmKeepsOwnership(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 2)

	res, err := create(t, st, a.ID, Request{
		Devices:  ids,
		UserFrom: "a@example.com",
		UserTo:   "b@example.com",
		Confirm:  true,
	})
	require.NoError(t, err)
	require.Len(t, res.Confirms, 1)
	assert.Equal(t, a.ID, res.Confirms[0].UserID)

	for _, id := range ids {
		d := tests.GetDevice(t, st, id)
		assert.Equal(t, a.ID, d.OwnerID)
		assert.Equal(t, model.TradingConfirm, d.Trading)
		assert.Equal(t, res.Confirms[0].ID, *d.LastTradingActionID)
	}
	assert.Equal(t, 1, countConfirms(t, st, res.Trade.ID))
	assert.Equal(t, 0, tests.CountRows(t, st, "proof_transfers"))
}

func TestCreateDeduplicatesDevices(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 2)

	res, err := create(t, st, a.ID, Request{
		Devices:  []int64{ids[1], ids[0], ids[1]},
		UserFrom: "a@example.com",
		UserTo:   "b@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1], ids[0]}, res.Trade.DeviceIDs)
}

func TestPhantomResolutionIsIdempotent(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 2)

	first, err := create(t, st, a.ID, Request{
		Devices:  ids[:1],
		UserFrom: "a@example.com",
		Code:     "ABC",
	})
	require.NoError(t, err)

	second, err := create(t, st, a.ID, Request{
		Devices:  ids[1:],
		UserFrom: "a@example.com",
		UserTo:   "nobody@example.com",
		Code:     "ABC",
	})
	require.NoError(t, err)

	assert.Equal(t, first.Trade.Trade.UserToID, second.Trade.Trade.UserToID)
	assert.Equal(t, 2, tests.CountRows(t, st, "users"))

	var phantom model.User
	require.NoError(t, st.Run(context.Background(), func(sess *store.Session) error {
		var err error
		phantom, err = sess.Users.GetByID(context.Background(), first.Trade.Trade.UserToID)
		return err
	}))
	assert.True(t, phantom.Phantom)
	assert.False(t, phantom.Active)
	assert.Empty(t, phantom.PasswordHash)
	assert.Equal(t, model.PhantomEmail(a.ID, "ABC"), phantom.Email)
	require.NotNil(t, phantom.PhantomOwner)
	assert.Equal(t, a.ID, *phantom.PhantomOwner)
}

func TestPhantomPerLinkingCode(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 2)

	first, err := create(t, st, a.ID, Request{Devices: ids[:1], UserFrom: "a@example.com", Code: "one"})
	require.NoError(t, err)
	second, err := create(t, st, a.ID, Request{Devices: ids[1:], UserFrom: "a@example.com", DocumentID: "two"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Trade.Trade.UserToID, second.Trade.Trade.UserToID)
	assert.Equal(t, 3, tests.CountRows(t, st, "users"))
}

func TestPhantomCodeIgnoresCase(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 2)

	first, err := create(t, st, a.ID, Request{Devices: ids[:1], UserFrom: "a@example.com", Code: "AbC"})
	require.NoError(t, err)
	second, err := create(t, st, a.ID, Request{Devices: ids[1:], UserFrom: "a@example.com", Code: " abc "})
	require.NoError(t, err)

	assert.Equal(t, first.Trade.Trade.UserToID, second.Trade.Trade.UserToID)
	assert.Equal(t, 2, tests.CountRows(t, st, "users"))
}

func TestPhantomSender(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	b := tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, b.ID, 1)

	res, err := create(t, st, b.ID, Request{Devices: ids, UserTo: "b@example.com", Code: "donor-7"})
	require.NoError(t, err)

	assert.Equal(t, b.ID, res.Trade.Trade.UserToID)
	assert.NotEqual(t, b.ID, res.Trade.Trade.UserFromID)
	assert.Equal(t, b.ID, tests.GetDevice(t, st, ids[0]).OwnerID)
}

func TestCreateRejections(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	b := tests.CreateUser(t, st, "b@example.com")
	tests.CreateUser(t, st, "c@example.com")
	mine := tests.CreateDevices(t, st, a.ID, 1)
	theirs := tests.CreateDevices(t, st, b.ID, 1)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no devices", Request{UserFrom: "a@example.com", UserTo: "b@example.com"}, fault.ErrDevicesRequired},
		{"foreign device", Request{Devices: theirs, UserFrom: "a@example.com", UserTo: "b@example.com"}, fault.ErrDeviceNotOwned},
		{"no users", Request{Devices: mine, Code: "x"}, fault.ErrUsersRequired},
		{"confirm needs both users", Request{Devices: mine, UserFrom: "a@example.com", Code: "x", Confirm: true}, fault.ErrConfirmNeedsUsers},
		{"principal is not the known side", Request{Devices: mine, UserFrom: "b@example.com", Code: "x"}, fault.ErrPrincipalMismatch},
		{"phantom needs a code", Request{Devices: mine, UserFrom: "a@example.com"}, fault.ErrCodeRequired},
		{"same user", Request{Devices: mine, UserFrom: "a@example.com", UserTo: "A@example.com"}, fault.ErrSameUser},
		{"not a participant", Request{Devices: mine, UserFrom: "b@example.com", UserTo: "c@example.com"}, fault.ErrNotParticipant},
		{"not a participant with confirm", Request{Devices: mine, UserFrom: "b@example.com", UserTo: "c@example.com", Confirm: true}, fault.ErrNotParticipant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := create(t, st, a.ID, tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.True(t, fault.IsPrecondition(fault.ErrPrincipalMismatch))
	assert.Equal(t, 0, tests.CountRows(t, st, "actions"))
	assert.Equal(t, 3, tests.CountRows(t, st, "users"))
	assert.Equal(t, a.ID, tests.GetDevice(t, st, mine[0]).OwnerID)
}

func TestCreateUnknownDevice(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	tests.CreateUser(t, st, "b@example.com")

	_, err := create(t, st, a.ID, Request{Devices: []int64{404}, UserFrom: "a@example.com", UserTo: "b@example.com"})
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestCreateAttachesLot(t *testing.T) {
	st := tests.NewSQLiteStore(t)
	a := tests.CreateUser(t, st, "a@example.com")
	b := tests.CreateUser(t, st, "b@example.com")
	ids := tests.CreateDevices(t, st, a.ID, 3)
	l := tests.CreateLot(t, st, a.ID, "batch", ids[2])

	res, err := create(t, st, a.ID, Request{
		Devices:  ids[:2],
		UserFrom: "a@example.com",
		UserTo:   "b@example.com",
		LotID:    &l.ID,
	})
	require.NoError(t, err)

	got := tests.GetLot(t, st, l.ID)
	require.NotNil(t, got.TradeID)
	assert.Equal(t, res.Trade.ID, *got.TradeID)
	assert.Equal(t, []int64{ids[2], ids[0], ids[1]}, got.DeviceIDs)

	// a lot carries at most one trade
	more := tests.CreateDevices(t, st, a.ID, 1)
	_, err = create(t, st, a.ID, Request{Devices: more, UserFrom: "a@example.com", UserTo: "b@example.com", LotID: &l.ID})
	assert.ErrorIs(t, err, fault.ErrLotHasTrade)

	other := tests.CreateLot(t, st, b.ID, "not mine")
	_, err = create(t, st, a.ID, Request{Devices: more, UserFrom: "a@example.com", UserTo: "b@example.com", LotID: &other.ID})
	assert.ErrorIs(t, err, fault.ErrLotNotOwned)
	assert.Equal(t, a.ID, tests.GetDevice(t, st, more[0]).OwnerID)
}
