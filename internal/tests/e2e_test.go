package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicehub/server/internal/model"
)

// TestTradingE2E runs the trading flows against Postgres through the HTTP API.
// Uses httptest.NewServer (no real port). Each section truncates the tables first.
func TestTradingE2E(t *testing.T) {
	ts := newTestServer(t)

	reset := func(t *testing.T) {
		require.NoError(t, TruncateTables(t.Context(), ts.Store.DB()))
	}

	t.Run("A_Health", func(t *testing.T) {
		resp, err := ts.Server.Client().Get(ts.BaseURL() + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
	})

	t.Run("B_TradeRevokeConfirmRevoke", func(t *testing.T) {
		reset(t)
		a := CreateUser(t, ts.Store, "a@example.com")
		b := CreateUser(t, ts.Store, "b@example.com")
		d1 := CreateDevice(t, ts.Store, a.ID)
		lot := CreateLot(t, ts.Store, a.ID, "pallet 7")
		tokenA, tokenB := ts.login(t, a.Email), ts.login(t, b.Email)

		status, body := ts.post(t, "/actions/", tokenA, map[string]any{
			"type": "Trade", "devices": []int64{d1.ID}, "userFrom": a.Email, "userTo": b.Email, "lot": lot.ID, "confirm": false,
		})
		require.Equal(t, http.StatusCreated, status, "trade must return 201; body: %s", body)
		var tr actionResponse
		require.NoError(t, json.Unmarshal([]byte(body), &tr))
		assert.Len(t, tr.Confirms, 2)
		assert.Equal(t, b.ID, GetDevice(t, ts.Store, d1.ID).OwnerID)

		status, body = ts.post(t, "/actions/", tokenA, map[string]any{"type": "Revoke", "action": tr.ID, "devices": []int64{d1.ID}})
		require.Equal(t, http.StatusCreated, status, "revoke must return 201; body: %s", body)
		var rv actionResponse
		require.NoError(t, json.Unmarshal([]byte(body), &rv))
		assert.NotContains(t, GetLot(t, ts.Store, lot.ID).DeviceIDs, d1.ID)

		status, body = ts.post(t, "/actions/", tokenB, map[string]any{"type": "ConfirmRevoke", "action": rv.ID, "devices": []int64{d1.ID}})
		require.Equal(t, http.StatusCreated, status, "confirm revoke must return 201; body: %s", body)

		device := GetDevice(t, ts.Store, d1.ID)
		assert.Equal(t, a.ID, device.OwnerID)
		assert.Equal(t, model.TradingRevokeConfirmed, device.Trading)
		assert.NotContains(t, GetAction(t, ts.Store, uuid.MustParse(tr.ID)).DeviceIDs, d1.ID)

		// one proof for the trade and one for the reversal
		assert.Equal(t, 2, CountRows(t, ts.Store, "proof_transfers"))
	})

	t.Run("C_PhantomIsReused", func(t *testing.T) {
		reset(t)
		a := CreateUser(t, ts.Store, "a@example.com")
		ids := CreateDevices(t, ts.Store, a.ID, 2)
		token := ts.login(t, a.Email)

		var receivers []string
		for _, id := range ids {
			status, body := ts.post(t, "/actions/", token, map[string]any{
				"type": "Trade", "devices": []int64{id}, "userFrom": a.Email, "code": "BUYER-1", "confirm": false,
			})
			require.Equal(t, http.StatusCreated, status, "phantom trade must return 201; body: %s", body)
			var tr actionResponse
			require.NoError(t, json.Unmarshal([]byte(body), &tr))
			receivers = append(receivers, tr.UserTo)
		}

		assert.Equal(t, receivers[0], receivers[1], "same owner and code must resolve to one phantom")
		assert.Equal(t, 2, CountRows(t, ts.Store, "users"))

		// the phantom cannot log in
		status, _ := ts.post(t, "/auth/login", "", map[string]string{"email": model.PhantomEmail(a.ID, "BUYER-1"), "password": TestPassword})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("D_ConcurrentConfirms", func(t *testing.T) {
		reset(t)
		a := CreateUser(t, ts.Store, "a@example.com")
		b := CreateUser(t, ts.Store, "b@example.com")
		ids := CreateDevices(t, ts.Store, a.ID, 3)
		tokenA, tokenB := ts.login(t, a.Email), ts.login(t, b.Email)

		status, body := ts.post(t, "/actions/", tokenA, map[string]any{
			"type": "Trade", "devices": ids, "userFrom": a.Email, "userTo": b.Email, "confirm": true,
		})
		require.Equal(t, http.StatusCreated, status, "trade must return 201; body: %s", body)
		var tr actionResponse
		require.NoError(t, json.Unmarshal([]byte(body), &tr))

		const racers = 4
		statuses := make([]int, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				data, _ := json.Marshal(map[string]any{"type": "Confirm", "action": tr.ID, "devices": ids})
				req, _ := http.NewRequest(http.MethodPost, ts.BaseURL()+"/actions/", bytes.NewReader(data))
				req.Header.Set("Authorization", "Bearer "+tokenB)
				resp, err := ts.Server.Client().Do(req)
				if err != nil {
					return
				}
				resp.Body.Close()
				statuses[i] = resp.StatusCode
			}(i)
		}
		wg.Wait()

		created := 0
		for _, s := range statuses {
			if s == http.StatusCreated {
				created++
			} else {
				assert.Contains(t, []int{http.StatusUnprocessableEntity, http.StatusConflict}, s)
			}
		}
		assert.Equal(t, 1, created, "exactly one confirmation may transfer the devices")
		assert.Equal(t, len(ids), CountRows(t, ts.Store, "proof_transfers"))
		for _, id := range ids {
			assert.Equal(t, b.ID, GetDevice(t, ts.Store, id).OwnerID)
		}
	})
}
