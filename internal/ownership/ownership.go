// Package ownership moves devices between users on behalf of a trading action.
package ownership

import (
	"github.com/google/uuid"

	"github.com/devicehub/server/internal/model"
)

// Stager collects device changes and proofs until the session flushes.
type Stager interface {
	Stage(d *model.Device)
	StageProof(p *model.ProofTransfer)
}

// Transfer makes to the owner of d, records action as the device's last
// trading action and marks it TradeConfirmed.
func Transfer(s Stager, d *model.Device, to uuid.UUID, action *model.Action) {
	move(s, d, to, action, model.TradingTradeConfirmed)
}

// Reset gives d back to previousOwner after a confirmed revoke.
func Reset(s Stager, d *model.Device, previousOwner uuid.UUID, action *model.Action) {
	move(s, d, previousOwner, action, model.TradingRevokeConfirmed)
}

// Mark records action as the device's last trading action without moving it.
func Mark(s Stager, d *model.Device, action *model.Action, status model.TradingStatus) {
	id := action.ID
	d.LastTradingActionID = &id
	d.Trading = status
	s.Stage(d)
}

func move(s Stager, d *model.Device, to uuid.UUID, action *model.Action, status model.TradingStatus) {
	from := d.OwnerID
	d.OwnerID = to
	Mark(s, d, action, status)

	if from != to {
		s.StageProof(&model.ProofTransfer{
			DeviceID:   d.ID,
			ActionID:   action.ID,
			SupplierID: from,
			ReceiverID: to,
		})
	}
}
