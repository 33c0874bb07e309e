package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	Phantom      bool       `json:"phantom"`
	PhantomOwner *uuid.UUID `json:"-"`
	PhantomCode  *string    `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Device represents a device tracked in the inventory
type Device struct {
	ID                  int64         `json:"id"`
	Type                string        `json:"type"`
	Chid                string        `json:"chid,omitempty"`
	OwnerID             uuid.UUID     `json:"owner_id"`
	LastTradingActionID *uuid.UUID    `json:"last_trading_action_id,omitempty"`
	Trading             TradingStatus `json:"trading"`
	Version             int64         `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
}

// TradingStatus is the device's position in the trade workflow.
type TradingStatus string

const (
	TradingNone            TradingStatus = ""
	TradingConfirm         TradingStatus = "Confirm"
	TradingTradeConfirmed  TradingStatus = "TradeConfirmed"
	TradingRevoke          TradingStatus = "Revoke"
	TradingRevokeConfirmed TradingStatus = "RevokeConfirmed"
)

// Lot represents a named collection of devices
type Lot struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	OwnerID   uuid.UUID  `json:"owner_id"`
	TradeID   *uuid.UUID `json:"trade_id,omitempty"`
	DeviceIDs []int64    `json:"devices"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActionType tags the kind of a trading action
type ActionType string

const (
	ActionTrade         ActionType = "Trade"
	ActionConfirm       ActionType = "Confirm"
	ActionRevoke        ActionType = "Revoke"
	ActionConfirmRevoke ActionType = "ConfirmRevoke"
)

// Valid reports whether t is one of the known action types
func (t ActionType) Valid() bool {
	switch t {
	case ActionTrade, ActionConfirm, ActionRevoke, ActionConfirmRevoke:
		return true
	}
	return false
}

// Action is the common shape of Trade, Confirm, Revoke and ConfirmRevoke records.
// ParentID is the Trade for Confirm and Revoke, and the Revoke for ConfirmRevoke.
type Action struct {
	ID        uuid.UUID
	Type      ActionType
	AuthorID  uuid.UUID
	UserID    uuid.UUID
	ParentID  *uuid.UUID
	DeviceIDs []int64
	CreatedAt time.Time

	// PreviousOwners maps each device to its owner before the trade. Set for Trade and Revoke.
	PreviousOwners map[int64]uuid.UUID

	// Trade is set only for actions of type Trade
	Trade *TradeDetails
}

// TradeDetails holds the trade-only attributes of an action
type TradeDetails struct {
	UserFromID uuid.UUID
	UserToID   uuid.UUID
	Price      decimal.NullDecimal
	Date       *time.Time
	DocumentID string
	Code       string
	Confirm    bool
	LotID      *uuid.UUID
}

// IsParticipant reports whether userID is one of the trade endpoints
func (t *TradeDetails) IsParticipant(userID uuid.UUID) bool {
	return t.UserFromID == userID || t.UserToID == userID
}

// HasDevice reports whether id is in the action's device set
func (a *Action) HasDevice(id int64) bool {
	for _, d := range a.DeviceIDs {
		if d == id {
			return true
		}
	}
	return false
}

// ProofTransfer records one ownership change of one device
type ProofTransfer struct {
	ID           uuid.UUID `json:"id"`
	DeviceID     int64     `json:"device_id"`
	ActionID     uuid.UUID `json:"action_id"`
	SupplierID   uuid.UUID `json:"supplier_id"`
	ReceiverID   uuid.UUID `json:"receiver_id"`
	EthereumHash string    `json:"ethereum_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
