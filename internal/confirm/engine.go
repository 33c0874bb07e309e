// Package confirm applies Confirm, Revoke and ConfirmRevoke actions to an
// existing trade. Each kind has its own Handler; Engine loads what the
// handlers share and dispatches on the kind.
package confirm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/lot"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/store"
)

// Request references the parent action and the devices to act on.
type Request struct {
	ActionID uuid.UUID
	Devices  []int64
}

// Handler validates and records one kind of action against its parent.
// devices are the requested devices, loaded in this session and ordered by id.
type Handler interface {
	Kind() model.ActionType
	Apply(ctx context.Context, sess *store.Session, principal uuid.UUID, parent *model.Action, devices []*model.Device) (*model.Action, error)
}

// Engine dispatches actions to their handler.
type Engine struct {
	handlers map[model.ActionType]Handler
	logger   *logrus.Logger
}

// NewEngine creates an engine with the Confirm, Revoke and ConfirmRevoke handlers.
func NewEngine(logger *logrus.Logger) *Engine {
	e := &Engine{
		handlers: make(map[model.ActionType]Handler),
		logger:   logger,
	}
	e.Register(confirmHandler{})
	e.Register(revokeHandler{})
	e.Register(confirmRevokeHandler{})
	return e
}

// Register installs h for its kind, replacing any previous handler.
func (e *Engine) Register(h Handler) {
	e.handlers[h.Kind()] = h
}

// Apply runs the handler for kind on behalf of principal.
func (e *Engine) Apply(ctx context.Context, sess *store.Session, principal uuid.UUID, kind model.ActionType, req Request) (*model.Action, error) {
	h, ok := e.handlers[kind]
	if !ok {
		return nil, fault.Invalid("unsupported action type %q", kind)
	}

	ids := lot.NewDeviceSet(req.Devices...).IDs()
	if len(ids) == 0 {
		return nil, fault.ErrDevicesRequired
	}

	parent, err := sess.Actions.Get(ctx, req.ActionID)
	if err != nil {
		return nil, err
	}

	devices, err := sess.LoadDevices(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(devices) != len(ids) {
		return nil, missingDevice(ids, devices)
	}

	action, err := h.Apply(ctx, sess, principal, parent, devices)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"action_id": action.ID,
		"type":      action.Type,
		"parent_id": parent.ID,
		"devices":   len(action.DeviceIDs),
	}).Info("action recorded")
	return action, nil
}

func missingDevice(ids []int64, devices []*model.Device) error {
	found := lot.NewDeviceSet()
	for _, d := range devices {
		found.Add(d.ID)
	}
	for _, id := range ids {
		if !found.Contains(id) {
			return fault.NotFound("device", id)
		}
	}
	return fmt.Errorf("device lookup returned %d of %d devices", len(devices), len(ids))
}

// tradeOf returns the trade details of parent, which must be a Trade.
func tradeOf(parent *model.Action) (*model.TradeDetails, error) {
	if parent.Type != model.ActionTrade || parent.Trade == nil {
		return nil, fault.ErrActionNotTrade
	}
	return parent.Trade, nil
}

func deviceIDs(devices []*model.Device) []int64 {
	ids := make([]int64, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}
