package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/devicehub/server/internal/confirm"
	"github.com/devicehub/server/internal/events"
	"github.com/devicehub/server/internal/fault"
	"github.com/devicehub/server/internal/middleware"
	"github.com/devicehub/server/internal/model"
	"github.com/devicehub/server/internal/repo"
	"github.com/devicehub/server/internal/store"
	"github.com/devicehub/server/internal/trade"
)

const actionsPerPage = 200

// ActionHandler handles the trading action endpoints
type ActionHandler struct {
	store     *store.Store
	trades    *trade.Engine
	confirms  *confirm.Engine
	publisher events.Publisher
	logger    *logrus.Logger
}

// NewActionHandler creates a new action handler
func NewActionHandler(
	st *store.Store,
	trades *trade.Engine,
	confirms *confirm.Engine,
	publisher events.Publisher,
	logger *logrus.Logger,
) *ActionHandler {
	return &ActionHandler{
		store:     st,
		trades:    trades,
		confirms:  confirms,
		publisher: publisher,
		logger:    logger,
	}
}

// actionRequest is the request body for POST /actions/. Action references the
// parent for Confirm, Revoke and ConfirmRevoke; the other fields are Trade only.
type actionRequest struct {
	Type       model.ActionType    `json:"type"`
	Devices    []int64             `json:"devices"`
	Action     *uuid.UUID          `json:"action"`
	UserFrom   string              `json:"userFrom"`
	UserTo     string              `json:"userTo"`
	Price      decimal.NullDecimal `json:"price"`
	Date       *time.Time          `json:"date"`
	DocumentID string              `json:"documentID"`
	Code       string              `json:"code"`
	Lot        *uuid.UUID          `json:"lot"`
	Confirm    bool                `json:"confirm"`
}

// actionResponse is the JSON shape of an action
type actionResponse struct {
	ID         uuid.UUID        `json:"id"`
	Type       model.ActionType `json:"type"`
	Author     uuid.UUID        `json:"author"`
	User       uuid.UUID        `json:"user"`
	Action     *uuid.UUID       `json:"action,omitempty"`
	Devices    []int64          `json:"devices"`
	Created    time.Time        `json:"created"`
	UserFrom   *uuid.UUID       `json:"userFrom,omitempty"`
	UserTo     *uuid.UUID       `json:"userTo,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Date       *time.Time       `json:"date,omitempty"`
	DocumentID string           `json:"documentID,omitempty"`
	Code       string           `json:"code,omitempty"`
	Lot        *uuid.UUID       `json:"lot,omitempty"`
	Confirm    *bool            `json:"confirm,omitempty"`
	Confirms   []uuid.UUID      `json:"confirms,omitempty"`
}

func newActionResponse(a *model.Action, confirms []*model.Action) actionResponse {
	resp := actionResponse{
		ID:      a.ID,
		Type:    a.Type,
		Author:  a.AuthorID,
		User:    a.UserID,
		Action:  a.ParentID,
		Devices: a.DeviceIDs,
		Created: a.CreatedAt,
	}
	if resp.Devices == nil {
		resp.Devices = []int64{}
	}

	if t := a.Trade; t != nil {
		from, to, conf := t.UserFromID, t.UserToID, t.Confirm
		resp.UserFrom = &from
		resp.UserTo = &to
		resp.Confirm = &conf
		if t.Price.Valid {
			price := t.Price.Decimal
			resp.Price = &price
		}
		resp.Date = t.Date
		resp.DocumentID = t.DocumentID
		resp.Code = t.Code
		resp.Lot = t.LotID
	}

	for _, c := range confirms {
		resp.Confirms = append(resp.Confirms, c.ID)
	}
	return resp
}

// HandleCreate handles POST /actions/
func (h *ActionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		respondWithFault(w, h.logger, fault.Invalid("unsupported action type %q", req.Type))
		return
	}

	var (
		created  *model.Action
		confirms []*model.Action
	)
	err := h.store.Run(r.Context(), func(sess *store.Session) error {
		if req.Type == model.ActionTrade {
			res, err := h.trades.Create(r.Context(), sess, principal, trade.Request{
				Devices:    req.Devices,
				UserFrom:   req.UserFrom,
				UserTo:     req.UserTo,
				Price:      req.Price,
				Date:       req.Date,
				DocumentID: req.DocumentID,
				Code:       req.Code,
				LotID:      req.Lot,
				Confirm:    req.Confirm,
			})
			if err != nil {
				return err
			}
			created, confirms = res.Trade, res.Confirms
			return nil
		}

		if req.Action == nil {
			return fault.Invalid("action is required for %s", req.Type)
		}
		a, err := h.confirms.Apply(r.Context(), sess, principal, req.Type, confirm.Request{
			ActionID: *req.Action,
			Devices:  req.Devices,
		})
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		respondWithFault(w, h.logger, err)
		return
	}

	h.publish(r, append([]*model.Action{created}, confirms...))
	respondWithJSON(w, http.StatusCreated, newActionResponse(created, confirms))
}

// publish announces committed actions. The actions are already durable, so a
// failure here is logged and not reported to the client.
func (h *ActionHandler) publish(r *http.Request, actions []*model.Action) {
	for _, a := range actions {
		if err := h.publisher.Publish(r.Context(), events.FromAction(a)); err != nil {
			h.logger.WithError(err).WithField("action_id", a.ID).Warn("action event not published")
		}
	}
}

// HandleGet handles GET /actions/{id}. Only the author and the participants
// of the trade the action belongs to can see it; everyone else gets 404.
func (h *ActionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid action id")
		return
	}

	actions := repo.NewActionRepo(h.store.DB())
	action, err := actions.Get(r.Context(), id)
	if err != nil {
		respondWithFault(w, h.logger, err)
		return
	}
	visible, err := actions.VisibleTo(r.Context(), id, principal)
	if err != nil {
		respondWithFault(w, h.logger, err)
		return
	}
	if !visible {
		respondWithFault(w, h.logger, fault.NotFound("action", id))
		return
	}

	respondWithJSON(w, http.StatusOK, newActionResponse(action, nil))
}

// actionListResponse is the JSON response for GET /actions/
type actionListResponse struct {
	Page    int              `json:"page"`
	Actions []actionResponse `json:"actions"`
}

// HandleList handles GET /actions/?page=n, newest first
func (h *ActionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}

	actions, err := repo.NewActionRepo(h.store.DB()).ListVisible(r.Context(), principal, actionsPerPage, (page-1)*actionsPerPage)
	if err != nil {
		respondWithFault(w, h.logger, err)
		return
	}

	resp := actionListResponse{Page: page, Actions: make([]actionResponse, 0, len(actions))}
	for _, a := range actions {
		resp.Actions = append(resp.Actions, newActionResponse(a, nil))
	}
	respondWithJSON(w, http.StatusOK, resp)
}
