package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/market"
)

// AdminEngine is the engine's owner-gated configuration surface.
type AdminEngine interface {
	SetDefaultTradeFee(caller common.Address, bps int64) error
	SetDefaultClaimFee(caller common.Address, bps int64) error
	SetTradeFeeOverride(caller, user common.Address, bps int64) error
	SetClaimFeeOverride(caller, user common.Address, bps int64) error
	SetTreasury(caller, treasury common.Address) error
	AddMatcher(caller, matcher common.Address) error
	RemoveMatcher(caller, matcher common.Address) error
	AddInventoryHolder(caller, holder common.Address) error
	RemoveInventoryHolder(caller, holder common.Address) error
	SetGlobalPause(caller common.Address, paused bool) error
	SetMarketPause(caller common.Address, questionID common.Hash, paused bool) error
}

// ResolveService triggers an emergency resolution.
type ResolveService interface {
	EmergencyResolve(ctx context.Context, caller common.Address, questionID common.Hash, epoch uint64, outcomeCount uint8, root common.Hash) error
}

// MarketAdmin mutates the market registry.
type MarketAdmin interface {
	Create(ctx context.Context, caller common.Address, cfg market.Config) error
	Close(ctx context.Context, caller common.Address, questionID common.Hash) error
	AdvanceEpoch(ctx context.Context, caller common.Address, questionID common.Hash) (uint64, error)
}

// AdminHandler serves the operator-only configuration endpoints. All calls
// are made under the operator identity loaded at startup; the engine and
// registry enforce owner checks on that address.
type AdminHandler struct {
	engine   AdminEngine
	clearing ResolveService
	markets  MarketAdmin
	operator common.Address
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(engine AdminEngine, clearing ResolveService, markets MarketAdmin, operator common.Address, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		engine:   engine,
		clearing: clearing,
		markets:  markets,
		operator: operator,
		logger:   logger,
	}
}

// feesRequest updates fee rates. With User unset the default rates change;
// with User set the per-user overrides change. Nil rates are left untouched.
type feesRequest struct {
	User     *common.Address `json:"user,omitempty"`
	TradeBps *int64          `json:"tradeBps,omitempty"`
	ClaimBps *int64          `json:"claimBps,omitempty"`
}

// SetFees updates default or per-user fee rates.
// PUT /api/admin/fees
func (h *AdminHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TradeBps == nil && req.ClaimBps == nil {
		writeError(w, http.StatusBadRequest, "tradeBps or claimBps required")
		return
	}

	if req.TradeBps != nil {
		var err error
		if req.User != nil {
			err = h.engine.SetTradeFeeOverride(h.operator, *req.User, *req.TradeBps)
		} else {
			err = h.engine.SetDefaultTradeFee(h.operator, *req.TradeBps)
		}
		if err != nil {
			writeDomainError(w, h.logger, r, err)
			return
		}
	}
	if req.ClaimBps != nil {
		var err error
		if req.User != nil {
			err = h.engine.SetClaimFeeOverride(h.operator, *req.User, *req.ClaimBps)
		} else {
			err = h.engine.SetDefaultClaimFee(h.operator, *req.ClaimBps)
		}
		if err != nil {
			writeDomainError(w, h.logger, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetTreasury updates the fee recipient.
// PUT /api/admin/treasury
func (h *AdminHandler) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Treasury common.Address `json:"treasury"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.SetTreasury(h.operator, req.Treasury); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// roleRequest adds or removes an address from a role set.
type roleRequest struct {
	Action  string         `json:"action"` // "add" or "remove"
	Address common.Address `json:"address"`
}

// SetMatchers adds or removes a matcher.
// PUT /api/admin/matchers
func (h *AdminHandler) SetMatchers(w http.ResponseWriter, r *http.Request) {
	h.role(w, r, h.engine.AddMatcher, h.engine.RemoveMatcher)
}

// SetInventoryHolders adds or removes an inventory holder.
// PUT /api/admin/inventory
func (h *AdminHandler) SetInventoryHolders(w http.ResponseWriter, r *http.Request) {
	h.role(w, r, h.engine.AddInventoryHolder, h.engine.RemoveInventoryHolder)
}

func (h *AdminHandler) role(w http.ResponseWriter, r *http.Request, add, remove func(caller, addr common.Address) error) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	var err error
	switch req.Action {
	case "add":
		err = add(h.operator, req.Address)
	case "remove":
		err = remove(h.operator, req.Address)
	default:
		writeError(w, http.StatusBadRequest, `action must be "add" or "remove"`)
		return
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": req.Action + "ed"})
}

// pauseRequest toggles the global pause, or a single market's pause when
// QuestionID is set.
type pauseRequest struct {
	Paused     bool         `json:"paused"`
	QuestionID *common.Hash `json:"questionId,omitempty"`
}

// SetPause toggles trading pause gates.
// PUT /api/admin/pause
func (h *AdminHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var err error
	if req.QuestionID != nil {
		err = h.engine.SetMarketPause(h.operator, *req.QuestionID, req.Paused)
	} else {
		err = h.engine.SetGlobalPause(h.operator, req.Paused)
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "paused": req.Paused})
}

// resolveRequest triggers an emergency resolution of a closed market.
type resolveRequest struct {
	QuestionID   common.Hash `json:"questionId"`
	Epoch        uint64      `json:"epoch"`
	OutcomeCount uint8       `json:"outcomeCount"`
	Root         common.Hash `json:"root"`
}

// Resolve publishes a payout root directly, bypassing the resolution
// authority. The engine still requires the market to be closed.
// POST /api/admin/resolve
func (h *AdminHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.clearing.EmergencyResolve(r.Context(), h.operator, req.QuestionID, req.Epoch, req.OutcomeCount, req.Root); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// createMarketRequest registers a new market.
type createMarketRequest struct {
	QuestionID    common.Hash `json:"questionId"`
	OutcomeCount  uint8       `json:"outcomeCount"`
	CloseAt       *time.Time  `json:"closeAt,omitempty"`
	EpochDuration string      `json:"epochDuration,omitempty"` // Go duration string
}

// CreateMarket registers a new market in the registry.
// POST /api/admin/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := market.Config{
		QuestionID:   req.QuestionID,
		OutcomeCount: req.OutcomeCount,
	}
	if req.CloseAt != nil {
		cfg.CloseAt = *req.CloseAt
	}
	if req.EpochDuration != "" {
		d, err := time.ParseDuration(req.EpochDuration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid epochDuration: "+err.Error())
			return
		}
		cfg.EpochDuration = d
	}

	if err := h.markets.Create(r.Context(), h.operator, cfg); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":      "created",
		"question_id": req.QuestionID.Hex(),
	})
}

// CloseMarket permanently stops trading on a market.
// POST /api/admin/markets/{id}/close
func (h *AdminHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	if err := h.markets.Close(r.Context(), h.operator, questionID); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// AdvanceEpoch manually rolls a market to its next epoch.
// POST /api/admin/markets/{id}/epoch
func (h *AdminHandler) AdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	epoch, err := h.markets.AdvanceEpoch(r.Context(), h.operator, questionID)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "advanced", "epoch": epoch})
}
