package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/server/middleware"
)

// SettlementService defines the service methods the settlement handler needs.
type SettlementService interface {
	SettleMatched(ctx context.Context, matcher common.Address, buy, sell domain.SignedOrder, fillAmount *big.Int) (*domain.MatchResult, error)
	SettleInventory(ctx context.Context, matcher common.Address, so domain.SignedOrder, counterparty common.Address, fillAmount *big.Int) (*domain.MatchResult, error)
}

// SettlementHandler serves the matcher-facing settlement endpoints. Both
// routes sit behind MatcherAuth; the authenticated matcher address is the
// caller passed to the engine.
type SettlementHandler struct {
	clearing SettlementService
	logger   *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(clearing SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{clearing: clearing, logger: logger}
}

// settleMatchedRequest is the body for a matched-pair settlement.
type settleMatchedRequest struct {
	Buy        domain.SignedOrder `json:"buy"`
	Sell       domain.SignedOrder `json:"sell"`
	FillAmount *big.Int           `json:"fillAmount"`
}

// settleInventoryRequest is the body for an inventory settlement.
type settleInventoryRequest struct {
	Order        domain.SignedOrder `json:"order"`
	Counterparty common.Address     `json:"counterparty"`
	FillAmount   *big.Int           `json:"fillAmount"`
}

// fillView is the JSON shape of one fill in a settlement response. Big
// integers go out as decimal strings.
type fillView struct {
	ID          string `json:"id"`
	OrderHash   string `json:"orderHash"`
	Trader      string `json:"trader"`
	Taker       string `json:"taker"`
	QuestionID  string `json:"questionId"`
	ConditionID string `json:"conditionId"`
	Epoch       uint64 `json:"epoch"`
	Outcome     uint8  `json:"outcome"`
	Side        string `json:"side"`
	Amount      string `json:"amount"`
	Price       int64  `json:"price"`
	Fee         string `json:"fee"`
	Mode        string `json:"mode"`
}

// settleResponse is the JSON shape of a settlement result.
type settleResponse struct {
	Mode        string     `json:"mode"`
	ConditionID string     `json:"conditionId"`
	Epoch       uint64     `json:"epoch"`
	Fills       []fillView `json:"fills"`
}

func toFillView(f domain.Fill) fillView {
	return fillView{
		ID:          f.ID,
		OrderHash:   f.OrderHash.Hex(),
		Trader:      f.Trader.Hex(),
		Taker:       f.Taker.Hex(),
		QuestionID:  f.QuestionID.Hex(),
		ConditionID: f.ConditionID.Hex(),
		Epoch:       f.Epoch,
		Outcome:     f.Outcome,
		Side:        string(f.Side),
		Amount:      f.Amount.String(),
		Price:       f.Price,
		Fee:         f.Fee.String(),
		Mode:        string(f.Mode),
	}
}

func toSettleResponse(result *domain.MatchResult) settleResponse {
	resp := settleResponse{
		Mode:        string(result.Mode),
		ConditionID: result.ConditionID.Hex(),
		Epoch:       result.Epoch,
		Fills:       make([]fillView, 0, len(result.Fills)),
	}
	for _, f := range result.Fills {
		resp.Fills = append(resp.Fills, toFillView(f))
	}
	return resp
}

// SettleMatched settles a crossed buy/sell pair.
// POST /api/settlements/matched
func (h *SettlementHandler) SettleMatched(w http.ResponseWriter, r *http.Request) {
	matcher, ok := middleware.MatcherAddress(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "matcher authentication required")
		return
	}

	var req settleMatchedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.FillAmount == nil || req.FillAmount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "fillAmount must be positive")
		return
	}

	result, err := h.clearing.SettleMatched(r.Context(), matcher, req.Buy, req.Sell, req.FillAmount)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSettleResponse(result))
}

// SettleInventory fills one signed order against an inventory holder.
// POST /api/settlements/inventory
func (h *SettlementHandler) SettleInventory(w http.ResponseWriter, r *http.Request) {
	matcher, ok := middleware.MatcherAddress(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "matcher authentication required")
		return
	}

	var req settleInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.FillAmount == nil || req.FillAmount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "fillAmount must be positive")
		return
	}
	if req.Counterparty == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "counterparty is required")
		return
	}

	result, err := h.clearing.SettleInventory(r.Context(), matcher, req.Order, req.Counterparty, req.FillAmount)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSettleResponse(result))
}
