package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// OrderService defines the service methods the order handler needs.
type OrderService interface {
	Cancel(ctx context.Context, caller common.Address, o domain.Order) error
}

// OrderState exposes the engine's in-memory fill accounting for reads.
type OrderState interface {
	HashOrder(o domain.Order) common.Hash
	Filled(hash common.Hash) *big.Int
	Remaining(o domain.Order) *big.Int
}

// FillReader lists persisted fills.
type FillReader interface {
	GetByOrderHash(ctx context.Context, hash common.Hash) ([]domain.Fill, error)
	ListByQuestion(ctx context.Context, questionID common.Hash, opts domain.ListOpts) ([]domain.Fill, error)
	ListByTrader(ctx context.Context, trader common.Address, opts domain.ListOpts) ([]domain.Fill, error)
}

// OrderHandler serves order state, hashing, and cancellation endpoints.
type OrderHandler struct {
	orders OrderService
	state  OrderState
	fills  FillReader
	hasher *crypto.OrderHasher
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, state OrderState, fills FillReader, hasher *crypto.OrderHasher, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		state:  state,
		fills:  fills,
		hasher: hasher,
		logger: logger,
	}
}

// cancelRequest carries the order to cancel plus the trader's signature over
// it. The recovered signer is the caller, so only the trader can cancel.
type cancelRequest struct {
	Order     domain.Order `json:"order"`
	Signature []byte       `json:"signature"`
}

// CancelOrder marks an order fully filled so no future settlement can use it.
// POST /api/orders/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, err := h.hasher.RecoverTrader(req.Order, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature recovery failed")
		return
	}

	if err := h.orders.Cancel(r.Context(), caller, req.Order); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "cancelled",
		"order_hash": h.state.HashOrder(req.Order).Hex(),
	})
}

// orderStateResponse reports the engine's fill accounting for one order hash
// along with its persisted fills.
type orderStateResponse struct {
	OrderHash string     `json:"orderHash"`
	Filled    string     `json:"filled"`
	Fills     []fillView `json:"fills"`
}

// GetOrder returns the fill state and fill history for an order hash.
// GET /api/orders/{hash}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(pathParam(r, "hash"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order hash")
		return
	}

	fills, err := h.fills.GetByOrderHash(r.Context(), hash)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load fills failed",
			slog.String("order_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load fills")
		return
	}

	views := make([]fillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, toFillView(f))
	}

	writeJSON(w, http.StatusOK, orderStateResponse{
		OrderHash: hash.Hex(),
		Filled:    h.state.Filled(hash).String(),
		Fills:     views,
	})
}

// hashRequest carries an order to hash.
type hashRequest struct {
	Order domain.Order `json:"order"`
}

// HashOrder computes the canonical structural hash of an order without
// touching any state. Matchers use it to precompute hashes client-side.
// POST /api/orders/hash
func (h *OrderHandler) HashOrder(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"orderHash": h.state.HashOrder(req.Order).Hex(),
	})
}

// listFillsResponse wraps the fill list endpoint output.
type listFillsResponse struct {
	Fills []fillView `json:"fills"`
}

// ListFills returns persisted fills filtered by question or trader.
// GET /api/fills?question_id=0x...|trader=0x...&limit=50&offset=0
func (h *OrderHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var fills []domain.Fill
	var err error

	switch {
	case q.Get("question_id") != "":
		questionID, ok := parseHash(q.Get("question_id"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid question_id")
			return
		}
		fills, err = h.fills.ListByQuestion(r.Context(), questionID, opts)
	case q.Get("trader") != "":
		trader, ok := parseAddress(q.Get("trader"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid trader address")
			return
		}
		fills, err = h.fills.ListByTrader(r.Context(), trader, opts)
	default:
		writeError(w, http.StatusBadRequest, "question_id or trader query parameter required")
		return
	}

	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list fills failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}

	views := make([]fillView, 0, len(fills))
	for _, f := range fills {
		views = append(views, toFillView(f))
	}

	writeJSON(w, http.StatusOK, listFillsResponse{Fills: views})
}
