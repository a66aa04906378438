package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// MarketReader defines the read methods the market handler needs.
type MarketReader interface {
	Get(questionID common.Hash) (domain.MarketSnapshot, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
}

// MarketHandler serves market read endpoints.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// marketView is the JSON shape of a market snapshot.
type marketView struct {
	QuestionID   string `json:"questionId"`
	OutcomeCount uint8  `json:"outcomeCount"`
	Open         bool   `json:"open"`
	Epoch        uint64 `json:"epoch"`
	CloseAt      string `json:"closeAt,omitempty"`
}

func toMarketView(snap domain.MarketSnapshot) marketView {
	view := marketView{
		QuestionID:   snap.QuestionID.Hex(),
		OutcomeCount: snap.OutcomeCount,
		Open:         snap.Open,
		Epoch:        snap.Epoch,
	}
	if snap.CloseAt != nil {
		view.CloseAt = snap.CloseAt.UTC().Format(time.RFC3339)
	}
	return view
}

// listMarketsResponse wraps the list endpoint output.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
}

// ListMarkets returns persisted market snapshots with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.markets.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	views := make([]marketView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, toMarketView(snap))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views})
}

// GetMarket returns the live registry view of one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseHash(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	snap, err := h.markets.Get(questionID)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(snap))
}
