package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// ClaimService defines the service methods the claim handler needs.
type ClaimService interface {
	Claim(ctx context.Context, caller common.Address, req domain.ClaimRequest) (*domain.ClaimReceipt, error)
	BatchClaim(ctx context.Context, caller common.Address, reqs []domain.ClaimRequest) (*domain.BatchClaimResult, error)
}

// ClaimReader lists persisted claim receipts.
type ClaimReader interface {
	ListByClaimer(ctx context.Context, claimer common.Address, opts domain.ListOpts) ([]domain.ClaimReceipt, error)
}

// ClaimHandler serves redemption endpoints.
type ClaimHandler struct {
	claims ClaimService
	store  ClaimReader
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(claims ClaimService, store ClaimReader, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{claims: claims, store: store, logger: logger}
}

// claimRequest is the body for a single redemption.
type claimRequest struct {
	Claimer common.Address      `json:"claimer"`
	Claim   domain.ClaimRequest `json:"claim"`
}

// batchClaimRequest is the body for a batch redemption.
type batchClaimRequest struct {
	Claimer common.Address        `json:"claimer"`
	Claims  []domain.ClaimRequest `json:"claims"`
}

// receiptView is the JSON shape of a claim receipt.
type receiptView struct {
	ID          string `json:"id"`
	Claimer     string `json:"claimer"`
	QuestionID  string `json:"questionId"`
	ConditionID string `json:"conditionId"`
	Epoch       uint64 `json:"epoch"`
	Outcome     uint8  `json:"outcome"`
	Burned      string `json:"burned"`
	Net         string `json:"net"`
	Fee         string `json:"fee"`
}

func toReceiptView(rcpt domain.ClaimReceipt) receiptView {
	return receiptView{
		ID:          rcpt.ID,
		Claimer:     rcpt.Claimer.Hex(),
		QuestionID:  rcpt.QuestionID.Hex(),
		ConditionID: rcpt.ConditionID.Hex(),
		Epoch:       rcpt.Epoch,
		Outcome:     rcpt.Outcome,
		Burned:      rcpt.Burned.String(),
		Net:         rcpt.Net.String(),
		Fee:         rcpt.Fee.String(),
	}
}

// Claim redeems the claimer's full balance of one winning outcome token.
// POST /api/claims
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Claimer == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "claimer is required")
		return
	}

	receipt, err := h.claims.Claim(r.Context(), req.Claimer, req.Claim)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReceiptView(*receipt))
}

// batchClaimResponse summarizes a batch redemption.
type batchClaimResponse struct {
	Receipts  []receiptView `json:"receipts"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	TotalNet  string        `json:"totalNet"`
	TotalFee  string        `json:"totalFee"`
}

// BatchClaim redeems up to MaxBatchClaims winning tokens in one call.
// Invalid entries are skipped; the response reports both counts.
// POST /api/claims/batch
func (h *ClaimHandler) BatchClaim(w http.ResponseWriter, r *http.Request) {
	var req batchClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Claimer == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "claimer is required")
		return
	}

	result, err := h.claims.BatchClaim(r.Context(), req.Claimer, req.Claims)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	views := make([]receiptView, 0, len(result.Receipts))
	for _, rcpt := range result.Receipts {
		views = append(views, toReceiptView(rcpt))
	}

	writeJSON(w, http.StatusCreated, batchClaimResponse{
		Receipts:  views,
		Processed: result.Processed,
		Skipped:   result.Skipped,
		TotalNet:  result.TotalNet.String(),
		TotalFee:  result.TotalFee.String(),
	})
}

// listClaimsResponse wraps the claim list endpoint output.
type listClaimsResponse struct {
	Claims []receiptView `json:"claims"`
}

// ListClaims returns persisted claim receipts for one claimer.
// GET /api/claims?claimer=0x...&limit=50&offset=0
func (h *ClaimHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	claimer, ok := parseAddress(r.URL.Query().Get("claimer"))
	if !ok {
		writeError(w, http.StatusBadRequest, "claimer query parameter required")
		return
	}

	receipts, err := h.store.ListByClaimer(r.Context(), claimer, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list claims failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list claims")
		return
	}

	views := make([]receiptView, 0, len(receipts))
	for _, rcpt := range receipts {
		views = append(views, toReceiptView(rcpt))
	}

	writeJSON(w, http.StatusOK, listClaimsResponse{Claims: views})
}
