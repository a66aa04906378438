package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// VaultService defines the collateral operations the vault handler needs.
type VaultService interface {
	Deposit(user common.Address, amount *big.Int) error
	Withdraw(user common.Address, amount *big.Int) error
	AvailableBalance(user common.Address) *big.Int
	TotalLocked(condition common.Hash) *big.Int
}

// VaultHandler serves collateral balance endpoints.
type VaultHandler struct {
	vault  VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(vault VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: vault, logger: logger}
}

// GetBalance returns a user's available collateral balance.
// GET /api/vault/{user}
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(pathParam(r, "user"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user":      user.Hex(),
		"available": h.vault.AvailableBalance(user).String(),
	})
}

// GetLocked returns the collateral locked under one condition.
// GET /api/vault/locked/{condition}
func (h *VaultHandler) GetLocked(w http.ResponseWriter, r *http.Request) {
	condition, ok := parseHash(pathParam(r, "condition"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid condition id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"condition": condition.Hex(),
		"locked":    h.vault.TotalLocked(condition).String(),
	})
}

// vaultMoveRequest is the body for deposits and withdrawals.
type vaultMoveRequest struct {
	User   common.Address `json:"user"`
	Amount *big.Int       `json:"amount"`
}

// Deposit credits collateral to a user's available balance.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "deposited", h.vault.Deposit)
}

// Withdraw debits collateral from a user's available balance. Locked
// collateral is not withdrawable.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "withdrawn", h.vault.Withdraw)
}

func (h *VaultHandler) move(w http.ResponseWriter, r *http.Request, verb string, op func(common.Address, *big.Int) error) {
	var req vaultMoveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.User == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := op(req.User, req.Amount); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    verb,
		"user":      req.User.Hex(),
		"amount":    req.Amount.String(),
		"available": h.vault.AvailableBalance(req.User).String(),
	})
}
