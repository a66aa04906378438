package engine

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// claimItem is a fully validated claim ready for execution.
type claimItem struct {
	req     domain.ClaimRequest
	condID  common.Hash
	tokenID common.Hash
	balance *big.Int
	fee     *big.Int
	net     *big.Int
}

// validateClaim runs every claim check without touching state: epoch bounds,
// resolution status, holder balance, the merkle proof of the winning outcome,
// and pool coverage. seen guards against the same token being claimed twice
// in one batch; pools tracks the collateral remaining in each condition's
// locked pool as earlier entries reserve their payouts, so a claim is never
// admitted past validation unless the pool can pay it in full. Caller holds
// e.mu.
func (e *Engine) validateClaim(caller common.Address, req domain.ClaimRequest, seen map[common.Hash]bool, pools map[common.Hash]*big.Int) (claimItem, error) {
	if req.Epoch == 0 {
		return claimItem{}, domain.ErrInvalidEpoch
	}
	current, err := e.markets.CurrentEpoch(req.QuestionID)
	if err != nil {
		return claimItem{}, err
	}
	if req.Epoch > current {
		return claimItem{}, fmt.Errorf("epoch %d beyond current %d: %w", req.Epoch, current, domain.ErrInvalidEpoch)
	}

	cond, err := e.condition(req.QuestionID, req.Epoch)
	if err != nil {
		return claimItem{}, err
	}
	if req.Outcome >= cond.OutcomeCount {
		return claimItem{}, fmt.Errorf("outcome %d of %d: %w", req.Outcome, cond.OutcomeCount, domain.ErrInvalidOrder)
	}

	condID := cond.ID()
	if !e.resolver.Status(condID) {
		return claimItem{}, domain.ErrNotResolved
	}

	tokenID := domain.TokenID(condID, req.Outcome)
	if seen != nil {
		if seen[tokenID] {
			return claimItem{}, fmt.Errorf("token %s: %w", tokenID.Hex(), domain.ErrInvalidOrder)
		}
		seen[tokenID] = true
	}

	balance := e.positions.BalanceOf(caller, tokenID)
	if balance.Sign() == 0 {
		return claimItem{}, domain.ErrZeroBalance
	}

	if !e.resolver.VerifyProof(condID, req.Outcome, req.Proof) {
		return claimItem{}, domain.ErrInvalidProof
	}

	// The full balance (payout plus fee) is released from the condition's
	// pool. A root committing several winning outcomes can promise more
	// than was ever locked; the shortfall surfaces here, before any burn.
	remaining, ok := pools[condID]
	if !ok {
		remaining = e.vault.TotalLocked(condID)
	}
	if remaining.Cmp(balance) < 0 {
		return claimItem{}, fmt.Errorf("pool holds %s, payout %s: %w",
			remaining.String(), balance.String(), domain.ErrInsufficientPool)
	}
	pools[condID] = new(big.Int).Sub(remaining, balance)

	fee := new(big.Int)
	if e.access.HasTreasury() {
		fee = feePortion(balance, e.fees.ClaimFeeBps(caller))
	}
	return claimItem{
		req:     req,
		condID:  condID,
		tokenID: tokenID,
		balance: balance,
		fee:     fee,
		net:     new(big.Int).Sub(balance, fee),
	}, nil
}

// Claim redeems the caller's entire balance of a resolved winning outcome
// token. The full balance is burned; the claim fee goes to the treasury and
// the remainder is released from the condition's locked pool to the caller's
// available balance. A second claim on the same token finds a zero balance
// and is rejected, so claims cannot be replayed.
func (e *Engine) Claim(caller common.Address, req domain.ClaimRequest) (*domain.ClaimReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.validateClaim(caller, req, nil, make(map[common.Hash]*big.Int, 1))
	if err != nil {
		return nil, fmt.Errorf("engine: claim: %w", err)
	}

	if err := e.executeClaim(caller, item); err != nil {
		return nil, fmt.Errorf("engine: claim: %w", err)
	}

	receipt := e.receiptFor(caller, item)
	e.logger.Info("engine: claim paid",
		slog.String("claimer", caller.Hex()),
		slog.String("condition", item.condID.Hex()),
		slog.String("net", item.net.String()),
		slog.String("fee", item.fee.String()),
	)
	return receipt, nil
}

// executeClaim performs the burn and the unlocks for one validated claim.
// Caller holds e.mu and has validated everything; failures here indicate a
// broken ledger invariant. Caller wraps errors.
func (e *Engine) executeClaim(caller common.Address, item claimItem) error {
	if err := e.positions.Burn(e.self, caller, item.tokenID, item.balance); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	if err := e.vault.Unlock(e.self, item.condID, caller, item.net); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if item.fee.Sign() > 0 {
		if err := e.vault.Unlock(e.self, item.condID, e.access.Treasury(), item.fee); err != nil {
			return fmt.Errorf("fee unlock: %w", err)
		}
	}
	return nil
}

func (e *Engine) receiptFor(caller common.Address, item claimItem) *domain.ClaimReceipt {
	return &domain.ClaimReceipt{
		ID:          uuid.New().String(),
		Claimer:     caller,
		QuestionID:  item.req.QuestionID,
		ConditionID: item.condID,
		Epoch:       item.req.Epoch,
		Outcome:     item.req.Outcome,
		Burned:      new(big.Int).Set(item.balance),
		Net:         new(big.Int).Set(item.net),
		Fee:         new(big.Int).Set(item.fee),
		CreatedAt:   e.now().UTC(),
	}
}

// BatchClaim redeems up to MaxBatchClaims winning positions in one call.
// Invalid entries are skipped, not fatal: unresolved conditions, bad proofs,
// zero balances, duplicate tokens within the batch, and claims the condition
// pool cannot cover are all counted as skipped. The call fails only when
// every entry is invalid. After the whole batch has been validated, all
// burns execute as one batch, then all unlocks as another.
func (e *Engine) BatchClaim(caller common.Address, reqs []domain.ClaimRequest) (*domain.BatchClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(reqs) == 0 {
		return nil, fmt.Errorf("engine: batch claim: empty batch: %w", domain.ErrNoValidClaims)
	}
	if len(reqs) > domain.MaxBatchClaims {
		return nil, fmt.Errorf("engine: batch claim: %d entries: %w", len(reqs), domain.ErrBatchTooLarge)
	}

	seen := make(map[common.Hash]bool, len(reqs))
	pools := make(map[common.Hash]*big.Int, len(reqs))
	items := make([]claimItem, 0, len(reqs))
	skipped := 0
	for _, req := range reqs {
		item, err := e.validateClaim(caller, req, seen, pools)
		if err != nil {
			skipped++
			e.logger.Debug("engine: batch claim entry skipped",
				slog.String("question", req.QuestionID.Hex()),
				slog.Uint64("epoch", req.Epoch),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("engine: batch claim: %w", domain.ErrNoValidClaims)
	}

	// Execute as two grouped ledger operations: one burn batch covering
	// every claimed token, then one unlock batch releasing payouts and
	// fees. Validation reserved pool room per condition, so neither call
	// can fail on a live ledger.
	burnFrom := make([]common.Address, len(items))
	burnIDs := make([]common.Hash, len(items))
	burnAmounts := make([]*big.Int, len(items))
	unlockConds := make([]common.Hash, 0, 2*len(items))
	unlockTo := make([]common.Address, 0, 2*len(items))
	unlockAmounts := make([]*big.Int, 0, 2*len(items))
	for i, item := range items {
		burnFrom[i] = caller
		burnIDs[i] = item.tokenID
		burnAmounts[i] = item.balance
		unlockConds = append(unlockConds, item.condID)
		unlockTo = append(unlockTo, caller)
		unlockAmounts = append(unlockAmounts, item.net)
		if item.fee.Sign() > 0 {
			unlockConds = append(unlockConds, item.condID)
			unlockTo = append(unlockTo, e.access.Treasury())
			unlockAmounts = append(unlockAmounts, item.fee)
		}
	}
	if err := e.positions.BurnBatch(e.self, burnFrom, burnIDs, burnAmounts); err != nil {
		return nil, fmt.Errorf("engine: batch claim: burn: %w", err)
	}
	if err := e.vault.UnlockBatch(e.self, unlockConds, unlockTo, unlockAmounts); err != nil {
		return nil, fmt.Errorf("engine: batch claim: unlock: %w", err)
	}

	result := &domain.BatchClaimResult{
		Receipts: make([]domain.ClaimReceipt, 0, len(items)),
		Skipped:  skipped,
		TotalNet: new(big.Int),
		TotalFee: new(big.Int),
	}
	for _, item := range items {
		result.Receipts = append(result.Receipts, *e.receiptFor(caller, item))
		result.Processed++
		result.TotalNet.Add(result.TotalNet, item.net)
		result.TotalFee.Add(result.TotalFee, item.fee)
	}

	e.logger.Info("engine: batch claim paid",
		slog.String("claimer", caller.Hex()),
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.String("total_net", result.TotalNet.String()),
	)
	return result, nil
}

// EmergencyResolve lets the owner post a resolution root directly, bypassing
// the resolution authority. The market must have stopped trading, the epoch
// must be a real past or present epoch, and the supplied outcome count must
// match the market's, so the owner cannot fabricate a condition that was
// never tradable.
func (e *Engine) EmergencyResolve(caller common.Address, questionID common.Hash, epoch uint64, outcomeCount uint8, root common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.access.requireOwner(caller); err != nil {
		return fmt.Errorf("engine: emergency resolve: %w", err)
	}

	ready, err := e.markets.IsReadyForResolution(questionID)
	if err != nil {
		return fmt.Errorf("engine: emergency resolve: %w", err)
	}
	if !ready {
		return fmt.Errorf("engine: emergency resolve: %w", domain.ErrMarketNotReady)
	}

	if epoch == 0 {
		return fmt.Errorf("engine: emergency resolve: %w", domain.ErrInvalidEpoch)
	}
	current, err := e.markets.CurrentEpoch(questionID)
	if err != nil {
		return fmt.Errorf("engine: emergency resolve: %w", err)
	}
	if epoch > current {
		return fmt.Errorf("engine: emergency resolve: epoch %d beyond current %d: %w", epoch, current, domain.ErrInvalidEpoch)
	}

	cond, err := e.condition(questionID, epoch)
	if err != nil {
		return fmt.Errorf("engine: emergency resolve: %w", err)
	}
	if outcomeCount != cond.OutcomeCount {
		return fmt.Errorf("engine: emergency resolve: supplied %d, market %d: %w",
			outcomeCount, cond.OutcomeCount, domain.ErrOutcomeCountMismatch)
	}

	condID := cond.ID()
	if err := e.resolver.SetRoot(e.self, condID, root); err != nil {
		return fmt.Errorf("engine: emergency resolve: %w", err)
	}

	e.logger.Warn("engine: emergency resolution",
		slog.String("question", questionID.Hex()),
		slog.Uint64("epoch", epoch),
		slog.String("condition", condID.Hex()),
		slog.String("root", root.Hex()),
	)
	return nil
}
