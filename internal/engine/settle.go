package engine

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// SettleMatched validates and settles a matched pair of signed orders for
// fillAmount units. Only an allowlisted matcher may call.
//
// The settlement mode is decided by the seller's current token inventory:
// full coverage swaps existing tokens, anything less mints a complete
// outcome set for the entire fill. The execution price is always the
// seller's limit price, so price improvement accrues to the buyer.
//
// The condition is derived from the market's epoch at execution time, not an
// epoch pinned at signature time. Matchers should stop submitting fills for
// a market shortly before its epoch boundary.
func (e *Engine) SettleMatched(matcher common.Address, buy, sell domain.SignedOrder, fillAmount *big.Int) (*domain.MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.access.IsMatcher(matcher) {
		return nil, fmt.Errorf("engine: settle matched: caller %s: %w", matcher.Hex(), domain.ErrUnauthorized)
	}
	if fillAmount == nil || fillAmount.Sign() <= 0 {
		return nil, fmt.Errorf("engine: settle matched: fill amount: %w", domain.ErrInvalidOrder)
	}

	b, s := buy.Order, sell.Order
	if b.Side != domain.SideBuy || s.Side != domain.SideSell {
		return nil, fmt.Errorf("engine: settle matched: %w", domain.ErrSideMismatch)
	}
	if b.QuestionID != s.QuestionID || b.Outcome != s.Outcome {
		return nil, fmt.Errorf("engine: settle matched: %w", domain.ErrOrderMismatch)
	}
	if b.Price < s.Price {
		return nil, fmt.Errorf("engine: settle matched: buy %d < sell %d: %w", b.Price, s.Price, domain.ErrPriceNotCrossed)
	}

	if err := e.checkTradingOpen(b.QuestionID); err != nil {
		return nil, fmt.Errorf("engine: settle matched: %w", err)
	}

	buyHash, buyRoom, err := e.verifyOrder(buy)
	if err != nil {
		return nil, fmt.Errorf("engine: settle matched: buy order: %w", err)
	}
	sellHash, sellRoom, err := e.verifyOrder(sell)
	if err != nil {
		return nil, fmt.Errorf("engine: settle matched: sell order: %w", err)
	}
	if fillAmount.Cmp(buyRoom) > 0 || fillAmount.Cmp(sellRoom) > 0 {
		return nil, fmt.Errorf("engine: settle matched: %w", domain.ErrInsufficientRoom)
	}

	epoch, err := e.markets.CurrentEpoch(b.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("engine: settle matched: %w", err)
	}
	cond, err := e.condition(b.QuestionID, epoch)
	if err != nil {
		return nil, fmt.Errorf("engine: settle matched: %w", err)
	}
	if b.Outcome >= cond.OutcomeCount {
		return nil, fmt.Errorf("engine: settle matched: outcome %d of %d: %w", b.Outcome, cond.OutcomeCount, domain.ErrInvalidOrder)
	}

	condID := cond.ID()
	price := s.Price
	tokenID := domain.TokenID(condID, b.Outcome)

	// Settlement-mode decision: full seller coverage swaps, anything less
	// mints the entire fill. There is no hybrid path.
	var (
		mode               domain.SettleMode
		buyerFee, sellerFee *big.Int
	)
	if e.positions.BalanceOf(s.Trader, tokenID).Cmp(fillAmount) >= 0 {
		mode = domain.SettleModeSwap
		buyerFee, sellerFee, err = e.settleSwap(cond, condID, tokenID, b.Trader, s.Trader, price, fillAmount, buyHash, sellHash)
	} else {
		mode = domain.SettleModeMint
		buyerFee, sellerFee, err = e.settleMint(cond, condID, b.Trader, s.Trader, b.Outcome, price, fillAmount, buyHash, sellHash)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: settle matched: %w", err)
	}

	now := e.now().UTC()
	result := &domain.MatchResult{
		Mode:        mode,
		ConditionID: condID,
		Epoch:       epoch,
		Fills: []domain.Fill{
			{
				ID:          uuid.New().String(),
				OrderHash:   buyHash,
				Trader:      b.Trader,
				Taker:       s.Trader,
				QuestionID:  b.QuestionID,
				ConditionID: condID,
				Epoch:       epoch,
				Outcome:     b.Outcome,
				Side:        domain.SideBuy,
				Amount:      new(big.Int).Set(fillAmount),
				Price:       price,
				Fee:         buyerFee,
				Mode:        mode,
				CreatedAt:   now,
			},
			{
				ID:          uuid.New().String(),
				OrderHash:   sellHash,
				Trader:      s.Trader,
				Taker:       b.Trader,
				QuestionID:  s.QuestionID,
				ConditionID: condID,
				Epoch:       epoch,
				Outcome:     s.Outcome,
				Side:        domain.SideSell,
				Amount:      new(big.Int).Set(fillAmount),
				Price:       price,
				Fee:         sellerFee,
				Mode:        mode,
				CreatedAt:   now,
			},
		},
	}

	e.logger.Info("engine: matched settlement",
		slog.String("mode", string(mode)),
		slog.String("condition", condID.Hex()),
		slog.String("buyer", b.Trader.Hex()),
		slog.String("seller", s.Trader.Hex()),
		slog.String("amount", fillAmount.String()),
		slog.Int64("price", price),
	)
	return result, nil
}

// settleSwap executes swap-mode settlement: the seller already holds the
// tokens, payment moves between available balances and total locked
// collateral is unchanged. The trade fee comes from the buyer's effective
// rate and is subtracted from the seller's proceeds.
//
// All balance checks happen before any state is touched. Caller holds e.mu.
func (e *Engine) settleSwap(cond domain.Condition, condID, tokenID common.Hash, buyer, seller common.Address, price int64, fill *big.Int, buyHash, sellHash common.Hash) (buyerFee, sellerFee *big.Int, err error) {
	payment := notional(fill, price)
	// A fill whose notional rounds to zero would move tokens for free;
	// reject instead of executing the token movement.
	if price > 0 && payment.Sign() == 0 {
		return nil, nil, domain.ErrZeroPayment
	}

	fee := new(big.Int)
	if e.access.HasTreasury() {
		fee = feePortion(payment, e.fees.TradeFeeBps(buyer))
	}

	if e.vault.AvailableBalance(buyer).Cmp(payment) < 0 {
		return nil, nil, fmt.Errorf("buyer %s: %w", buyer.Hex(), domain.ErrInsufficientBalance)
	}

	// Fill-state advances strictly before token/collateral movement; the
	// movements below are pre-validated and cannot fail.
	e.recordFill(buyHash, fill)
	e.recordFill(sellHash, fill)

	net := new(big.Int).Sub(payment, fee)
	if err := e.vault.Transfer(e.self, buyer, seller, net); err != nil {
		return nil, nil, fmt.Errorf("swap transfer: %w", err)
	}
	if fee.Sign() > 0 {
		if err := e.vault.Transfer(e.self, buyer, e.access.Treasury(), fee); err != nil {
			return nil, nil, fmt.Errorf("swap fee transfer: %w", err)
		}
	}

	// Burn then mint rather than transfer, so both settlement modes share
	// one token-movement primitive.
	if err := e.positions.Burn(e.self, seller, tokenID, fill); err != nil {
		return nil, nil, fmt.Errorf("swap burn: %w", err)
	}
	if err := e.positions.MintBatch(e.self, buyer, []common.Hash{tokenID}, []*big.Int{fill}); err != nil {
		return nil, nil, fmt.Errorf("swap mint: %w", err)
	}

	return fee, new(big.Int), nil
}

// settleMint executes joint-minting settlement: a complete outcome set is
// created, backed by collateral equal to the fill amount. The buyer
// contributes fill*price, the seller contributes the remainder by
// subtraction, so the two contributions always sum exactly to the fill.
// Each party pays a trade fee at their own effective rate from available
// balance before their contribution is locked.
//
// The buyer receives the chosen outcome token; the seller receives one unit
// of every other outcome in the set, which is what makes the set complete
// between the two counterparties jointly. Caller holds e.mu.
func (e *Engine) settleMint(cond domain.Condition, condID common.Hash, buyer, seller common.Address, outcome uint8, price int64, fill *big.Int, buyHash, sellHash common.Hash) (buyerFee, sellerFee *big.Int, err error) {
	buyerContrib := notional(fill, price)
	sellerContrib := new(big.Int).Sub(fill, buyerContrib)

	bFee, sFee := new(big.Int), new(big.Int)
	if e.access.HasTreasury() {
		bFee = feePortion(buyerContrib, e.fees.TradeFeeBps(buyer))
		sFee = feePortion(sellerContrib, e.fees.TradeFeeBps(seller))
	}

	buyerNeed := new(big.Int).Add(buyerContrib, bFee)
	sellerNeed := new(big.Int).Add(sellerContrib, sFee)
	if e.vault.AvailableBalance(buyer).Cmp(buyerNeed) < 0 {
		return nil, nil, fmt.Errorf("buyer %s: %w", buyer.Hex(), domain.ErrInsufficientBalance)
	}
	if e.vault.AvailableBalance(seller).Cmp(sellerNeed) < 0 {
		return nil, nil, fmt.Errorf("seller %s: %w", seller.Hex(), domain.ErrInsufficientBalance)
	}

	e.recordFill(buyHash, fill)
	e.recordFill(sellHash, fill)

	treasury := e.access.Treasury()
	if bFee.Sign() > 0 {
		if err := e.vault.Transfer(e.self, buyer, treasury, bFee); err != nil {
			return nil, nil, fmt.Errorf("mint buyer fee: %w", err)
		}
	}
	if sFee.Sign() > 0 {
		if err := e.vault.Transfer(e.self, seller, treasury, sFee); err != nil {
			return nil, nil, fmt.Errorf("mint seller fee: %w", err)
		}
	}

	if err := e.vault.LockBatch(e.self,
		[]common.Hash{condID, condID},
		[]common.Address{buyer, seller},
		[]*big.Int{buyerContrib, sellerContrib},
	); err != nil {
		return nil, nil, fmt.Errorf("mint lock: %w", err)
	}

	if err := e.positions.MintBatch(e.self, buyer,
		[]common.Hash{domain.TokenID(condID, outcome)},
		[]*big.Int{fill},
	); err != nil {
		return nil, nil, fmt.Errorf("mint buyer tokens: %w", err)
	}

	otherIDs := make([]common.Hash, 0, int(cond.OutcomeCount)-1)
	otherAmounts := make([]*big.Int, 0, int(cond.OutcomeCount)-1)
	for i := uint8(0); i < cond.OutcomeCount; i++ {
		if i == outcome {
			continue
		}
		otherIDs = append(otherIDs, domain.TokenID(condID, i))
		otherAmounts = append(otherAmounts, fill)
	}
	if err := e.positions.MintBatch(e.self, seller, otherIDs, otherAmounts); err != nil {
		return nil, nil, fmt.Errorf("mint seller tokens: %w", err)
	}

	return bFee, sFee, nil
}

// SettleInventory settles a single signed order against a pre-authorized
// standing-inventory counterparty. Swap-like accounting only: there is no
// joint-minting fallback, and insufficient inventory on either side is a
// hard rejection. The trade fee is charged to the order's trader at that
// trader's own effective rate, whichever side the order is on.
func (e *Engine) SettleInventory(matcher common.Address, so domain.SignedOrder, counterparty common.Address, fillAmount *big.Int) (*domain.MatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.access.IsMatcher(matcher) {
		return nil, fmt.Errorf("engine: settle inventory: caller %s: %w", matcher.Hex(), domain.ErrUnauthorized)
	}
	if !e.access.IsInventoryHolder(counterparty) {
		return nil, fmt.Errorf("engine: settle inventory: counterparty %s: %w", counterparty.Hex(), domain.ErrUnauthorized)
	}
	if fillAmount == nil || fillAmount.Sign() <= 0 {
		return nil, fmt.Errorf("engine: settle inventory: fill amount: %w", domain.ErrInvalidOrder)
	}

	o := so.Order
	if err := e.checkTradingOpen(o.QuestionID); err != nil {
		return nil, fmt.Errorf("engine: settle inventory: %w", err)
	}

	hash, room, err := e.verifyOrder(so)
	if err != nil {
		return nil, fmt.Errorf("engine: settle inventory: %w", err)
	}
	if fillAmount.Cmp(room) > 0 {
		return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrInsufficientRoom)
	}

	epoch, err := e.markets.CurrentEpoch(o.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("engine: settle inventory: %w", err)
	}
	cond, err := e.condition(o.QuestionID, epoch)
	if err != nil {
		return nil, fmt.Errorf("engine: settle inventory: %w", err)
	}
	if o.Outcome >= cond.OutcomeCount {
		return nil, fmt.Errorf("engine: settle inventory: outcome %d of %d: %w", o.Outcome, cond.OutcomeCount, domain.ErrInvalidOrder)
	}

	condID := cond.ID()
	tokenID := domain.TokenID(condID, o.Outcome)

	payment := notional(fillAmount, o.Price)
	if o.Price > 0 && payment.Sign() == 0 {
		return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrZeroPayment)
	}

	fee := new(big.Int)
	if e.access.HasTreasury() {
		fee = feePortion(payment, e.fees.TradeFeeBps(o.Trader))
	}
	net := new(big.Int).Sub(payment, fee)

	var payer, payee, tokenFrom, tokenTo common.Address
	if o.Side == domain.SideBuy {
		// Counterparty sells held tokens to the trader.
		if e.positions.BalanceOf(counterparty, tokenID).Cmp(fillAmount) < 0 {
			return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrInsufficientInventory)
		}
		if e.vault.AvailableBalance(o.Trader).Cmp(payment) < 0 {
			return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrInsufficientBalance)
		}
		payer, payee = o.Trader, counterparty
		tokenFrom, tokenTo = counterparty, o.Trader
	} else {
		// Counterparty absorbs the trader's tokens.
		if e.positions.BalanceOf(o.Trader, tokenID).Cmp(fillAmount) < 0 {
			return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrInsufficientInventory)
		}
		if e.vault.AvailableBalance(counterparty).Cmp(payment) < 0 {
			return nil, fmt.Errorf("engine: settle inventory: %w", domain.ErrInsufficientBalance)
		}
		payer, payee = counterparty, o.Trader
		tokenFrom, tokenTo = o.Trader, counterparty
	}

	e.recordFill(hash, fillAmount)

	if err := e.vault.Transfer(e.self, payer, payee, net); err != nil {
		return nil, fmt.Errorf("engine: settle inventory: transfer: %w", err)
	}
	if fee.Sign() > 0 {
		if err := e.vault.Transfer(e.self, payer, e.access.Treasury(), fee); err != nil {
			return nil, fmt.Errorf("engine: settle inventory: fee transfer: %w", err)
		}
	}
	if err := e.positions.Burn(e.self, tokenFrom, tokenID, fillAmount); err != nil {
		return nil, fmt.Errorf("engine: settle inventory: burn: %w", err)
	}
	if err := e.positions.MintBatch(e.self, tokenTo, []common.Hash{tokenID}, []*big.Int{fillAmount}); err != nil {
		return nil, fmt.Errorf("engine: settle inventory: mint: %w", err)
	}

	result := &domain.MatchResult{
		Mode:        domain.SettleModeSwap,
		ConditionID: condID,
		Epoch:       epoch,
		Fills: []domain.Fill{{
			ID:          uuid.New().String(),
			OrderHash:   hash,
			Trader:      o.Trader,
			Taker:       counterparty,
			QuestionID:  o.QuestionID,
			ConditionID: condID,
			Epoch:       epoch,
			Outcome:     o.Outcome,
			Side:        o.Side,
			Amount:      new(big.Int).Set(fillAmount),
			Price:       o.Price,
			Fee:         fee,
			Mode:        domain.SettleModeSwap,
			CreatedAt:   e.now().UTC(),
		}},
	}

	e.logger.Info("engine: inventory settlement",
		slog.String("trader", o.Trader.Hex()),
		slog.String("counterparty", counterparty.Hex()),
		slog.String("amount", fillAmount.String()),
		slog.Int64("price", o.Price),
	)
	return result, nil
}

// Cancel marks an order unfillable by forcing its recorded fill to the full
// order amount. Only the order's trader may cancel. Cancelling an order that
// is already fully filled or cancelled is a no-op; cancelling an order never
// seen before succeeds and pre-empts any future fill.
func (e *Engine) Cancel(caller common.Address, o domain.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return fmt.Errorf("engine: cancel: %w", domain.ErrInvalidOrder)
	}
	if caller != o.Trader {
		return fmt.Errorf("engine: cancel: caller %s: %w", caller.Hex(), domain.ErrNotOrderOwner)
	}

	hash := e.hasher.Hash(o)
	if e.filledOf(hash).Cmp(o.Amount) >= 0 {
		return nil
	}
	e.filled[hash] = new(big.Int).Set(o.Amount)

	e.logger.Info("engine: order cancelled",
		slog.String("order_hash", hash.Hex()),
		slog.String("trader", o.Trader.Hex()),
		slog.Time("at", e.now().UTC()),
	)
	return nil
}
