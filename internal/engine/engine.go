// Package engine implements the settlement engine: signed-order
// verification and fill accounting, the swap/joint-mint settlement decision,
// fee computation and routing, claims against merkle-proved resolutions, and
// the administrative surface (fees, treasury, matcher allowlist, pause
// switches).
//
// Every state-mutating entry point runs under one exclusive lock and
// validates completely before touching any state, so a rejection never
// leaves partial effects. Collateral and token movements are pre-checked for
// sufficiency before fill-state is advanced; the movement calls themselves
// cannot fail afterwards.
package engine

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// CollateralVault is the collateral-ledger capability the engine consumes.
// Privileged calls carry the engine's identity as caller; the vault enforces
// the whitelist at its own boundary.
type CollateralVault interface {
	Unlock(caller common.Address, condition common.Hash, recipient common.Address, amount *big.Int) error
	Transfer(caller, from, to common.Address, amount *big.Int) error
	LockBatch(caller common.Address, conditions []common.Hash, users []common.Address, amounts []*big.Int) error
	UnlockBatch(caller common.Address, conditions []common.Hash, recipients []common.Address, amounts []*big.Int) error
	AvailableBalance(user common.Address) *big.Int
	TotalLocked(condition common.Hash) *big.Int
}

// PositionLedger is the outcome-token capability the engine consumes.
type PositionLedger interface {
	MintBatch(caller, to common.Address, ids []common.Hash, amounts []*big.Int) error
	Burn(caller, from common.Address, id common.Hash, amount *big.Int) error
	BurnBatch(caller common.Address, from []common.Address, ids []common.Hash, amounts []*big.Int) error
	BalanceOf(holder common.Address, id common.Hash) *big.Int
}

// MarketInfo is the market-metadata capability the engine consumes.
type MarketInfo interface {
	IsOpen(questionID common.Hash) (bool, error)
	IsReadyForResolution(questionID common.Hash) (bool, error)
	OutcomeCount(questionID common.Hash) (uint8, error)
	CurrentEpoch(questionID common.Hash) (uint64, error)
}

// Resolver is the resolution-oracle capability the engine consumes.
type Resolver interface {
	SetRoot(caller common.Address, condition, root common.Hash) error
	Status(condition common.Hash) bool
	VerifyProof(condition common.Hash, outcome uint8, proof []common.Hash) bool
}

// Engine is the order-settlement and collateral-clearing controller.
type Engine struct {
	mu sync.Mutex

	// self is the identity the engine presents on privileged vault and
	// position-ledger calls.
	self      common.Address
	authority common.Address // resolution authority in condition derivation

	access *Access
	fees   *FeeSchedule
	hasher *crypto.OrderHasher

	vault     CollateralVault
	positions PositionLedger
	markets   MarketInfo
	resolver  Resolver

	// filled maps order hash to cumulative filled amount. Entries are
	// created on first fill and never deleted; cancellation forces the
	// entry to the order's full amount.
	filled map[common.Hash]*big.Int

	pausedGlobal bool
	pausedMarket map[common.Hash]bool

	now    func() time.Time
	logger *slog.Logger
}

// Deps bundles the collaborators an Engine is constructed with.
type Deps struct {
	Self      common.Address
	Authority common.Address
	Access    *Access
	Fees      *FeeSchedule
	Hasher    *crypto.OrderHasher
	Vault     CollateralVault
	Positions PositionLedger
	Markets   MarketInfo
	Resolver  Resolver
	Logger    *slog.Logger
}

// New creates an Engine.
func New(d Deps) *Engine {
	return &Engine{
		self:         d.Self,
		authority:    d.Authority,
		access:       d.Access,
		fees:         d.Fees,
		hasher:       d.Hasher,
		vault:        d.Vault,
		positions:    d.Positions,
		markets:      d.Markets,
		resolver:     d.Resolver,
		filled:       make(map[common.Hash]*big.Int),
		pausedMarket: make(map[common.Hash]bool),
		now:          time.Now,
		logger:       d.Logger.With(slog.String("component", "engine")),
	}
}

// WithClock overrides the engine's time source. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// HashOrder returns the order's canonical hash. Pure; callable by anyone to
// pre-compute a hash for signing.
func (e *Engine) HashOrder(o domain.Order) common.Hash {
	return e.hasher.Hash(o)
}

// Filled returns the cumulative filled amount recorded for an order hash.
func (e *Engine) Filled(hash common.Hash) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.filledOf(hash))
}

// Remaining returns order.Amount minus the recorded fill, floored at zero.
func (e *Engine) Remaining(o domain.Order) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	rem := new(big.Int).Sub(o.Amount, e.filledOf(e.hasher.Hash(o)))
	if rem.Sign() < 0 {
		return new(big.Int)
	}
	return rem
}

// SeedFills pre-loads persisted fill state, overwriting any in-memory
// entries. Call at startup before serving traffic.
func (e *Engine) SeedFills(state map[common.Hash]*big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, f := range state {
		if f == nil || f.Sign() <= 0 {
			continue
		}
		e.filled[h] = new(big.Int).Set(f)
	}
}

// VerifyOrder checks a signed order without advancing fill state. Matchers
// use it to pre-flight orders before submitting a settlement. It returns
// the order hash and the remaining fillable amount.
func (e *Engine) VerifyOrder(so domain.SignedOrder) (common.Hash, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifyOrder(so)
}

// verifyOrder checks structure, expiry, signature, and fill room, returning
// the order hash and its remaining amount. Pure check; fill-state is
// advanced by the caller. Caller holds e.mu.
func (e *Engine) verifyOrder(so domain.SignedOrder) (common.Hash, *big.Int, error) {
	o := so.Order
	if err := o.Validate(); err != nil {
		return common.Hash{}, nil, err
	}
	if o.Expiration != 0 && e.now().Unix() > o.Expiration {
		return common.Hash{}, nil, domain.ErrOrderExpired
	}

	signer, err := e.hasher.RecoverTrader(o, so.Signature)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if signer != o.Trader {
		return common.Hash{}, nil, fmt.Errorf("engine: recovered %s, order trader %s: %w",
			signer.Hex(), o.Trader.Hex(), domain.ErrBadSignature)
	}

	hash := e.hasher.Hash(o)
	filled := e.filledOf(hash)
	if filled.Cmp(o.Amount) >= 0 {
		return common.Hash{}, nil, domain.ErrAlreadyFilled
	}
	return hash, new(big.Int).Sub(o.Amount, filled), nil
}

// condition derives the settlement scope for a question at the given epoch,
// reading outcome count from the registry.
func (e *Engine) condition(questionID common.Hash, epoch uint64) (domain.Condition, error) {
	n, err := e.markets.OutcomeCount(questionID)
	if err != nil {
		return domain.Condition{}, err
	}
	return domain.Condition{
		Authority:    e.authority,
		QuestionID:   questionID,
		OutcomeCount: n,
		Epoch:        epoch,
	}, nil
}

// checkTradingOpen enforces the trading-hours gate: both the global
// kill-switch and the per-market switch must be off. Claims are exempt.
// Caller holds e.mu.
func (e *Engine) checkTradingOpen(questionID common.Hash) error {
	if e.pausedGlobal || e.pausedMarket[questionID] {
		return domain.ErrTradingPaused
	}
	open, err := e.markets.IsOpen(questionID)
	if err != nil {
		return err
	}
	if !open {
		return domain.ErrMarketClosed
	}
	return nil
}

func (e *Engine) filledOf(hash common.Hash) *big.Int {
	if f, ok := e.filled[hash]; ok {
		return f
	}
	return new(big.Int)
}

// recordFill adds amount to the order's cumulative fill. Caller holds e.mu
// and has already validated room.
func (e *Engine) recordFill(hash common.Hash, amount *big.Int) {
	f, ok := e.filled[hash]
	if !ok {
		f = new(big.Int)
		e.filled[hash] = f
	}
	f.Add(f, amount)
}

// --------------------------------------------------------------------------
// Administrative surface (owner only)
// --------------------------------------------------------------------------

// SetDefaultTradeFee sets the protocol-wide trade-fee rate.
func (e *Engine) SetDefaultTradeFee(caller common.Address, bps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	return e.fees.setDefaultTrade(bps)
}

// SetDefaultClaimFee sets the protocol-wide claim-fee rate.
func (e *Engine) SetDefaultClaimFee(caller common.Address, bps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	return e.fees.setDefaultClaim(bps)
}

// SetTradeFeeOverride sets a per-user trade-fee rate; zero clears the
// override.
func (e *Engine) SetTradeFeeOverride(caller, user common.Address, bps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	return e.fees.setTradeOverride(user, bps)
}

// SetClaimFeeOverride sets a per-user claim-fee rate; zero clears the
// override.
func (e *Engine) SetClaimFeeOverride(caller, user common.Address, bps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	return e.fees.setClaimOverride(user, bps)
}

// SetTreasury sets the fee recipient; zero disables fee collection.
func (e *Engine) SetTreasury(caller, treasury common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.access.setTreasury(treasury)
	return nil
}

// AddMatcher authorizes a matcher to submit settlements.
func (e *Engine) AddMatcher(caller, matcher common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.access.addMatcher(matcher)
	return nil
}

// RemoveMatcher revokes a matcher.
func (e *Engine) RemoveMatcher(caller, matcher common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.access.removeMatcher(matcher)
	return nil
}

// AddInventoryHolder authorizes a standing-inventory counterparty.
func (e *Engine) AddInventoryHolder(caller, holder common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.access.addInventoryHolder(holder)
	return nil
}

// RemoveInventoryHolder revokes a standing-inventory counterparty.
func (e *Engine) RemoveInventoryHolder(caller, holder common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.access.removeInventoryHolder(holder)
	return nil
}

// SetGlobalPause flips the global kill-switch.
func (e *Engine) SetGlobalPause(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	e.pausedGlobal = paused
	e.logger.Info("engine: global pause set", slog.Bool("paused", paused))
	return nil
}

// SetMarketPause flips the per-market pause switch.
func (e *Engine) SetMarketPause(caller common.Address, questionID common.Hash, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.access.requireOwner(caller); err != nil {
		return err
	}
	if paused {
		e.pausedMarket[questionID] = true
	} else {
		delete(e.pausedMarket, questionID)
	}
	e.logger.Info("engine: market pause set",
		slog.String("question", questionID.Hex()),
		slog.Bool("paused", paused),
	)
	return nil
}

// Paused returns the global and per-market pause flags.
func (e *Engine) Paused(questionID common.Hash) (global, market bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pausedGlobal, e.pausedMarket[questionID]
}

// TradeFeeBps returns the effective trade-fee rate for user.
func (e *Engine) TradeFeeBps(user common.Address) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.TradeFeeBps(user)
}

// ClaimFeeBps returns the effective claim-fee rate for user.
func (e *Engine) ClaimFeeBps(user common.Address) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.ClaimFeeBps(user)
}

// Matchers returns the current matcher allowlist.
func (e *Engine) Matchers() []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.access.Matchers()
}
