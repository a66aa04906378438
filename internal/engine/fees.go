package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// FeeSchedule holds the two independent fee tables: trade fees (charged on
// settlement) and claim fees (charged on redemption). Each has a
// protocol-wide default and optional per-user overrides.
//
// An override of exactly zero means "no override" and falls back to the
// default; it cannot grant a genuinely fee-free user. To waive fees set the
// default to zero, or grant a 1 bp override.
type FeeSchedule struct {
	defaultTradeBps int64
	defaultClaimBps int64
	tradeOverrides  map[common.Address]int64
	claimOverrides  map[common.Address]int64
}

// NewFeeSchedule creates a FeeSchedule with the given defaults.
func NewFeeSchedule(tradeBps, claimBps int64) (*FeeSchedule, error) {
	if err := checkFeeBps(tradeBps); err != nil {
		return nil, err
	}
	if err := checkFeeBps(claimBps); err != nil {
		return nil, err
	}
	return &FeeSchedule{
		defaultTradeBps: tradeBps,
		defaultClaimBps: claimBps,
		tradeOverrides:  make(map[common.Address]int64),
		claimOverrides:  make(map[common.Address]int64),
	}, nil
}

// TradeFeeBps returns the effective trade-fee rate for user.
func (f *FeeSchedule) TradeFeeBps(user common.Address) int64 {
	if bps := f.tradeOverrides[user]; bps > 0 {
		return bps
	}
	return f.defaultTradeBps
}

// ClaimFeeBps returns the effective claim-fee rate for user.
func (f *FeeSchedule) ClaimFeeBps(user common.Address) int64 {
	if bps := f.claimOverrides[user]; bps > 0 {
		return bps
	}
	return f.defaultClaimBps
}

func (f *FeeSchedule) setDefaultTrade(bps int64) error {
	if err := checkFeeBps(bps); err != nil {
		return err
	}
	f.defaultTradeBps = bps
	return nil
}

func (f *FeeSchedule) setDefaultClaim(bps int64) error {
	if err := checkFeeBps(bps); err != nil {
		return err
	}
	f.defaultClaimBps = bps
	return nil
}

func (f *FeeSchedule) setTradeOverride(user common.Address, bps int64) error {
	if err := checkFeeBps(bps); err != nil {
		return err
	}
	if bps == 0 {
		delete(f.tradeOverrides, user)
		return nil
	}
	f.tradeOverrides[user] = bps
	return nil
}

func (f *FeeSchedule) setClaimOverride(user common.Address, bps int64) error {
	if err := checkFeeBps(bps); err != nil {
		return err
	}
	if bps == 0 {
		delete(f.claimOverrides, user)
		return nil
	}
	f.claimOverrides[user] = bps
	return nil
}

func checkFeeBps(bps int64) error {
	if bps < 0 || bps > domain.MaxFeeBps {
		return fmt.Errorf("engine: fee rate %d bps: %w", bps, domain.ErrFeeTooHigh)
	}
	return nil
}

// feePortion computes amount * bps / PriceScale, rounding down.
func feePortion(amount *big.Int, bps int64) *big.Int {
	if bps == 0 || amount.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Quo(out, big.NewInt(domain.PriceScale))
}

// notional computes amount * priceBps / PriceScale, rounding down.
func notional(amount *big.Int, priceBps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(priceBps))
	return out.Quo(out, big.NewInt(domain.PriceScale))
}
