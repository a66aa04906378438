package domain

import "errors"

// Rejection reasons surfaced by the clearing engine. Every entry point fails
// with one of these sentinels (usually wrapped with call-site context) so that
// off-chain callers can react deterministically: resubmit with a smaller fill,
// drop the order, or wait for resolution.
var (
	// Validation.
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrOrderExpired    = errors.New("order expired")
	ErrBadSignature    = errors.New("bad signature")
	ErrAlreadyFilled   = errors.New("order already filled or cancelled")
	ErrOrderMismatch   = errors.New("orders reference different markets or outcomes")
	ErrSideMismatch    = errors.New("order sides are not opposite")
	ErrPriceNotCrossed = errors.New("buy price below sell price")
	ErrZeroPayment     = errors.New("payment amount rounds to zero")

	// Authorization.
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotOrderOwner = errors.New("caller is not the order trader")

	// Insufficient resources.
	ErrInsufficientBalance   = errors.New("insufficient available balance")
	ErrInsufficientInventory = errors.New("insufficient token inventory")
	ErrInsufficientRoom      = errors.New("fill exceeds remaining order amount")
	ErrInsufficientPool      = errors.New("condition pool cannot cover payout")

	// Consistency.
	ErrUnknownMarket        = errors.New("unknown market")
	ErrMarketClosed         = errors.New("market is not open")
	ErrMarketNotReady       = errors.New("market not ready for resolution")
	ErrTradingPaused        = errors.New("trading is paused")
	ErrInvalidEpoch         = errors.New("invalid epoch")
	ErrNotResolved          = errors.New("condition not resolved")
	ErrAlreadyResolved      = errors.New("condition already resolved")
	ErrZeroBalance          = errors.New("no winning balance to claim")
	ErrInvalidProof         = errors.New("merkle proof verification failed")
	ErrOutcomeCountMismatch = errors.New("outcome count mismatch")
	ErrLengthMismatch       = errors.New("array length mismatch")
	ErrFeeTooHigh           = errors.New("fee rate exceeds maximum")
	ErrBatchTooLarge        = errors.New("batch exceeds maximum size")
	ErrNoValidClaims        = errors.New("no valid claims in batch")

	// Infrastructure.
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
