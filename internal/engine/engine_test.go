package engine

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/market"
	"github.com/alanyoungcy/clearinghouse/internal/positions"
	"github.com/alanyoungcy/clearinghouse/internal/resolver"
	"github.com/alanyoungcy/clearinghouse/internal/vault"
)

const (
	testChainID = int64(31337)

	// Throwaway dev-chain keys.
	buyerKeyHex  = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	sellerKeyHex = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	ownerAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	authorityAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	matcherAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	treasuryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	engineAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	holderAddr    = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	questionA = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

// testEnv wires a complete in-memory clearing system: engine plus real vault,
// position ledger, market registry and resolver, with a frozen clock.
type testEnv struct {
	t *testing.T

	eng     *Engine
	vault   *vault.Vault
	pos     *positions.Ledger
	markets *market.Registry
	res     *resolver.MerkleResolver

	buyer  *crypto.Signer
	seller *crypto.Signer

	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	v := vault.New(ownerAddr, logger)
	require.NoError(t, v.SetEngine(ownerAddr, engineAddr))

	pos := positions.New(ownerAddr)
	require.NoError(t, pos.SetEngine(ownerAddr, engineAddr))

	reg := market.NewRegistry(ownerAddr).WithClock(clock)
	require.NoError(t, reg.Create(ownerAddr, market.Config{
		QuestionID:   questionA,
		OutcomeCount: 2,
		CloseAt:      now.Add(24 * time.Hour),
	}))

	res := resolver.New(authorityAddr)
	require.NoError(t, res.SetEngine(authorityAddr, engineAddr))

	fees, err := NewFeeSchedule(100, 400) // 1% trade, 4% claim
	require.NoError(t, err)

	eng := New(Deps{
		Self:      engineAddr,
		Authority: authorityAddr,
		Access:    NewAccess(ownerAddr),
		Fees:      fees,
		Hasher:    crypto.NewOrderHasher(testChainID),
		Vault:     v,
		Positions: pos,
		Markets:   reg,
		Resolver:  res,
		Logger:    logger,
	}).WithClock(clock)

	require.NoError(t, eng.AddMatcher(ownerAddr, matcherAddr))
	require.NoError(t, eng.SetTreasury(ownerAddr, treasuryAddr))

	buyer, err := crypto.NewSigner(buyerKeyHex, testChainID)
	require.NoError(t, err)
	seller, err := crypto.NewSigner(sellerKeyHex, testChainID)
	require.NoError(t, err)

	require.NoError(t, v.Deposit(buyer.Address(), big.NewInt(1_000_000)))
	require.NoError(t, v.Deposit(seller.Address(), big.NewInt(1_000_000)))

	return &testEnv{
		t:       t,
		eng:     eng,
		vault:   v,
		pos:     pos,
		markets: reg,
		res:     res,
		buyer:   buyer,
		seller:  seller,
		now:     now,
	}
}

func (te *testEnv) signedOrder(s *crypto.Signer, side domain.Side, amount, price int64, nonce uint64) domain.SignedOrder {
	te.t.Helper()
	o := domain.Order{
		Trader:     s.Address(),
		QuestionID: questionA,
		Outcome:    0,
		Amount:     big.NewInt(amount),
		Price:      price,
		Nonce:      nonce,
		Side:       side,
	}
	sig, err := s.SignOrder(o)
	require.NoError(te.t, err)
	return domain.SignedOrder{Order: o, Signature: sig}
}

// condID derives the condition id for questionA at epoch 1, matching what the
// engine derives during settlement.
func (te *testEnv) condID() common.Hash {
	return domain.Condition{
		Authority:    authorityAddr,
		QuestionID:   questionA,
		OutcomeCount: 2,
		Epoch:        1,
	}.ID()
}

// mintSettle runs one joint-minting settlement of 1000 units at 6000 bps,
// leaving the buyer with 1000 of outcome 0, the seller with 1000 of outcome
// 1, and 1000 collateral in the condition's locked pool.
func (te *testEnv) mintSettle(nonce uint64) *domain.MatchResult {
	te.t.Helper()
	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6500, nonce)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, nonce)
	res, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(1000))
	require.NoError(te.t, err)
	require.Equal(te.t, domain.SettleModeMint, res.Mode)
	return res
}

// resolveWinner closes the market and posts a single-leaf root declaring the
// given outcome the winner of epoch 1.
func (te *testEnv) resolveWinner(outcome uint8) {
	te.t.Helper()
	require.NoError(te.t, te.markets.Close(ownerAddr, questionA))
	root := resolver.BuildRoot([]common.Hash{domain.OutcomeLeaf(te.condID(), outcome)})
	require.NoError(te.t, te.res.SetRoot(authorityAddr, te.condID(), root))
}

// --------------------------------------------------------------------------
// Order verification
// --------------------------------------------------------------------------

func TestVerifyOrder(t *testing.T) {
	te := newTestEnv(t)

	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6500, 1)
	hash, remaining, err := te.eng.VerifyOrder(buy)
	require.NoError(t, err)
	require.Equal(t, te.eng.HashOrder(buy.Order), hash)
	require.Equal(t, int64(1000), remaining.Int64())

	tampered := buy
	tampered.Order.Amount = big.NewInt(2000)
	_, _, err = te.eng.VerifyOrder(tampered)
	require.ErrorIs(t, err, domain.ErrBadSignature)

	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)
	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(400))
	require.NoError(t, err)
	_, remaining, err = te.eng.VerifyOrder(buy)
	require.NoError(t, err)
	require.Equal(t, int64(600), remaining.Int64())

	require.NoError(t, te.eng.Cancel(te.buyer.Address(), buy.Order))
	_, _, err = te.eng.VerifyOrder(buy)
	require.ErrorIs(t, err, domain.ErrAlreadyFilled)
}

// --------------------------------------------------------------------------
// Matched settlement
// --------------------------------------------------------------------------

func TestSettleMatchedJointMint(t *testing.T) {
	te := newTestEnv(t)

	res := te.mintSettle(1)

	// Execution at the seller's limit: buyer funds 600, seller funds 400 by
	// subtraction, 1% fee on each contribution.
	require.Len(t, res.Fills, 2)
	require.Equal(t, uint64(1), res.Epoch)
	require.Equal(t, int64(6000), res.Fills[0].Price)
	require.Equal(t, "6", res.Fills[0].Fee.String())
	require.Equal(t, "4", res.Fills[1].Fee.String())

	require.Equal(t, "999394", te.vault.AvailableBalance(te.buyer.Address()).String())
	require.Equal(t, "999596", te.vault.AvailableBalance(te.seller.Address()).String())
	require.Equal(t, "10", te.vault.AvailableBalance(treasuryAddr).String())

	// The locked pool exactly backs the minted set.
	require.Equal(t, "1000", te.vault.TotalLocked(te.condID()).String())
	require.Equal(t, "1000", te.pos.BalanceOf(te.buyer.Address(), domain.TokenID(te.condID(), 0)).String())
	require.Equal(t, "1000", te.pos.BalanceOf(te.seller.Address(), domain.TokenID(te.condID(), 1)).String())
	require.Equal(t, "0", te.pos.BalanceOf(te.seller.Address(), domain.TokenID(te.condID(), 0)).String())
}

func TestSettleMatchedSwap(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)

	// The original buyer now holds 1000 of outcome 0 and sells it back; full
	// coverage means swap mode and no new collateral exposure.
	sell := te.signedOrder(te.buyer, domain.SideSell, 1000, 6000, 2)
	buy := te.signedOrder(te.seller, domain.SideBuy, 1000, 6000, 2)

	lockedBefore := te.vault.TotalLocked(te.condID())
	tokenSellerAvail := te.vault.AvailableBalance(te.buyer.Address())
	tokenBuyerAvail := te.vault.AvailableBalance(te.seller.Address())
	treasuryAvail := te.vault.AvailableBalance(treasuryAddr)

	res, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, domain.SettleModeSwap, res.Mode)

	// Payment 600, fee 1% = 6: the buyer pays 600, the selling side nets 594.
	require.Equal(t, new(big.Int).Sub(tokenBuyerAvail, big.NewInt(600)), te.vault.AvailableBalance(te.seller.Address()))
	require.Equal(t, new(big.Int).Add(tokenSellerAvail, big.NewInt(594)), te.vault.AvailableBalance(te.buyer.Address()))
	require.Equal(t, new(big.Int).Add(treasuryAvail, big.NewInt(6)), te.vault.AvailableBalance(treasuryAddr))

	// Tokens moved, locked pool untouched.
	require.Equal(t, "1000", te.pos.BalanceOf(te.seller.Address(), domain.TokenID(te.condID(), 0)).String())
	require.Equal(t, "0", te.pos.BalanceOf(te.buyer.Address(), domain.TokenID(te.condID(), 0)).String())
	require.Equal(t, lockedBefore, te.vault.TotalLocked(te.condID()))
}

func TestSettleMatchedPartialFills(t *testing.T) {
	te := newTestEnv(t)

	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)

	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(400))
	require.NoError(t, err)
	require.Equal(t, "600", te.eng.Remaining(buy.Order).String())

	// Exceeding the remainder is rejected without advancing fill state.
	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(700))
	require.ErrorIs(t, err, domain.ErrInsufficientRoom)
	require.Equal(t, "600", te.eng.Remaining(buy.Order).String())

	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(600))
	require.NoError(t, err)

	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrAlreadyFilled)
}

func TestSettleMatchedValidation(t *testing.T) {
	te := newTestEnv(t)
	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)

	_, err := te.eng.SettleMatched(holderAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = te.eng.SettleMatched(matcherAddr, sell, buy, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrSideMismatch)

	cheapBuy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 5000, 2)
	_, err = te.eng.SettleMatched(matcherAddr, cheapBuy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrPriceNotCrossed)

	otherOutcome := buy
	otherOutcome.Order.Outcome = 1
	_, err = te.eng.SettleMatched(matcherAddr, otherOutcome, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrOrderMismatch)

	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestSettleMatchedTamperedOrder(t *testing.T) {
	te := newTestEnv(t)
	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)

	// Any change to the signed content recovers a different address.
	buy.Order.Price = 6500
	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestSettleMatchedExpiredOrder(t *testing.T) {
	te := newTestEnv(t)

	o := domain.Order{
		Trader:     te.buyer.Address(),
		QuestionID: questionA,
		Amount:     big.NewInt(1000),
		Price:      6000,
		Nonce:      1,
		Expiration: te.now.Add(-time.Minute).Unix(),
		Side:       domain.SideBuy,
	}
	sig, err := te.buyer.SignOrder(o)
	require.NoError(t, err)

	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)
	_, err = te.eng.SettleMatched(matcherAddr, domain.SignedOrder{Order: o, Signature: sig}, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrOrderExpired)
}

func TestSettleMatchedPauseGates(t *testing.T) {
	te := newTestEnv(t)
	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)

	require.NoError(t, te.eng.SetGlobalPause(ownerAddr, true))
	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrTradingPaused)
	require.NoError(t, te.eng.SetGlobalPause(ownerAddr, false))

	require.NoError(t, te.eng.SetMarketPause(ownerAddr, questionA, true))
	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrTradingPaused)
	require.NoError(t, te.eng.SetMarketPause(ownerAddr, questionA, false))

	require.NoError(t, te.markets.Close(ownerAddr, questionA))
	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestSettleMatchedInsufficientBalanceIsAtomic(t *testing.T) {
	te := newTestEnv(t)

	poor := te.buyer.Address()
	drain := new(big.Int).Sub(te.vault.AvailableBalance(poor), big.NewInt(10))
	require.NoError(t, te.vault.Withdraw(poor, drain))

	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)
	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(1000))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Rejection leaves no trace: no fills, no token movement, no locks.
	require.Equal(t, "0", te.eng.Filled(te.eng.HashOrder(buy.Order)).String())
	require.Equal(t, "0", te.eng.Filled(te.eng.HashOrder(sell.Order)).String())
	require.Equal(t, "0", te.vault.TotalLocked(te.condID()).String())
	require.Equal(t, "1000000", te.vault.AvailableBalance(te.seller.Address()).String())
}

func TestSettleMatchedZeroPaymentRejected(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)

	// Buyer holds 1000 of outcome 0; a resale at 1 bps for 999 units has a
	// notional of zero and must not move tokens for free.
	sell := te.signedOrder(te.buyer, domain.SideSell, 999, 1, 2)
	buy := te.signedOrder(te.seller, domain.SideBuy, 999, 1, 2)
	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(999))
	require.ErrorIs(t, err, domain.ErrZeroPayment)
}

func TestSettleMatchedNoTreasuryNoFees(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, te.eng.SetTreasury(ownerAddr, common.Address{}))

	res := te.mintSettle(1)
	require.Equal(t, "0", res.Fills[0].Fee.String())
	require.Equal(t, "0", res.Fills[1].Fee.String())
	require.Equal(t, "999400", te.vault.AvailableBalance(te.buyer.Address()).String())
	require.Equal(t, "999600", te.vault.AvailableBalance(te.seller.Address()).String())
}

// --------------------------------------------------------------------------
// Inventory settlement
// --------------------------------------------------------------------------

func TestSettleInventoryBuy(t *testing.T) {
	te := newTestEnv(t)

	// Seed the holder's inventory through a real settlement so the books
	// stay consistent: holder buys 1000 of outcome 0 from the seller.
	holderSigner, err := crypto.NewSigner("0x7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", testChainID)
	require.NoError(t, err)
	require.NoError(t, te.vault.Deposit(holderSigner.Address(), big.NewInt(1_000_000)))
	require.NoError(t, te.eng.AddInventoryHolder(ownerAddr, holderSigner.Address()))

	seed := domain.Order{
		Trader:     holderSigner.Address(),
		QuestionID: questionA,
		Amount:     big.NewInt(1000),
		Price:      6000,
		Nonce:      1,
		Side:       domain.SideBuy,
	}
	seedSig, err := holderSigner.SignOrder(seed)
	require.NoError(t, err)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)
	_, err = te.eng.SettleMatched(matcherAddr, domain.SignedOrder{Order: seed, Signature: seedSig}, sell, big.NewInt(1000))
	require.NoError(t, err)

	// Buyer takes 500 from the holder's inventory at 7000 bps.
	buy := te.signedOrder(te.buyer, domain.SideBuy, 500, 7000, 1)
	res, err := te.eng.SettleInventory(matcherAddr, buy, holderSigner.Address(), big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, domain.SettleModeSwap, res.Mode)
	require.Len(t, res.Fills, 1)

	// Payment 350, trader-side fee 1% = 3: holder nets 347.
	require.Equal(t, "3", res.Fills[0].Fee.String())
	require.Equal(t, "999650", te.vault.AvailableBalance(te.buyer.Address()).String())
	require.Equal(t, "500", te.pos.BalanceOf(te.buyer.Address(), domain.TokenID(te.condID(), 0)).String())
	require.Equal(t, "500", te.pos.BalanceOf(holderSigner.Address(), domain.TokenID(te.condID(), 0)).String())

	// Inventory exhausted below the requested fill is a hard rejection.
	bigBuy := te.signedOrder(te.buyer, domain.SideBuy, 600, 7000, 2)
	_, err = te.eng.SettleInventory(matcherAddr, bigBuy, holderSigner.Address(), big.NewInt(600))
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)
}

func TestSettleInventoryRequiresAuthorizedHolder(t *testing.T) {
	te := newTestEnv(t)

	buy := te.signedOrder(te.buyer, domain.SideBuy, 100, 6000, 1)
	_, err := te.eng.SettleInventory(matcherAddr, buy, holderAddr, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

// --------------------------------------------------------------------------
// Cancellation
// --------------------------------------------------------------------------

func TestCancelBlocksFutureFills(t *testing.T) {
	te := newTestEnv(t)

	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)

	// Cancelling an order the engine has never seen still pre-empts it.
	require.NoError(t, te.eng.Cancel(te.buyer.Address(), buy.Order))

	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrAlreadyFilled)

	// Idempotent.
	require.NoError(t, te.eng.Cancel(te.buyer.Address(), buy.Order))
}

func TestCancelOnlyByTrader(t *testing.T) {
	te := newTestEnv(t)
	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)

	err := te.eng.Cancel(te.seller.Address(), buy.Order)
	require.ErrorIs(t, err, domain.ErrNotOrderOwner)
}

func TestCancelAfterPartialFill(t *testing.T) {
	te := newTestEnv(t)

	buy := te.signedOrder(te.buyer, domain.SideBuy, 1000, 6000, 1)
	sell := te.signedOrder(te.seller, domain.SideSell, 1000, 6000, 1)
	_, err := te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(400))
	require.NoError(t, err)

	require.NoError(t, te.eng.Cancel(te.buyer.Address(), buy.Order))
	require.Equal(t, "0", te.eng.Remaining(buy.Order).String())

	_, err = te.eng.SettleMatched(matcherAddr, buy, sell, big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrAlreadyFilled)
}

// --------------------------------------------------------------------------
// Claims
// --------------------------------------------------------------------------

func TestClaimWinningPosition(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)
	te.resolveWinner(0)

	availBefore := te.vault.AvailableBalance(te.buyer.Address())
	treasuryBefore := te.vault.AvailableBalance(treasuryAddr)

	receipt, err := te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{
		QuestionID: questionA,
		Epoch:      1,
		Outcome:    0,
	})
	require.NoError(t, err)

	// 1000 burned, 4% claim fee: 960 net, 40 to treasury.
	require.Equal(t, "1000", receipt.Burned.String())
	require.Equal(t, "960", receipt.Net.String())
	require.Equal(t, "40", receipt.Fee.String())
	require.Equal(t, new(big.Int).Add(availBefore, big.NewInt(960)), te.vault.AvailableBalance(te.buyer.Address()))
	require.Equal(t, new(big.Int).Add(treasuryBefore, big.NewInt(40)), te.vault.AvailableBalance(treasuryAddr))
	require.Equal(t, "0", te.vault.TotalLocked(te.condID()).String())
	require.Equal(t, "0", te.pos.BalanceOf(te.buyer.Address(), domain.TokenID(te.condID(), 0)).String())

	// The balance is gone, so the claim cannot replay.
	_, err = te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{QuestionID: questionA, Epoch: 1, Outcome: 0})
	require.ErrorIs(t, err, domain.ErrZeroBalance)
}

func TestClaimLosingOutcomeRejected(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)
	te.resolveWinner(0)

	// The seller holds outcome 1, which is not in the winning set.
	_, err := te.eng.Claim(te.seller.Address(), domain.ClaimRequest{
		QuestionID: questionA,
		Epoch:      1,
		Outcome:    1,
	})
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestClaimValidation(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)

	// Unresolved condition.
	_, err := te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{QuestionID: questionA, Epoch: 1, Outcome: 0})
	require.ErrorIs(t, err, domain.ErrNotResolved)

	_, err = te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{QuestionID: questionA, Epoch: 0, Outcome: 0})
	require.ErrorIs(t, err, domain.ErrInvalidEpoch)

	_, err = te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{QuestionID: questionA, Epoch: 2, Outcome: 0})
	require.ErrorIs(t, err, domain.ErrInvalidEpoch)
}

func TestClaimMultiOutcomeProof(t *testing.T) {
	te := newTestEnv(t)

	// Four-outcome market with a real multi-leaf tree; outcomes 0 and 2 win.
	q := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	require.NoError(t, te.markets.Create(ownerAddr, market.Config{
		QuestionID:   q,
		OutcomeCount: 4,
		CloseAt:      te.now.Add(24 * time.Hour),
	}))

	buy := domain.Order{
		Trader:     te.buyer.Address(),
		QuestionID: q,
		Outcome:    2,
		Amount:     big.NewInt(1000),
		Price:      2500,
		Nonce:      9,
		Side:       domain.SideBuy,
	}
	buySig, err := te.buyer.SignOrder(buy)
	require.NoError(t, err)
	sell := buy
	sell.Trader = te.seller.Address()
	sell.Side = domain.SideSell
	sellSig, err := te.seller.SignOrder(sell)
	require.NoError(t, err)

	res, err := te.eng.SettleMatched(matcherAddr,
		domain.SignedOrder{Order: buy, Signature: buySig},
		domain.SignedOrder{Order: sell, Signature: sellSig},
		big.NewInt(1000),
	)
	require.NoError(t, err)
	require.Equal(t, domain.SettleModeMint, res.Mode)
	condID := res.ConditionID

	require.NoError(t, te.markets.Close(ownerAddr, q))
	leaves := []common.Hash{
		domain.OutcomeLeaf(condID, 0),
		domain.OutcomeLeaf(condID, 2),
	}
	require.NoError(t, te.res.SetRoot(authorityAddr, condID, resolver.BuildRoot(leaves)))

	receipt, err := te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{
		QuestionID: q,
		Epoch:      1,
		Outcome:    2,
		Proof:      resolver.BuildProof(leaves, 1),
	})
	require.NoError(t, err)
	require.Equal(t, "1000", receipt.Burned.String())

	// Outcome 1 is a losing leaf even with the other claim's proof attached.
	_, err = te.eng.Claim(te.seller.Address(), domain.ClaimRequest{
		QuestionID: q,
		Epoch:      1,
		Outcome:    1,
		Proof:      resolver.BuildProof(leaves, 0),
	})
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestClaimPoolShortfallRejectedIntact(t *testing.T) {
	te := newTestEnv(t)

	// Four-outcome market whose root commits two winning outcomes, so the
	// winning balances total 2000 against a pool of 1000. The first claim
	// drains the pool; the second must be rejected with the claimer's
	// tokens and balance untouched.
	q := common.HexToHash("0x4444444444444444444444444444444444444444444444444444444444444444")
	require.NoError(t, te.markets.Create(ownerAddr, market.Config{
		QuestionID:   q,
		OutcomeCount: 4,
		CloseAt:      te.now.Add(24 * time.Hour),
	}))

	buy := domain.Order{
		Trader:     te.buyer.Address(),
		QuestionID: q,
		Outcome:    2,
		Amount:     big.NewInt(1000),
		Price:      2500,
		Nonce:      11,
		Side:       domain.SideBuy,
	}
	buySig, err := te.buyer.SignOrder(buy)
	require.NoError(t, err)
	sell := buy
	sell.Trader = te.seller.Address()
	sell.Side = domain.SideSell
	sellSig, err := te.seller.SignOrder(sell)
	require.NoError(t, err)

	res, err := te.eng.SettleMatched(matcherAddr,
		domain.SignedOrder{Order: buy, Signature: buySig},
		domain.SignedOrder{Order: sell, Signature: sellSig},
		big.NewInt(1000),
	)
	require.NoError(t, err)
	condID := res.ConditionID

	require.NoError(t, te.markets.Close(ownerAddr, q))
	leaves := []common.Hash{
		domain.OutcomeLeaf(condID, 0),
		domain.OutcomeLeaf(condID, 2),
	}
	require.NoError(t, te.res.SetRoot(authorityAddr, condID, resolver.BuildRoot(leaves)))

	_, err = te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{
		QuestionID: q,
		Epoch:      1,
		Outcome:    2,
		Proof:      resolver.BuildProof(leaves, 1),
	})
	require.NoError(t, err)
	require.Equal(t, "0", te.vault.TotalLocked(condID).String())

	sellerToken := domain.TokenID(condID, 0)
	tokensBefore := te.pos.BalanceOf(te.seller.Address(), sellerToken)
	availBefore := te.vault.AvailableBalance(te.seller.Address())

	_, err = te.eng.Claim(te.seller.Address(), domain.ClaimRequest{
		QuestionID: q,
		Epoch:      1,
		Outcome:    0,
		Proof:      resolver.BuildProof(leaves, 0),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientPool)
	require.Equal(t, tokensBefore, te.pos.BalanceOf(te.seller.Address(), sellerToken))
	require.Equal(t, availBefore, te.vault.AvailableBalance(te.seller.Address()))
}

// --------------------------------------------------------------------------
// Batch claims
// --------------------------------------------------------------------------

func TestBatchClaimTotals(t *testing.T) {
	te := newTestEnv(t)

	questions := []common.Hash{
		common.HexToHash("0x3331111111111111111111111111111111111111111111111111111111111111"),
		common.HexToHash("0x3332222222222222222222222222222222222222222222222222222222222222"),
		common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333"),
	}

	reqs := make([]domain.ClaimRequest, 0, len(questions))
	for i, q := range questions {
		require.NoError(t, te.markets.Create(ownerAddr, market.Config{
			QuestionID:   q,
			OutcomeCount: 2,
			CloseAt:      te.now.Add(24 * time.Hour),
		}))

		buy := domain.Order{
			Trader:     te.buyer.Address(),
			QuestionID: q,
			Amount:     big.NewInt(1000),
			Price:      6000,
			Nonce:      uint64(100 + i),
			Side:       domain.SideBuy,
		}
		buySig, err := te.buyer.SignOrder(buy)
		require.NoError(t, err)
		sell := buy
		sell.Trader = te.seller.Address()
		sell.Side = domain.SideSell
		sellSig, err := te.seller.SignOrder(sell)
		require.NoError(t, err)

		res, err := te.eng.SettleMatched(matcherAddr,
			domain.SignedOrder{Order: buy, Signature: buySig},
			domain.SignedOrder{Order: sell, Signature: sellSig},
			big.NewInt(1000),
		)
		require.NoError(t, err)

		require.NoError(t, te.markets.Close(ownerAddr, q))
		root := resolver.BuildRoot([]common.Hash{domain.OutcomeLeaf(res.ConditionID, 0)})
		require.NoError(t, te.res.SetRoot(authorityAddr, res.ConditionID, root))

		reqs = append(reqs, domain.ClaimRequest{QuestionID: q, Epoch: 1, Outcome: 0})
	}

	availBefore := te.vault.AvailableBalance(te.buyer.Address())
	result, err := te.eng.BatchClaim(te.buyer.Address(), reqs)
	require.NoError(t, err)

	// 3 x 1000 at a 4% claim fee.
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, "2880", result.TotalNet.String())
	require.Equal(t, "120", result.TotalFee.String())
	require.Equal(t, new(big.Int).Add(availBefore, big.NewInt(2880)), te.vault.AvailableBalance(te.buyer.Address()))
}

func TestBatchClaimSkipsInvalidEntries(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)
	te.resolveWinner(0)

	valid := domain.ClaimRequest{QuestionID: questionA, Epoch: 1, Outcome: 0}
	reqs := []domain.ClaimRequest{
		valid,
		valid, // duplicate token within the batch
		{QuestionID: questionA, Epoch: 1, Outcome: 1}, // losing outcome
		{QuestionID: questionA, Epoch: 0, Outcome: 0}, // bad epoch
	}

	result, err := te.eng.BatchClaim(te.buyer.Address(), reqs)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 3, result.Skipped)
	require.Equal(t, "960", result.TotalNet.String())
}

func TestBatchClaimSkipsPoolShortEntries(t *testing.T) {
	te := newTestEnv(t)

	// Four-outcome market whose root commits outcomes 0 and 1, both held
	// by the seller. The pool holds only 1000, so the batch pays the first
	// entry and skips the second instead of burning it unpaid.
	q := common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
	require.NoError(t, te.markets.Create(ownerAddr, market.Config{
		QuestionID:   q,
		OutcomeCount: 4,
		CloseAt:      te.now.Add(24 * time.Hour),
	}))

	buy := domain.Order{
		Trader:     te.buyer.Address(),
		QuestionID: q,
		Outcome:    3,
		Amount:     big.NewInt(1000),
		Price:      2500,
		Nonce:      12,
		Side:       domain.SideBuy,
	}
	buySig, err := te.buyer.SignOrder(buy)
	require.NoError(t, err)
	sell := buy
	sell.Trader = te.seller.Address()
	sell.Side = domain.SideSell
	sellSig, err := te.seller.SignOrder(sell)
	require.NoError(t, err)

	res, err := te.eng.SettleMatched(matcherAddr,
		domain.SignedOrder{Order: buy, Signature: buySig},
		domain.SignedOrder{Order: sell, Signature: sellSig},
		big.NewInt(1000),
	)
	require.NoError(t, err)
	condID := res.ConditionID

	require.NoError(t, te.markets.Close(ownerAddr, q))
	leaves := []common.Hash{
		domain.OutcomeLeaf(condID, 0),
		domain.OutcomeLeaf(condID, 1),
	}
	require.NoError(t, te.res.SetRoot(authorityAddr, condID, resolver.BuildRoot(leaves)))

	result, err := te.eng.BatchClaim(te.seller.Address(), []domain.ClaimRequest{
		{QuestionID: q, Epoch: 1, Outcome: 0, Proof: resolver.BuildProof(leaves, 0)},
		{QuestionID: q, Epoch: 1, Outcome: 1, Proof: resolver.BuildProof(leaves, 1)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, "960", result.TotalNet.String())

	// The skipped position survives for a truthful pool.
	require.Equal(t, "0", te.vault.TotalLocked(condID).String())
	require.Equal(t, "1000", te.pos.BalanceOf(te.seller.Address(), domain.TokenID(condID, 1)).String())
}

func TestBatchClaimAllInvalidFails(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)

	_, err := te.eng.BatchClaim(te.buyer.Address(), []domain.ClaimRequest{
		{QuestionID: questionA, Epoch: 1, Outcome: 0}, // unresolved
		{QuestionID: questionA, Epoch: 0, Outcome: 0},
	})
	require.ErrorIs(t, err, domain.ErrNoValidClaims)
}

func TestBatchClaimSizeLimit(t *testing.T) {
	te := newTestEnv(t)

	reqs := make([]domain.ClaimRequest, domain.MaxBatchClaims+1)
	for i := range reqs {
		reqs[i] = domain.ClaimRequest{QuestionID: questionA, Epoch: 1, Outcome: 0}
	}
	_, err := te.eng.BatchClaim(te.buyer.Address(), reqs)
	require.ErrorIs(t, err, domain.ErrBatchTooLarge)

	_, err = te.eng.BatchClaim(te.buyer.Address(), nil)
	require.ErrorIs(t, err, domain.ErrNoValidClaims)
}

// --------------------------------------------------------------------------
// Emergency resolution
// --------------------------------------------------------------------------

func TestEmergencyResolve(t *testing.T) {
	te := newTestEnv(t)
	te.mintSettle(1)

	root := resolver.BuildRoot([]common.Hash{domain.OutcomeLeaf(te.condID(), 0)})

	// The market is still trading.
	err := te.eng.EmergencyResolve(ownerAddr, questionA, 1, 2, root)
	require.ErrorIs(t, err, domain.ErrMarketNotReady)

	require.NoError(t, te.markets.Close(ownerAddr, questionA))

	err = te.eng.EmergencyResolve(te.buyer.Address(), questionA, 1, 2, root)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = te.eng.EmergencyResolve(ownerAddr, questionA, 1, 3, root)
	require.ErrorIs(t, err, domain.ErrOutcomeCountMismatch)

	err = te.eng.EmergencyResolve(ownerAddr, questionA, 2, 2, root)
	require.ErrorIs(t, err, domain.ErrInvalidEpoch)

	require.NoError(t, te.eng.EmergencyResolve(ownerAddr, questionA, 1, 2, root))

	// Claims work against the emergency root.
	receipt, err := te.eng.Claim(te.buyer.Address(), domain.ClaimRequest{QuestionID: questionA, Epoch: 1, Outcome: 0})
	require.NoError(t, err)
	require.Equal(t, "960", receipt.Net.String())

	// The root is write-once, emergency or not.
	err = te.eng.EmergencyResolve(ownerAddr, questionA, 1, 2, root)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

// --------------------------------------------------------------------------
// Fee configuration
// --------------------------------------------------------------------------

func TestFeeOverridesAndFallback(t *testing.T) {
	te := newTestEnv(t)
	user := te.buyer.Address()

	require.Equal(t, int64(100), te.eng.TradeFeeBps(user))

	require.NoError(t, te.eng.SetTradeFeeOverride(ownerAddr, user, 50))
	require.Equal(t, int64(50), te.eng.TradeFeeBps(user))

	// Zero clears the override back to the default rather than granting a
	// free ride.
	require.NoError(t, te.eng.SetTradeFeeOverride(ownerAddr, user, 0))
	require.Equal(t, int64(100), te.eng.TradeFeeBps(user))

	require.NoError(t, te.eng.SetDefaultClaimFee(ownerAddr, 200))
	require.Equal(t, int64(200), te.eng.ClaimFeeBps(user))

	err := te.eng.SetDefaultTradeFee(ownerAddr, domain.MaxFeeBps+1)
	require.ErrorIs(t, err, domain.ErrFeeTooHigh)

	err = te.eng.SetDefaultTradeFee(te.seller.Address(), 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
