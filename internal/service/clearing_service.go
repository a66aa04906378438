// Package service wraps the clearing engine with the operational concerns
// the engine itself stays free of: a cross-replica settlement lock,
// persistence of fills, claims and fill state, audit logging, event fan-out,
// and metrics. All clearing invariants live in the engine; this layer never
// re-validates, it only records what the engine decided.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/engine"
	"github.com/alanyoungcy/clearinghouse/internal/metrics"
)

// Bus channels for settlement and claim events.
const (
	ChannelFills  = "clearing:fills"
	ChannelClaims = "clearing:claims"
)

// settleLockKey serializes settlement across replicas; engine state is
// process-local, so only one writer may exist at a time.
const (
	settleLockKey = "settle"
	settleLockTTL = 10 * time.Second
)

// ClearingService orchestrates engine calls with storage and messaging.
type ClearingService struct {
	engine *engine.Engine

	fills      domain.FillStore
	claims     domain.ClaimStore
	orderState domain.OrderStateStore
	audit      domain.AuditStore
	locks      domain.LockManager
	bus        domain.SignalBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Deps bundles the collaborators a ClearingService is constructed with. Bus
// and Metrics are optional; the rest are required.
type Deps struct {
	Engine     *engine.Engine
	Fills      domain.FillStore
	Claims     domain.ClaimStore
	OrderState domain.OrderStateStore
	Audit      domain.AuditStore
	Locks      domain.LockManager
	Bus        domain.SignalBus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// New creates a ClearingService.
func New(d Deps) *ClearingService {
	return &ClearingService{
		engine:     d.Engine,
		fills:      d.Fills,
		claims:     d.Claims,
		orderState: d.OrderState,
		audit:      d.Audit,
		locks:      d.Locks,
		bus:        d.Bus,
		metrics:    d.Metrics,
		logger:     d.Logger.With(slog.String("component", "clearing_service")),
	}
}

// Restore loads persisted fill state into the engine. Call once at startup
// before the API starts accepting settlements.
func (s *ClearingService) Restore(ctx context.Context) error {
	state, err := s.orderState.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: restore fill state: %w", err)
	}
	s.engine.SeedFills(state)
	s.logger.Info("service: fill state restored", slog.Int("orders", len(state)))
	return nil
}

// SettleMatched settles a matched order pair under the settlement lock and
// persists the outcome.
func (s *ClearingService) SettleMatched(ctx context.Context, matcher common.Address, buy, sell domain.SignedOrder, fillAmount *big.Int) (*domain.MatchResult, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: settle matched: %w", err)
	}
	defer unlock()

	start := time.Now()
	result, err := s.engine.SettleMatched(matcher, buy, sell, fillAmount)
	if err != nil {
		s.rejectMetric(err)
		return nil, err
	}

	s.recordSettlement(ctx, result, start)
	return result, nil
}

// SettleInventory settles one order against a standing-inventory counterparty
// under the settlement lock and persists the outcome.
func (s *ClearingService) SettleInventory(ctx context.Context, matcher common.Address, so domain.SignedOrder, counterparty common.Address, fillAmount *big.Int) (*domain.MatchResult, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: settle inventory: %w", err)
	}
	defer unlock()

	start := time.Now()
	result, err := s.engine.SettleInventory(matcher, so, counterparty, fillAmount)
	if err != nil {
		s.rejectMetric(err)
		return nil, err
	}

	s.recordSettlement(ctx, result, start)
	return result, nil
}

// recordSettlement persists fills and fill-state, logs the audit row,
// publishes the bus event, and records metrics. Persistence failures are
// logged but do not undo the settlement: the engine is the source of truth
// and its state has already advanced.
func (s *ClearingService) recordSettlement(ctx context.Context, result *domain.MatchResult, start time.Time) {
	if err := s.fills.InsertBatch(ctx, result.Fills); err != nil {
		s.logger.Error("service: persist fills", slog.String("error", err.Error()))
	}
	for _, f := range result.Fills {
		if err := s.orderState.UpsertFilled(ctx, f.OrderHash, s.engine.Filled(f.OrderHash)); err != nil {
			s.logger.Error("service: persist fill state",
				slog.String("order_hash", f.OrderHash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.audit.Log(ctx, "settlement", map[string]any{
		"mode":      string(result.Mode),
		"condition": result.ConditionID.Hex(),
		"epoch":     result.Epoch,
		"fills":     len(result.Fills),
	}); err != nil {
		s.logger.Error("service: audit settlement", slog.String("error", err.Error()))
	}

	s.publish(ctx, ChannelFills, result)
	if s.metrics != nil {
		s.metrics.SettlementExecuted(string(result.Mode), time.Since(start))
	}
}

// Cancel cancels an order on behalf of its trader and persists the forced
// fill state.
func (s *ClearingService) Cancel(ctx context.Context, caller common.Address, o domain.Order) error {
	unlock, err := s.locks.Acquire(ctx, settleLockKey, settleLockTTL)
	if err != nil {
		return fmt.Errorf("service: cancel: %w", err)
	}
	defer unlock()

	if err := s.engine.Cancel(caller, o); err != nil {
		return err
	}

	hash := s.engine.HashOrder(o)
	if err := s.orderState.UpsertFilled(ctx, hash, s.engine.Filled(hash)); err != nil {
		s.logger.Error("service: persist cancel state", slog.String("error", err.Error()))
	}
	if err := s.audit.Log(ctx, "order.cancelled", map[string]any{
		"order_hash": hash.Hex(),
		"trader":     o.Trader.Hex(),
	}); err != nil {
		s.logger.Error("service: audit cancel", slog.String("error", err.Error()))
	}
	if s.metrics != nil {
		s.metrics.OrderCancelled()
	}
	return nil
}

// Claim redeems a single winning position and persists the receipt.
func (s *ClearingService) Claim(ctx context.Context, caller common.Address, req domain.ClaimRequest) (*domain.ClaimReceipt, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: claim: %w", err)
	}
	defer unlock()

	receipt, err := s.engine.Claim(caller, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ClaimRejected(rejectReason(err))
		}
		return nil, err
	}

	s.recordClaims(ctx, []domain.ClaimReceipt{*receipt}, 0)
	return receipt, nil
}

// BatchClaim redeems up to the batch limit of winning positions and persists
// the receipts.
func (s *ClearingService) BatchClaim(ctx context.Context, caller common.Address, reqs []domain.ClaimRequest) (*domain.BatchClaimResult, error) {
	unlock, err := s.locks.Acquire(ctx, settleLockKey, settleLockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: batch claim: %w", err)
	}
	defer unlock()

	result, err := s.engine.BatchClaim(caller, reqs)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ClaimRejected(rejectReason(err))
		}
		return nil, err
	}

	s.recordClaims(ctx, result.Receipts, result.Skipped)
	return result, nil
}

func (s *ClearingService) recordClaims(ctx context.Context, receipts []domain.ClaimReceipt, skipped int) {
	if err := s.claims.InsertBatch(ctx, receipts); err != nil {
		s.logger.Error("service: persist claims", slog.String("error", err.Error()))
	}
	if err := s.audit.Log(ctx, "claims", map[string]any{
		"processed": len(receipts),
		"skipped":   skipped,
	}); err != nil {
		s.logger.Error("service: audit claims", slog.String("error", err.Error()))
	}

	s.publish(ctx, ChannelClaims, receipts)
	if s.metrics != nil {
		s.metrics.ClaimsPaid(len(receipts))
		s.metrics.ClaimsSkipped(skipped)
	}
}

// EmergencyResolve posts an owner resolution root through the engine and
// audits the action.
func (s *ClearingService) EmergencyResolve(ctx context.Context, caller common.Address, questionID common.Hash, epoch uint64, outcomeCount uint8, root common.Hash) error {
	if err := s.engine.EmergencyResolve(caller, questionID, epoch, outcomeCount, root); err != nil {
		return err
	}
	if err := s.audit.Log(ctx, "resolution.emergency", map[string]any{
		"question": questionID.Hex(),
		"epoch":    epoch,
		"root":     root.Hex(),
		"caller":   caller.Hex(),
	}); err != nil {
		s.logger.Error("service: audit emergency resolve", slog.String("error", err.Error()))
	}
	return nil
}

// Engine exposes the underlying engine for read-only queries (hashes, fees,
// pause flags) and admin calls that need no persistence wrapper.
func (s *ClearingService) Engine() *engine.Engine {
	return s.engine
}

// publish sends a JSON-encoded event; bus failures are logged, never fatal.
func (s *ClearingService) publish(ctx context.Context, channel string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("service: encode event", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.Warn("service: publish event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ClearingService) rejectMetric(err error) {
	if s.metrics != nil {
		s.metrics.SettlementRejected(rejectReason(err))
	}
}

// rejectReason maps an error chain to a low-cardinality metric label.
func rejectReason(err error) string {
	for _, c := range []struct {
		target error
		label  string
	}{
		{domain.ErrBadSignature, "bad_signature"},
		{domain.ErrOrderExpired, "expired"},
		{domain.ErrAlreadyFilled, "already_filled"},
		{domain.ErrInsufficientRoom, "overfill"},
		{domain.ErrInsufficientBalance, "insufficient_balance"},
		{domain.ErrInsufficientInventory, "insufficient_inventory"},
		{domain.ErrInsufficientPool, "insufficient_pool"},
		{domain.ErrTradingPaused, "paused"},
		{domain.ErrMarketClosed, "market_closed"},
		{domain.ErrUnknownMarket, "unknown_market"},
		{domain.ErrPriceNotCrossed, "not_crossed"},
		{domain.ErrZeroPayment, "zero_payment"},
		{domain.ErrUnauthorized, "unauthorized"},
		{domain.ErrNotResolved, "not_resolved"},
		{domain.ErrInvalidProof, "invalid_proof"},
		{domain.ErrZeroBalance, "zero_balance"},
		{domain.ErrInvalidEpoch, "invalid_epoch"},
		{domain.ErrNoValidClaims, "no_valid_claims"},
		{domain.ErrBatchTooLarge, "batch_too_large"},
		{domain.ErrLockHeld, "lock_held"},
	} {
		if errors.Is(err, c.target) {
			return c.label
		}
	}
	return "invalid"
}
