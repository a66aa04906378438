package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/market"
)

// MarketService pairs the in-process market registry with its persisted
// snapshot store. Every registry mutation is mirrored to Postgres so reads
// survive a restart and list queries never touch registry locks.
type MarketService struct {
	registry *market.Registry
	store    domain.MarketStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(registry *market.Registry, store domain.MarketStore, audit domain.AuditStore, logger *slog.Logger) *MarketService {
	return &MarketService{
		registry: registry,
		store:    store,
		audit:    audit,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Create registers a new market and persists its first snapshot.
func (s *MarketService) Create(ctx context.Context, caller common.Address, cfg market.Config) error {
	if err := s.registry.Create(caller, cfg); err != nil {
		return err
	}
	s.persist(ctx, cfg.QuestionID)

	if err := s.audit.Log(ctx, "market.created", map[string]any{
		"question_id":   cfg.QuestionID.Hex(),
		"outcome_count": cfg.OutcomeCount,
	}); err != nil {
		s.logger.Error("service: audit market create", slog.String("error", err.Error()))
	}
	return nil
}

// Close permanently stops trading on a market.
func (s *MarketService) Close(ctx context.Context, caller common.Address, questionID common.Hash) error {
	if err := s.registry.Close(caller, questionID); err != nil {
		return err
	}
	s.persist(ctx, questionID)

	if err := s.audit.Log(ctx, "market.closed", map[string]any{
		"question_id": questionID.Hex(),
	}); err != nil {
		s.logger.Error("service: audit market close", slog.String("error", err.Error()))
	}
	return nil
}

// AdvanceEpoch manually rolls a market to its next epoch and returns the new
// epoch number.
func (s *MarketService) AdvanceEpoch(ctx context.Context, caller common.Address, questionID common.Hash) (uint64, error) {
	epoch, err := s.registry.AdvanceEpoch(caller, questionID)
	if err != nil {
		return 0, err
	}
	s.persist(ctx, questionID)

	if err := s.audit.Log(ctx, "market.epoch_advanced", map[string]any{
		"question_id": questionID.Hex(),
		"epoch":       epoch,
	}); err != nil {
		s.logger.Error("service: audit epoch advance", slog.String("error", err.Error()))
	}
	return epoch, nil
}

// Get returns the live registry view of one market.
func (s *MarketService) Get(questionID common.Hash) (domain.MarketSnapshot, error) {
	return s.registry.Snapshot(questionID)
}

// List returns persisted market snapshots.
func (s *MarketService) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	snaps, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return snaps, nil
}

// persist mirrors the registry state for one market into the snapshot store.
// Store failures are logged, not returned; the registry remains the source of
// truth and the snapshot converges on the next mutation.
func (s *MarketService) persist(ctx context.Context, questionID common.Hash) {
	snap, err := s.registry.Snapshot(questionID)
	if err != nil {
		s.logger.Error("service: snapshot market", slog.String("error", err.Error()))
		return
	}
	if err := s.store.Upsert(ctx, snap); err != nil {
		s.logger.Error("service: persist market snapshot",
			slog.String("question_id", questionID.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
