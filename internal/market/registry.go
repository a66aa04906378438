// Package market implements the market-metadata registry: outcome counts,
// open/closed predicates, and the per-market epoch clock. Epochs advance
// either manually (owner call) or automatically on a fixed schedule; the
// current epoch is computed lazily from wall-clock time on every read, so
// there is no background ticker to drift.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Config describes a market at creation time.
type Config struct {
	QuestionID   common.Hash
	OutcomeCount uint8
	// CloseAt is the time after which the market stops trading and becomes
	// ready for resolution. Zero means the market stays open until closed
	// manually.
	CloseAt time.Time
	// EpochDuration enables time-based epoch rolling when positive. Zero
	// means epochs only advance manually.
	EpochDuration time.Duration
}

type state struct {
	cfg        Config
	open       bool
	baseEpoch  uint64    // epoch as of epochStart
	epochStart time.Time // when baseEpoch began
}

// Registry holds all known markets.
type Registry struct {
	mu      sync.RWMutex
	owner   common.Address
	markets map[common.Hash]*state
	now     func() time.Time
}

// NewRegistry creates an empty Registry administered by owner.
func NewRegistry(owner common.Address) *Registry {
	return &Registry{
		owner:   owner,
		markets: make(map[common.Hash]*state),
		now:     time.Now,
	}
}

// WithClock overrides the registry's time source. Tests only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create registers a new market starting at epoch 1. Owner only.
func (r *Registry) Create(caller common.Address, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return fmt.Errorf("market: create: %w", domain.ErrUnauthorized)
	}
	if cfg.OutcomeCount < 2 {
		return fmt.Errorf("market: create: outcome count must be at least 2: %w", domain.ErrInvalidOrder)
	}
	if _, ok := r.markets[cfg.QuestionID]; ok {
		return fmt.Errorf("market: create %s: already exists", cfg.QuestionID.Hex())
	}

	r.markets[cfg.QuestionID] = &state{
		cfg:        cfg,
		open:       true,
		baseEpoch:  1,
		epochStart: r.now(),
	}
	return nil
}

// Close marks a market closed. Owner only.
func (r *Registry) Close(caller common.Address, questionID common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return fmt.Errorf("market: close: %w", domain.ErrUnauthorized)
	}
	m, ok := r.markets[questionID]
	if !ok {
		return fmt.Errorf("market: close: %w", domain.ErrUnknownMarket)
	}
	m.open = false
	return nil
}

// AdvanceEpoch manually rolls a market to its next epoch. Owner only. The
// epoch clock restarts from now, so a subsequent timed advance measures from
// this call.
func (r *Registry) AdvanceEpoch(caller common.Address, questionID common.Hash) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return 0, fmt.Errorf("market: advance epoch: %w", domain.ErrUnauthorized)
	}
	m, ok := r.markets[questionID]
	if !ok {
		return 0, fmt.Errorf("market: advance epoch: %w", domain.ErrUnknownMarket)
	}

	m.baseEpoch = r.epochAt(m, r.now()) + 1
	m.epochStart = r.now()
	return m.baseEpoch, nil
}

// IsOpen reports whether a market currently accepts settlements.
func (r *Registry) IsOpen(questionID common.Hash) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[questionID]
	if !ok {
		return false, fmt.Errorf("market: is open: %w", domain.ErrUnknownMarket)
	}
	if !m.open {
		return false, nil
	}
	if !m.cfg.CloseAt.IsZero() && !r.now().Before(m.cfg.CloseAt) {
		return false, nil
	}
	return true, nil
}

// IsReadyForResolution reports whether a market may be resolved: closed,
// either manually or by passing its scheduled close time.
func (r *Registry) IsReadyForResolution(questionID common.Hash) (bool, error) {
	open, err := r.IsOpen(questionID)
	if err != nil {
		return false, fmt.Errorf("market: is ready for resolution: %w", err)
	}
	return !open, nil
}

// OutcomeCount returns the market's recorded number of outcomes.
func (r *Registry) OutcomeCount(questionID common.Hash) (uint8, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[questionID]
	if !ok {
		return 0, fmt.Errorf("market: outcome count: %w", domain.ErrUnknownMarket)
	}
	return m.cfg.OutcomeCount, nil
}

// CurrentEpoch returns the market's epoch as of now, accounting for
// time-based rolling.
func (r *Registry) CurrentEpoch(questionID common.Hash) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[questionID]
	if !ok {
		return 0, fmt.Errorf("market: current epoch: %w", domain.ErrUnknownMarket)
	}
	return r.epochAt(m, r.now()), nil
}

// ConditionID derives the settlement-scope identifier for a market at the
// given epoch, reading the outcome count from the registry. Epoch 0 means
// the market's current epoch.
func (r *Registry) ConditionID(authority common.Address, questionID common.Hash, epoch uint64) (common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[questionID]
	if !ok {
		return common.Hash{}, fmt.Errorf("market: condition id: %w", domain.ErrUnknownMarket)
	}
	if epoch == 0 {
		epoch = r.epochAt(m, r.now())
	}
	return domain.Condition{
		Authority:    authority,
		QuestionID:   questionID,
		OutcomeCount: m.cfg.OutcomeCount,
		Epoch:        epoch,
	}.ID(), nil
}

// Snapshot returns the persistable view of one market.
func (r *Registry) Snapshot(questionID common.Hash) (domain.MarketSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[questionID]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("market: snapshot: %w", domain.ErrUnknownMarket)
	}

	snap := domain.MarketSnapshot{
		QuestionID:   questionID,
		OutcomeCount: m.cfg.OutcomeCount,
		Open:         m.open && (m.cfg.CloseAt.IsZero() || r.now().Before(m.cfg.CloseAt)),
		Epoch:        r.epochAt(m, r.now()),
		UpdatedAt:    r.now(),
	}
	if !m.cfg.CloseAt.IsZero() {
		closeAt := m.cfg.CloseAt
		snap.CloseAt = &closeAt
	}
	return snap, nil
}

// epochAt computes the epoch at time t given the base epoch and the optional
// duration-based clock.
func (r *Registry) epochAt(m *state, t time.Time) uint64 {
	if m.cfg.EpochDuration <= 0 {
		return m.baseEpoch
	}
	elapsed := t.Sub(m.epochStart)
	if elapsed <= 0 {
		return m.baseEpoch
	}
	return m.baseEpoch + uint64(elapsed/m.cfg.EpochDuration)
}
