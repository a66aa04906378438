// Package vault implements the collateral ledger: per-user available
// balances and per-condition locked pools over a single fungible asset.
//
// Deposit and Withdraw are user-facing. Every other mutation is privileged:
// only the registered clearing engine may lock, unlock, or transfer value,
// and the check happens here at the ledger boundary, not only in the engine.
package vault

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Vault is the collateral ledger. The locked pool is a condition-level
// aggregate, not per-user: payouts are authorized by the engine naming an
// amount and a recipient.
type Vault struct {
	mu        sync.RWMutex
	owner     common.Address
	engine    common.Address
	available map[common.Address]*big.Int
	locked    map[common.Hash]*big.Int
	logger    *slog.Logger
}

// New creates an empty Vault administered by owner. The engine identity must
// be registered with SetEngine before any privileged call succeeds.
func New(owner common.Address, logger *slog.Logger) *Vault {
	return &Vault{
		owner:     owner,
		available: make(map[common.Address]*big.Int),
		locked:    make(map[common.Hash]*big.Int),
		logger:    logger.With(slog.String("component", "vault")),
	}
}

// SetEngine registers the clearing engine identity. Owner only.
func (v *Vault) SetEngine(caller, engine common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return fmt.Errorf("vault: set engine: %w", domain.ErrUnauthorized)
	}
	v.engine = engine
	return nil
}

// Deposit credits amount to user's available balance.
func (v *Vault) Deposit(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: deposit: %w", domain.ErrInvalidOrder)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.credit(user, amount)
	v.logger.Debug("vault: deposit",
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Withdraw debits amount from user's available balance.
func (v *Vault) Withdraw(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: withdraw: %w", domain.ErrInvalidOrder)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.debit(user, amount); err != nil {
		return fmt.Errorf("vault: withdraw: %w", err)
	}
	v.logger.Debug("vault: withdraw",
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Lock moves amount from user's available balance into the condition's
// locked pool. Engine only.
func (v *Vault) Lock(caller common.Address, condition common.Hash, user common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockLocked(caller, condition, user, amount)
}

// Unlock moves amount from the condition's locked pool to recipient's
// available balance. Engine only.
func (v *Vault) Unlock(caller common.Address, condition common.Hash, recipient common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unlockLocked(caller, condition, recipient, amount)
}

// Transfer moves amount between two users' available balances. Engine only.
func (v *Vault) Transfer(caller, from, to common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.engine {
		return fmt.Errorf("vault: transfer: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: transfer: %w", domain.ErrInvalidOrder)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := v.debit(from, amount); err != nil {
		return fmt.Errorf("vault: transfer: %w", err)
	}
	v.credit(to, amount)
	return nil
}

// LockBatch applies several locks atomically. Engine only. The slices must
// have equal length; balances are pre-checked so a failure leaves the ledger
// untouched.
func (v *Vault) LockBatch(caller common.Address, conditions []common.Hash, users []common.Address, amounts []*big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.engine {
		return fmt.Errorf("vault: lock batch: %w", domain.ErrUnauthorized)
	}
	if len(conditions) != len(users) || len(users) != len(amounts) {
		return fmt.Errorf("vault: lock batch: %w", domain.ErrLengthMismatch)
	}

	// Pre-check aggregate debits per user before mutating anything.
	need := make(map[common.Address]*big.Int)
	for i, u := range users {
		if amounts[i] == nil || amounts[i].Sign() < 0 {
			return fmt.Errorf("vault: lock batch: %w", domain.ErrInvalidOrder)
		}
		if _, ok := need[u]; !ok {
			need[u] = new(big.Int)
		}
		need[u].Add(need[u], amounts[i])
	}
	for u, total := range need {
		if v.balanceOf(u).Cmp(total) < 0 {
			return fmt.Errorf("vault: lock batch: user %s: %w", u.Hex(), domain.ErrInsufficientBalance)
		}
	}

	for i := range conditions {
		if err := v.lockLocked(caller, conditions[i], users[i], amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// UnlockBatch applies several unlocks atomically. Engine only.
func (v *Vault) UnlockBatch(caller common.Address, conditions []common.Hash, recipients []common.Address, amounts []*big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.engine {
		return fmt.Errorf("vault: unlock batch: %w", domain.ErrUnauthorized)
	}
	if len(conditions) != len(recipients) || len(recipients) != len(amounts) {
		return fmt.Errorf("vault: unlock batch: %w", domain.ErrLengthMismatch)
	}

	// Pre-check aggregate pool debits per condition.
	need := make(map[common.Hash]*big.Int)
	for i, c := range conditions {
		if amounts[i] == nil || amounts[i].Sign() < 0 {
			return fmt.Errorf("vault: unlock batch: %w", domain.ErrInvalidOrder)
		}
		if _, ok := need[c]; !ok {
			need[c] = new(big.Int)
		}
		need[c].Add(need[c], amounts[i])
	}
	for c, total := range need {
		if v.lockedOf(c).Cmp(total) < 0 {
			return fmt.Errorf("vault: unlock batch: condition %s: %w", c.Hex(), domain.ErrInsufficientBalance)
		}
	}

	for i := range conditions {
		if err := v.unlockLocked(caller, conditions[i], recipients[i], amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// AvailableBalance returns a copy of user's withdrawable balance.
func (v *Vault) AvailableBalance(user common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.balanceOf(user))
}

// TotalLocked returns a copy of the condition's locked pool total.
func (v *Vault) TotalLocked(condition common.Hash) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.lockedOf(condition))
}

// --- internal, caller holds v.mu ---

func (v *Vault) lockLocked(caller common.Address, condition common.Hash, user common.Address, amount *big.Int) error {
	if caller != v.engine {
		return fmt.Errorf("vault: lock: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: lock: %w", domain.ErrInvalidOrder)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := v.debit(user, amount); err != nil {
		return fmt.Errorf("vault: lock: %w", err)
	}

	pool, ok := v.locked[condition]
	if !ok {
		pool = new(big.Int)
		v.locked[condition] = pool
	}
	pool.Add(pool, amount)
	return nil
}

func (v *Vault) unlockLocked(caller common.Address, condition common.Hash, recipient common.Address, amount *big.Int) error {
	if caller != v.engine {
		return fmt.Errorf("vault: unlock: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: unlock: %w", domain.ErrInvalidOrder)
	}
	if amount.Sign() == 0 {
		return nil
	}

	pool := v.lockedOf(condition)
	if pool.Cmp(amount) < 0 {
		return fmt.Errorf("vault: unlock: %w", domain.ErrInsufficientBalance)
	}
	pool.Sub(pool, amount)
	v.credit(recipient, amount)
	return nil
}

func (v *Vault) balanceOf(user common.Address) *big.Int {
	if b, ok := v.available[user]; ok {
		return b
	}
	return new(big.Int)
}

func (v *Vault) lockedOf(condition common.Hash) *big.Int {
	if p, ok := v.locked[condition]; ok {
		return p
	}
	// Pools are created on first lock and only zeroed afterwards; reads of
	// unknown conditions see zero without allocating an entry.
	return new(big.Int)
}

func (v *Vault) credit(user common.Address, amount *big.Int) {
	b, ok := v.available[user]
	if !ok {
		b = new(big.Int)
		v.available[user] = b
	}
	b.Add(b, amount)
}

func (v *Vault) debit(user common.Address, amount *big.Int) error {
	b := v.balanceOf(user)
	if b.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}
