// Package positions implements the outcome-token ledger: a multi-asset
// balance map keyed by (holder, token id) with batch mint and burn. Token
// ids are derived from (condition, outcome) by domain.TokenID.
//
// Mint and burn are privileged to the registered clearing engine; holders
// never move tokens directly. Settlement deliberately burns from one party
// and mints to the other instead of transferring, so balances never pass
// through an intermediate custodial holder.
package positions

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Ledger tracks outcome-token balances.
type Ledger struct {
	mu       sync.RWMutex
	owner    common.Address
	engine   common.Address
	balances map[common.Address]map[common.Hash]*big.Int
}

// New creates an empty Ledger administered by owner.
func New(owner common.Address) *Ledger {
	return &Ledger{
		owner:    owner,
		balances: make(map[common.Address]map[common.Hash]*big.Int),
	}
}

// SetEngine registers the clearing engine identity. Owner only.
func (l *Ledger) SetEngine(caller, engine common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("positions: set engine: %w", domain.ErrUnauthorized)
	}
	l.engine = engine
	return nil
}

// MintBatch credits amounts of the given token ids to a single holder.
// Engine only.
func (l *Ledger) MintBatch(caller, to common.Address, ids []common.Hash, amounts []*big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.engine {
		return fmt.Errorf("positions: mint batch: %w", domain.ErrUnauthorized)
	}
	if len(ids) != len(amounts) {
		return fmt.Errorf("positions: mint batch: %w", domain.ErrLengthMismatch)
	}
	for _, a := range amounts {
		if a == nil || a.Sign() < 0 {
			return fmt.Errorf("positions: mint batch: %w", domain.ErrInvalidOrder)
		}
	}

	for i, id := range ids {
		if amounts[i].Sign() == 0 {
			continue
		}
		l.credit(to, id, amounts[i])
	}
	return nil
}

// Burn debits amount of one token from a holder. Engine only.
func (l *Ledger) Burn(caller, from common.Address, id common.Hash, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burnLocked(caller, from, id, amount)
}

// BurnBatch debits several (holder, token) pairs atomically. Engine only.
// Balances are pre-checked so a failure leaves the ledger untouched.
func (l *Ledger) BurnBatch(caller common.Address, from []common.Address, ids []common.Hash, amounts []*big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.engine {
		return fmt.Errorf("positions: burn batch: %w", domain.ErrUnauthorized)
	}
	if len(from) != len(ids) || len(ids) != len(amounts) {
		return fmt.Errorf("positions: burn batch: %w", domain.ErrLengthMismatch)
	}

	type key struct {
		holder common.Address
		id     common.Hash
	}
	need := make(map[key]*big.Int)
	for i := range ids {
		if amounts[i] == nil || amounts[i].Sign() < 0 {
			return fmt.Errorf("positions: burn batch: %w", domain.ErrInvalidOrder)
		}
		k := key{from[i], ids[i]}
		if _, ok := need[k]; !ok {
			need[k] = new(big.Int)
		}
		need[k].Add(need[k], amounts[i])
	}
	for k, total := range need {
		if l.balanceOf(k.holder, k.id).Cmp(total) < 0 {
			return fmt.Errorf("positions: burn batch: holder %s: %w", k.holder.Hex(), domain.ErrInsufficientInventory)
		}
	}

	for i := range ids {
		if err := l.burnLocked(caller, from[i], ids[i], amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// BalanceOf returns a copy of the holder's balance of one token.
func (l *Ledger) BalanceOf(holder common.Address, id common.Hash) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceOf(holder, id))
}

// --- internal, caller holds l.mu ---

func (l *Ledger) burnLocked(caller, from common.Address, id common.Hash, amount *big.Int) error {
	if caller != l.engine {
		return fmt.Errorf("positions: burn: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("positions: burn: %w", domain.ErrInvalidOrder)
	}
	if amount.Sign() == 0 {
		return nil
	}

	b := l.balanceOf(from, id)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("positions: burn: %w", domain.ErrInsufficientInventory)
	}
	b.Sub(b, amount)
	return nil
}

func (l *Ledger) balanceOf(holder common.Address, id common.Hash) *big.Int {
	if tokens, ok := l.balances[holder]; ok {
		if b, ok := tokens[id]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (l *Ledger) credit(to common.Address, id common.Hash, amount *big.Int) {
	tokens, ok := l.balances[to]
	if !ok {
		tokens = make(map[common.Hash]*big.Int)
		l.balances[to] = tokens
	}
	b, ok := tokens[id]
	if !ok {
		b = new(big.Int)
		tokens[id] = b
	}
	b.Add(b, amount)
}
