package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Access is the engine's authorization registry: the owning authority, the
// matcher allowlist, the pre-authorized inventory holders, and the fee
// treasury. It is injected at construction and queried per call; there is no
// ambient global state.
type Access struct {
	owner     common.Address
	treasury  common.Address
	matchers  map[common.Address]bool
	inventory map[common.Address]bool
}

// NewAccess creates an Access registry with the given owner and no treasury.
// A zero treasury disables fee collection entirely.
func NewAccess(owner common.Address) *Access {
	return &Access{
		owner:     owner,
		matchers:  make(map[common.Address]bool),
		inventory: make(map[common.Address]bool),
	}
}

// Owner returns the owning authority.
func (a *Access) Owner() common.Address { return a.owner }

// Treasury returns the fee recipient; zero means fees are disabled.
func (a *Access) Treasury() common.Address { return a.treasury }

// HasTreasury reports whether a fee recipient is configured.
func (a *Access) HasTreasury() bool { return a.treasury != (common.Address{}) }

// IsMatcher reports whether addr may submit settlement calls.
func (a *Access) IsMatcher(addr common.Address) bool { return a.matchers[addr] }

// IsInventoryHolder reports whether addr may act as the standing counterparty
// in inventory settlements.
func (a *Access) IsInventoryHolder(addr common.Address) bool { return a.inventory[addr] }

// Matchers returns the current matcher allowlist.
func (a *Access) Matchers() []common.Address {
	out := make([]common.Address, 0, len(a.matchers))
	for m := range a.matchers {
		out = append(out, m)
	}
	return out
}

// requireOwner rejects callers other than the owner.
func (a *Access) requireOwner(caller common.Address) error {
	if caller != a.owner {
		return fmt.Errorf("engine: caller %s is not owner: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

func (a *Access) setTreasury(t common.Address)           { a.treasury = t }
func (a *Access) addMatcher(m common.Address)            { a.matchers[m] = true }
func (a *Access) removeMatcher(m common.Address)         { delete(a.matchers, m) }
func (a *Access) addInventoryHolder(h common.Address)    { a.inventory[h] = true }
func (a *Access) removeInventoryHolder(h common.Address) { delete(a.inventory, h) }
