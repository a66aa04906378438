// Package resolver stores one merkle root per condition and verifies
// winning-outcome proofs against it. Roots are write-once: a condition is
// either unresolved or resolved forever.
//
// Trees use sorted-pair keccak256 hashing, so proofs carry no direction
// bits. Leaves are domain.OutcomeLeaf values.
package resolver

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// MerkleResolver is the resolution oracle. SetRoot is restricted to the
// resolution authority and to the clearing engine (the emergency path).
type MerkleResolver struct {
	mu        sync.RWMutex
	authority common.Address
	engine    common.Address
	roots     map[common.Hash]common.Hash
}

// New creates a resolver whose roots may be set by authority.
func New(authority common.Address) *MerkleResolver {
	return &MerkleResolver{
		authority: authority,
		roots:     make(map[common.Hash]common.Hash),
	}
}

// SetEngine additionally authorizes the clearing engine to set roots, which
// the engine uses for emergency resolution. Authority only.
func (m *MerkleResolver) SetEngine(caller, engine common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.authority {
		return fmt.Errorf("resolver: set engine: %w", domain.ErrUnauthorized)
	}
	m.engine = engine
	return nil
}

// SetRoot records the resolution root for a condition. It may be called
// exactly once per condition.
func (m *MerkleResolver) SetRoot(caller common.Address, condition, root common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.authority && caller != m.engine {
		return fmt.Errorf("resolver: set root: %w", domain.ErrUnauthorized)
	}
	if _, ok := m.roots[condition]; ok {
		return fmt.Errorf("resolver: set root %s: %w", condition.Hex(), domain.ErrAlreadyResolved)
	}
	if root == (common.Hash{}) {
		return fmt.Errorf("resolver: set root: empty root: %w", domain.ErrInvalidOrder)
	}
	m.roots[condition] = root
	return nil
}

// Status reports whether the condition has been resolved.
func (m *MerkleResolver) Status(condition common.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roots[condition]
	return ok
}

// VerifyProof checks that outcome is a committed winning outcome of the
// condition. Returns false for unresolved conditions.
func (m *MerkleResolver) VerifyProof(condition common.Hash, outcome uint8, proof []common.Hash) bool {
	m.mu.RLock()
	root, ok := m.roots[condition]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	leaf := domain.OutcomeLeaf(condition, outcome)
	return ProcessProof(leaf, proof) == root
}

// ProcessProof folds a sorted-pair merkle proof over a leaf and returns the
// reconstructed root.
func ProcessProof(leaf common.Hash, proof []common.Hash) common.Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed
}

// BuildRoot constructs the root over a set of leaves, duplicating the last
// node of odd levels. Used by the resolution authority and by tests.
func BuildRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// BuildProof returns the sibling path for leaves[index] in the tree built by
// BuildRoot.
func BuildProof(leaves []common.Hash, index int) []common.Hash {
	if index < 0 || index >= len(leaves) {
		return nil
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	var proof []common.Hash
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		sibling := index ^ 1
		proof = append(proof, level[sibling])

		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return proof
}

// hashPair hashes two nodes in sorted order.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(ethcrypto.Keccak256(a.Bytes(), b.Bytes()))
}
