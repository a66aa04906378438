package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Condition is the unique settlement scope for a batch of outcome tokens:
// the resolution authority, the market question, the number of outcomes, and
// the epoch the tokens were minted in. The engine never stores conditions;
// they are derived on every call.
type Condition struct {
	Authority    common.Address
	QuestionID   common.Hash
	OutcomeCount uint8
	Epoch        uint64
}

// ID returns the deterministic keccak256 identifier of the condition.
func (c Condition) ID() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		common.LeftPadBytes(c.Authority.Bytes(), 32),
		c.QuestionID.Bytes(),
		uint64To32Bytes(uint64(c.OutcomeCount)),
		uint64To32Bytes(c.Epoch),
	))
}

// TokenID derives the position-ledger key for one outcome of a condition.
// The derivation is pure so anyone can pre-compute token ids off-chain.
func TokenID(conditionID common.Hash, outcome uint8) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		conditionID.Bytes(),
		uint64To32Bytes(uint64(outcome)),
	))
}

// OutcomeLeaf is the merkle leaf committed for a winning outcome. The
// resolver's root is built over these leaves with sorted-pair hashing.
func OutcomeLeaf(conditionID common.Hash, outcome uint8) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		[]byte("outcome"),
		conditionID.Bytes(),
		uint64To32Bytes(uint64(outcome)),
	))
}

func uint64To32Bytes(n uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(n).Bytes(), 32)
}
