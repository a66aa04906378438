package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettleMode records which settlement path produced a fill.
type SettleMode string

const (
	// SettleModeSwap moves existing tokens; no new collateral exposure.
	SettleModeSwap SettleMode = "swap"
	// SettleModeMint creates a complete outcome set backed by fresh collateral.
	SettleModeMint SettleMode = "mint"
)

// Fill is the record emitted for one side of a settlement. Both sides of a
// matched pair fill at the same amount and the same execution price (the
// seller's limit price), each tagged with the counterparty as taker.
type Fill struct {
	ID          string
	OrderHash   common.Hash
	Trader      common.Address
	Taker       common.Address
	QuestionID  common.Hash
	ConditionID common.Hash
	Epoch       uint64
	Outcome     uint8
	Side        Side
	Amount      *big.Int
	Price       int64 // execution price, basis points
	Fee         *big.Int
	Mode        SettleMode
	CreatedAt   time.Time
}

// MatchResult is the outcome of one settlement call.
type MatchResult struct {
	Mode        SettleMode
	ConditionID common.Hash
	Epoch       uint64
	Fills       []Fill
}
