// Package domain defines the core types of the clearing engine: signed
// orders, conditions, fills, claims, and the store interfaces that back them.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceScale is the fixed-point denominator for prices and fee rates.
// A price of 10_000 basis points equals 100% of one collateral unit.
const PriceScale int64 = 10_000

// MaxFeeBps caps every configurable fee rate at 10%.
const MaxFeeBps int64 = 1_000

// Side indicates whether an order buys or sells outcome tokens.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is an off-chain-signed intent to trade. Orders are never stored
// before use; they are referenced everywhere by their canonical EIP-712
// structural hash, so identical content always resolves to the same order.
type Order struct {
	Trader     common.Address `json:"trader"`
	QuestionID common.Hash    `json:"questionId"`
	Outcome    uint8          `json:"outcome"` // zero-based outcome index
	Amount     *big.Int       `json:"amount"`  // outcome-token units
	Price      int64          `json:"price"`   // basis points of PriceScale
	Nonce      uint64         `json:"nonce"`
	Expiration int64          `json:"expiration"` // unix seconds; 0 = never
	Side       Side           `json:"side"`
}

// Validate checks the structural invariants that hold for every order
// independent of market state.
func (o Order) Validate() error {
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return ErrInvalidOrder
	}
	if o.Price < 0 || o.Price > PriceScale {
		return ErrInvalidOrder
	}
	if !o.Side.Valid() {
		return ErrInvalidOrder
	}
	return nil
}

// SignedOrder pairs an order with its detached 65-byte secp256k1 signature.
type SignedOrder struct {
	Order     Order  `json:"order"`
	Signature []byte `json:"signature"`
}
