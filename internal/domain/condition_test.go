package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestConditionID(t *testing.T) {
	base := Condition{
		Authority:    common.HexToAddress("0x0000000000000000000000000000000000000001"),
		QuestionID:   common.HexToHash("0x11"),
		OutcomeCount: 2,
		Epoch:        1,
	}

	if base.ID() != base.ID() {
		t.Fatal("condition id not deterministic")
	}

	// Every component participates in the identity; in particular two epochs
	// of the same question are independent settlement scopes.
	variants := []Condition{
		{base.Authority, base.QuestionID, base.OutcomeCount, 2},
		{base.Authority, base.QuestionID, 3, base.Epoch},
		{base.Authority, common.HexToHash("0x22"), base.OutcomeCount, base.Epoch},
		{common.HexToAddress("0x0000000000000000000000000000000000000002"), base.QuestionID, base.OutcomeCount, base.Epoch},
	}
	for i, v := range variants {
		if v.ID() == base.ID() {
			t.Fatalf("variant %d collided with base", i)
		}
	}
}

func TestTokenAndLeafDerivation(t *testing.T) {
	cond := common.HexToHash("0xaa")

	if TokenID(cond, 0) == TokenID(cond, 1) {
		t.Fatal("outcome tokens collided")
	}
	if OutcomeLeaf(cond, 0) == OutcomeLeaf(cond, 1) {
		t.Fatal("outcome leaves collided")
	}
	// Leaves are domain-separated from token ids so a proof can never be
	// replayed as a token identifier.
	if TokenID(cond, 0) == OutcomeLeaf(cond, 0) {
		t.Fatal("token id equals leaf hash")
	}
}
