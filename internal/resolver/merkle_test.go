package resolver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

var (
	authority = common.HexToAddress("0x0000000000000000000000000000000000000001")
	engine    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	condX = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

func leaves(cond common.Hash, outcomes ...uint8) []common.Hash {
	out := make([]common.Hash, len(outcomes))
	for i, o := range outcomes {
		out[i] = domain.OutcomeLeaf(cond, o)
	}
	return out
}

func TestSetRootWriteOnce(t *testing.T) {
	r := New(authority)
	root := BuildRoot(leaves(condX, 0))

	if err := r.SetRoot(stranger, condX, root); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("set root by stranger: got %v", err)
	}
	if err := r.SetRoot(authority, condX, common.Hash{}); err == nil {
		t.Fatal("empty root accepted")
	}
	if r.Status(condX) {
		t.Fatal("resolved before any root")
	}

	if err := r.SetRoot(authority, condX, root); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if !r.Status(condX) {
		t.Fatal("not resolved after root")
	}

	if err := r.SetRoot(authority, condX, root); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second set root: got %v", err)
	}
}

func TestSetRootByEngine(t *testing.T) {
	r := New(authority)
	if err := r.SetEngine(authority, engine); err != nil {
		t.Fatal(err)
	}
	if err := r.SetEngine(stranger, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("set engine by stranger: got %v", err)
	}

	if err := r.SetRoot(engine, condX, BuildRoot(leaves(condX, 1))); err != nil {
		t.Fatalf("set root by engine: %v", err)
	}
}

func TestVerifyProofSingleWinner(t *testing.T) {
	r := New(authority)
	ls := leaves(condX, 2)
	if err := r.SetRoot(authority, condX, BuildRoot(ls)); err != nil {
		t.Fatal(err)
	}

	if !r.VerifyProof(condX, 2, nil) {
		t.Fatal("single-leaf proof rejected")
	}
	if r.VerifyProof(condX, 1, nil) {
		t.Fatal("losing outcome verified")
	}
}

func TestVerifyProofUnresolved(t *testing.T) {
	r := New(authority)
	if r.VerifyProof(condX, 0, nil) {
		t.Fatal("proof verified against missing root")
	}
}

func TestBuildAndVerifyProofs(t *testing.T) {
	// Odd and even leaf counts, including the duplicated-last-leaf levels.
	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("%d_leaves", n), func(t *testing.T) {
			outcomes := make([]uint8, n)
			for i := range outcomes {
				outcomes[i] = uint8(i * 2)
			}
			ls := leaves(condX, outcomes...)
			root := BuildRoot(ls)

			for i, leaf := range ls {
				proof := BuildProof(ls, i)
				if got := ProcessProof(leaf, proof); got != root {
					t.Fatalf("leaf %d: proof does not reach root", i)
				}
			}

			// A proof for one leaf never validates a different leaf.
			if n > 1 {
				proof := BuildProof(ls, 0)
				if ProcessProof(ls[1], proof) == root {
					t.Fatal("proof transplanted to another leaf")
				}
			}
		})
	}
}

func TestHashPairIsOrderIndependent(t *testing.T) {
	a := common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000000")
	b := common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000000")

	if hashPair(a, b) != hashPair(b, a) {
		t.Fatal("pair hash depends on operand order")
	}
}
