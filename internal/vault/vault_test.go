package vault

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

var (
	owner  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	engine = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	condX = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	condY = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v := New(owner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := v.SetEngine(owner, engine); err != nil {
		t.Fatalf("set engine: %v", err)
	}
	return v
}

func mustBalance(t *testing.T, got *big.Int, want int64) {
	t.Helper()
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance = %s, want %d", got, want)
	}
}

func TestDepositWithdraw(t *testing.T) {
	v := newTestVault(t)

	if err := v.Deposit(alice, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 500)

	if err := v.Withdraw(alice, big.NewInt(200)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 300)

	if err := v.Withdraw(alice, big.NewInt(301)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
	if err := v.Deposit(alice, big.NewInt(0)); err == nil {
		t.Fatal("zero deposit accepted")
	}
	if err := v.Withdraw(alice, big.NewInt(-1)); err == nil {
		t.Fatal("negative withdraw accepted")
	}
}

func TestLockUnlockFlow(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}

	if err := v.Lock(engine, condX, alice, big.NewInt(600)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 400)
	mustBalance(t, v.TotalLocked(condX), 600)

	// Unlock may pay anyone the engine names, not just the locker.
	if err := v.Unlock(engine, condX, bob, big.NewInt(250)); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	mustBalance(t, v.AvailableBalance(bob), 250)
	mustBalance(t, v.TotalLocked(condX), 350)

	if err := v.Unlock(engine, condX, bob, big.NewInt(351)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("over-unlock: got %v", err)
	}
	if err := v.Lock(engine, condX, alice, big.NewInt(401)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("over-lock: got %v", err)
	}
}

func TestLockedFundsNotWithdrawable(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}
	if err := v.Lock(engine, condX, alice, big.NewInt(900)); err != nil {
		t.Fatal(err)
	}

	if err := v.Withdraw(alice, big.NewInt(200)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("withdraw against locked funds: got %v", err)
	}
	if err := v.Withdraw(alice, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw free remainder: %v", err)
	}
}

func TestPrivilegedCallsRequireEngine(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}

	if err := v.Lock(alice, condX, alice, big.NewInt(10)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("lock by non-engine: got %v", err)
	}
	if err := v.Unlock(owner, condX, alice, big.NewInt(10)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unlock by non-engine: got %v", err)
	}
	if err := v.Transfer(bob, alice, bob, big.NewInt(10)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("transfer by non-engine: got %v", err)
	}
	if err := v.SetEngine(alice, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("set engine by non-owner: got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	if err := v.Transfer(engine, alice, bob, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 40)
	mustBalance(t, v.AvailableBalance(bob), 60)

	if err := v.Transfer(engine, alice, bob, big.NewInt(41)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("over-transfer: got %v", err)
	}
	// Zero transfers are a no-op, not an error.
	if err := v.Transfer(engine, alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
}

func TestLockBatchAtomicity(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	// Each leg fits alone, the aggregate does not; nothing may move.
	err := v.LockBatch(engine,
		[]common.Hash{condX, condY},
		[]common.Address{alice, alice},
		[]*big.Int{big.NewInt(70), big.NewInt(70)},
	)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("aggregate over-lock: got %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 100)
	mustBalance(t, v.TotalLocked(condX), 0)
	mustBalance(t, v.TotalLocked(condY), 0)

	if err := v.LockBatch(engine,
		[]common.Hash{condX, condY},
		[]common.Address{alice, alice},
		[]*big.Int{big.NewInt(70), big.NewInt(30)},
	); err != nil {
		t.Fatalf("lock batch: %v", err)
	}
	mustBalance(t, v.TotalLocked(condX), 70)
	mustBalance(t, v.TotalLocked(condY), 30)
}

func TestUnlockBatchAtomicity(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := v.Lock(engine, condX, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	err := v.UnlockBatch(engine,
		[]common.Hash{condX, condX},
		[]common.Address{alice, bob},
		[]*big.Int{big.NewInt(60), big.NewInt(60)},
	)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("aggregate over-unlock: got %v", err)
	}
	mustBalance(t, v.TotalLocked(condX), 100)

	if err := v.UnlockBatch(engine,
		[]common.Hash{condX, condX},
		[]common.Address{alice, bob},
		[]*big.Int{big.NewInt(60), big.NewInt(40)},
	); err != nil {
		t.Fatalf("unlock batch: %v", err)
	}
	mustBalance(t, v.AvailableBalance(alice), 60)
	mustBalance(t, v.AvailableBalance(bob), 40)
	mustBalance(t, v.TotalLocked(condX), 0)
}

func TestBatchLengthMismatch(t *testing.T) {
	v := newTestVault(t)

	err := v.LockBatch(engine, []common.Hash{condX}, []common.Address{alice, bob}, []*big.Int{big.NewInt(1)})
	if !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("lock batch mismatch: got %v", err)
	}
	err = v.UnlockBatch(engine, []common.Hash{condX, condY}, []common.Address{alice}, []*big.Int{big.NewInt(1)})
	if !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("unlock batch mismatch: got %v", err)
	}
}

func TestBalanceCopiesAreDetached(t *testing.T) {
	v := newTestVault(t)
	if err := v.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	got := v.AvailableBalance(alice)
	got.SetInt64(0)
	mustBalance(t, v.AvailableBalance(alice), 100)
}
