package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillStore persists settlement fill records.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []Fill) error
	GetByOrderHash(ctx context.Context, hash common.Hash) ([]Fill, error)
	ListByQuestion(ctx context.Context, questionID common.Hash, opts ListOpts) ([]Fill, error)
	ListByTrader(ctx context.Context, trader common.Address, opts ListOpts) ([]Fill, error)
	ListBetween(ctx context.Context, since, until time.Time) ([]Fill, error)
}

// ClaimStore persists claim receipts.
type ClaimStore interface {
	InsertBatch(ctx context.Context, receipts []ClaimReceipt) error
	ListByClaimer(ctx context.Context, claimer common.Address, opts ListOpts) ([]ClaimReceipt, error)
	ListBetween(ctx context.Context, since, until time.Time) ([]ClaimReceipt, error)
}

// OrderStateStore persists per-order cumulative fill amounts so anti-replay
// accounting survives a restart.
type OrderStateStore interface {
	UpsertFilled(ctx context.Context, hash common.Hash, filled *big.Int) error
	LoadAll(ctx context.Context) (map[common.Hash]*big.Int, error)
}

// MarketSnapshot is the persisted view of a market's registry state, written
// whenever the registry changes so the API can serve reads without touching
// engine state.
type MarketSnapshot struct {
	QuestionID   common.Hash
	OutcomeCount uint8
	Open         bool
	Epoch        uint64
	CloseAt      *time.Time
	UpdatedAt    time.Time
}

// MarketStore persists market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, m MarketSnapshot) error
	GetByID(ctx context.Context, questionID common.Hash) (MarketSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]MarketSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
