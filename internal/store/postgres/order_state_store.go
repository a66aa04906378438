package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderStateStore implements domain.OrderStateStore using PostgreSQL. It
// holds one row per order hash with the cumulative filled amount, written
// after each settlement and read back in full at startup.
type OrderStateStore struct {
	pool *pgxpool.Pool
}

// NewOrderStateStore creates a new OrderStateStore backed by the given
// connection pool.
func NewOrderStateStore(pool *pgxpool.Pool) *OrderStateStore {
	return &OrderStateStore{pool: pool}
}

// UpsertFilled records the cumulative filled amount for an order hash.
func (s *OrderStateStore) UpsertFilled(ctx context.Context, hash common.Hash, filled *big.Int) error {
	const query = `
		INSERT INTO order_state (order_hash, filled, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (order_hash) DO UPDATE
		SET filled = EXCLUDED.filled, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, hash.Hex(), filled.String()); err != nil {
		return fmt.Errorf("postgres: upsert order state %s: %w", hash.Hex(), err)
	}
	return nil
}

// LoadAll returns the full fill-state map. Intended for startup recovery;
// the table stays small because only touched orders have rows.
func (s *OrderStateStore) LoadAll(ctx context.Context) (map[common.Hash]*big.Int, error) {
	rows, err := s.pool.Query(ctx, `SELECT order_hash, filled::text FROM order_state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load order state: %w", err)
	}
	defer rows.Close()

	state := make(map[common.Hash]*big.Int)
	for rows.Next() {
		var hash, filled string
		if err := rows.Scan(&hash, &filled); err != nil {
			return nil, fmt.Errorf("postgres: scan order state: %w", err)
		}
		n, err := parseBig(filled)
		if err != nil {
			return nil, err
		}
		state[common.HexToHash(hash)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load order state rows: %w", err)
	}
	return state, nil
}
