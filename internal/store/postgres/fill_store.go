package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `id, order_hash, trader, taker, question_id, condition_id,
	epoch, outcome, side, amount::text, price, fee::text, mode, created_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var orderHash, trader, taker, question, cond string
		var amount, fee string
		if err := rows.Scan(
			&f.ID, &orderHash, &trader, &taker, &question, &cond,
			&f.Epoch, &f.Outcome, &f.Side, &amount, &f.Price, &fee,
			&f.Mode, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		f.OrderHash = common.HexToHash(orderHash)
		f.Trader = common.HexToAddress(trader)
		f.Taker = common.HexToAddress(taker)
		f.QuestionID = common.HexToHash(question)
		f.ConditionID = common.HexToHash(cond)

		var err error
		if f.Amount, err = parseBig(amount); err != nil {
			return nil, err
		}
		if f.Fee, err = parseBig(fee); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// InsertBatch inserts multiple fills efficiently using pgx Batch. Re-inserts
// of the same fill id are silently skipped via ON CONFLICT DO NOTHING.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			id, order_hash, trader, taker, question_id, condition_id,
			epoch, outcome, side, amount, price, fee, mode, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10::numeric, $11, $12::numeric, $13, $14
		) ON CONFLICT (id) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query,
			f.ID, f.OrderHash.Hex(), f.Trader.Hex(), f.Taker.Hex(),
			f.QuestionID.Hex(), f.ConditionID.Hex(),
			f.Epoch, f.Outcome, string(f.Side),
			f.Amount.String(), f.Price, f.Fee.String(), string(f.Mode),
			f.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByOrderHash returns every fill recorded against one order, oldest first.
func (s *FillStore) GetByOrderHash(ctx context.Context, hash common.Hash) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE order_hash = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, hash.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: get fills by order hash: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by order hash: %w", err)
	}
	return fills, nil
}

// ListByQuestion returns fills for a market with pagination and optional
// time filtering.
func (s *FillStore) ListByQuestion(ctx context.Context, questionID common.Hash, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE question_id = $1`
	args := []any{questionID.Hex()}

	query, args = appendListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by question: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by question: %w", err)
	}
	return fills, nil
}

// ListByTrader returns fills where the address appears as trader or taker,
// with pagination and optional time filtering.
func (s *FillStore) ListByTrader(ctx context.Context, trader common.Address, opts domain.ListOpts) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE (trader = $1 OR taker = $1)`
	args := []any{trader.Hex()}

	query, args = appendListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by trader: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by trader: %w", err)
	}
	return fills, nil
}

// ListBetween returns all fills in [since, until), oldest first. Used by the
// archiver.
func (s *FillStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills between: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// parseBig parses a decimal string into a big.Int.
func parseBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: parse numeric %q", s)
	}
	return n, nil
}

// appendListOpts appends time filters, ordering, and pagination to a query
// whose existing placeholders are already numbered.
func appendListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
