package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Rows mirror the
// in-memory registry so the read API can serve market metadata without going
// through the engine.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert writes one market snapshot, replacing any existing row for the same
// question.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketSnapshot) error {
	const query = `
		INSERT INTO markets (question_id, outcome_count, open, epoch, close_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_id) DO UPDATE SET
			outcome_count = EXCLUDED.outcome_count,
			open = EXCLUDED.open,
			epoch = EXCLUDED.epoch,
			close_at = EXCLUDED.close_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		m.QuestionID.Hex(), m.OutcomeCount, m.Open, m.Epoch, m.CloseAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.QuestionID.Hex(), err)
	}
	return nil
}

// GetByID returns one market snapshot.
func (s *MarketStore) GetByID(ctx context.Context, questionID common.Hash) (domain.MarketSnapshot, error) {
	const query = `
		SELECT question_id, outcome_count, open, epoch, close_at, updated_at
		FROM markets WHERE question_id = $1`

	var m domain.MarketSnapshot
	var question string
	err := s.pool.QueryRow(ctx, query, questionID.Hex()).Scan(
		&question, &m.OutcomeCount, &m.Open, &m.Epoch, &m.CloseAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: market %s: %w", questionID.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market: %w", err)
	}
	m.QuestionID = common.HexToHash(question)
	return m, nil
}

// List returns market snapshots, most recently updated first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	query := `SELECT question_id, outcome_count, open, epoch, close_at, updated_at FROM markets WHERE 1=1`
	args := []any{}

	query, args = appendListOpts(query, args, "updated_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.MarketSnapshot
	for rows.Next() {
		var m domain.MarketSnapshot
		var question string
		if err := rows.Scan(&question, &m.OutcomeCount, &m.Open, &m.Epoch, &m.CloseAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.QuestionID = common.HexToHash(question)
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}
