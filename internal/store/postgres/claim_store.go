package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

const claimSelectCols = `id, claimer, question_id, condition_id, epoch, outcome,
	burned::text, net::text, fee::text, created_at`

func scanClaimRows(rows pgx.Rows) ([]domain.ClaimReceipt, error) {
	var receipts []domain.ClaimReceipt
	for rows.Next() {
		var r domain.ClaimReceipt
		var claimer, question, cond string
		var burned, net, fee string
		if err := rows.Scan(
			&r.ID, &claimer, &question, &cond, &r.Epoch, &r.Outcome,
			&burned, &net, &fee, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Claimer = common.HexToAddress(claimer)
		r.QuestionID = common.HexToHash(question)
		r.ConditionID = common.HexToHash(cond)

		var err error
		if r.Burned, err = parseBig(burned); err != nil {
			return nil, err
		}
		if r.Net, err = parseBig(net); err != nil {
			return nil, err
		}
		if r.Fee, err = parseBig(fee); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// InsertBatch inserts claim receipts using pgx Batch. Re-inserts of the same
// receipt id are silently skipped.
func (s *ClaimStore) InsertBatch(ctx context.Context, receipts []domain.ClaimReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO claims (
			id, claimer, question_id, condition_id, epoch, outcome,
			burned, net, fee, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10
		) ON CONFLICT (id) DO NOTHING`

	for _, r := range receipts {
		batch.Queue(query,
			r.ID, r.Claimer.Hex(), r.QuestionID.Hex(), r.ConditionID.Hex(),
			r.Epoch, r.Outcome,
			r.Burned.String(), r.Net.String(), r.Fee.String(),
			r.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range receipts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert claim batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByClaimer returns receipts for one claimer with pagination and optional
// time filtering.
func (s *ClaimStore) ListByClaimer(ctx context.Context, claimer common.Address, opts domain.ListOpts) ([]domain.ClaimReceipt, error) {
	query := `SELECT ` + claimSelectCols + ` FROM claims WHERE claimer = $1`
	args := []any{claimer.Hex()}

	query, args = appendListOpts(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims by claimer: %w", err)
	}
	defer rows.Close()

	receipts, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan claims by claimer: %w", err)
	}
	return receipts, nil
}

// ListBetween returns all receipts in [since, until), oldest first. Used by
// the archiver.
func (s *ClaimStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.ClaimReceipt, error) {
	query := `SELECT ` + claimSelectCols + ` FROM claims
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims between: %w", err)
	}
	defer rows.Close()
	return scanClaimRows(rows)
}
