// Package tracestore persists exported trace batches in PostgreSQL and reads them back.
package tracestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobtrace/internal/tracing"
	"github.com/cuongbtq/jobtrace/shared/postgresql"
)

const (
	insertTransactionQuery = `
		INSERT INTO transactions (
			transaction_id, name, type, result,
			started_at, duration_us, context
		) VALUES (
			:transaction_id, :name, :type, :result,
			:started_at, :duration_us, :context
		)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	insertSegmentQuery = `
		INSERT INTO segments (
			segment_id, transaction_id, type, label,
			started_at, duration_us, ended, context
		) VALUES (
			:segment_id, :transaction_id, :type, :label,
			:started_at, :duration_us, :ended, :context
		)
		ON CONFLICT (segment_id) DO NOTHING
	`

	selectTransactionColumns = `
		SELECT
			transaction_id, name, type, result,
			started_at, duration_us, context
		FROM transactions
	`
)

// Store reads and writes traces.
// It implements tracing.Exporter.
type Store struct {
	db *sqlx.DB
}

var _ tracing.Exporter = (*Store)(nil)

func NewStore(pg *postgresql.Client) *Store {
	return &Store{
		db: pg.GetDB(),
	}
}

// NewStoreWithDB creates a Store on an existing connection
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Export writes a batch inside one database transaction
func (s *Store) Export(ctx context.Context, batch tracing.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin export: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, t := range batch.Transactions {
		row, err := newTransactionRow(t)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertTransactionQuery, row); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}

	for _, sg := range batch.Segments {
		row, err := newSegmentRow(sg)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertSegmentQuery, row); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export: %w", err)
	}

	return nil
}

type TransactionFilter struct {
	Name     string
	Result   string
	PageSize int
	Cursor   *Cursor
}

type Cursor struct {
	StartedAt     time.Time
	TransactionID string
}

// ListTransactions returns up to PageSize+1 transactions, newest first.
// The extra row tells the caller whether another page exists.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter) ([]TransactionRow, error) {
	query, args := buildListQuery(filter)

	var rows []TransactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return rows, nil
}

func buildListQuery(filter TransactionFilter) (string, []interface{}) {
	query := selectTransactionColumns + " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, filter.Name)
		argIdx++
	}

	if filter.Result != "" {
		query += fmt.Sprintf(" AND result = $%d", argIdx)
		args = append(args, filter.Result)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (started_at, transaction_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.StartedAt, filter.Cursor.TransactionID)
		argIdx += 2
	}

	query += " ORDER BY started_at DESC, transaction_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}

// GetTransaction returns one transaction and its segments ordered by start time
func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*Trace, error) {
	var trace Trace

	query := selectTransactionColumns + " WHERE transaction_id = $1"
	if err := s.db.GetContext(ctx, &trace.Transaction, query, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	segmentsQuery := `
		SELECT
			segment_id, transaction_id, type, label,
			started_at, duration_us, ended, context
		FROM segments
		WHERE transaction_id = $1
		ORDER BY started_at ASC, segment_id ASC
	`
	if err := s.db.SelectContext(ctx, &trace.Segments, segmentsQuery, transactionID); err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}

	return &trace, nil
}
