package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type TransactionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const transactionColumns = `id, account_id, source_id, external_id, amount, description, date, category, category_confidence, pending, dedupe_key, created_at, updated_at`

// Upsert inserts txn or refreshes the pending row with the same provenance.
// Settled rows are left as they are and reported as not inserted.
func (r *TransactionRepository) Upsert(ctx context.Context, txn *domain.Transaction) (bool, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	now := r.now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	if txn.DedupeKey == "" {
		txn.DedupeKey = domain.HeuristicKey(txn.Amount, txn.Description, txn.Date)
	}

	if !txn.HasProvenance() {
		return r.insertHeuristic(ctx, txn)
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO transactions (`+transactionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (source_id, external_id) WHERE external_id <> '' DO UPDATE
SET amount = EXCLUDED.amount,
	description = EXCLUDED.description,
	date = EXCLUDED.date,
	pending = EXCLUDED.pending,
	dedupe_key = EXCLUDED.dedupe_key,
	updated_at = EXCLUDED.updated_at
WHERE transactions.pending
RETURNING id, (xmax = 0) AS inserted
`, txn.ID, txn.AccountID, txn.SourceID, txn.ExternalID, txn.Amount, txn.Description, txn.Date,
		txn.Category, txn.CategoryConfidence, txn.Pending, txn.DedupeKey, txn.CreatedAt, txn.UpdatedAt)

	var (
		id       string
		inserted bool
	)
	err := row.Scan(&id, &inserted)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict with a settled row: nothing was written.
		existing, lookupErr := r.idByProvenance(ctx, txn.SourceID, txn.ExternalID)
		if lookupErr != nil {
			return false, lookupErr
		}
		txn.ID = existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert transaction: %w", err)
	}
	txn.ID = id
	return inserted, nil
}

func (r *TransactionRepository) insertHeuristic(ctx context.Context, txn *domain.Transaction) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO transactions (`+transactionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, txn.ID, txn.AccountID, txn.SourceID, txn.ExternalID, txn.Amount, txn.Description, txn.Date,
		txn.Category, txn.CategoryConfidence, txn.Pending, txn.DedupeKey, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, domain.WrapError(domain.ErrDuplicate, "insert transaction", fmt.Errorf("dedupe key %q", txn.DedupeKey))
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	return true, nil
}

func (r *TransactionRepository) idByProvenance(ctx context.Context, sourceID, externalID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
SELECT id FROM transactions WHERE source_id = $1 AND external_id = $2
`, sourceID, externalID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup transaction by provenance: %w", err)
	}
	return id, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+transactionColumns+`
FROM transactions
WHERE id = $1
`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get transaction", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return &txn, nil
}

func (r *TransactionRepository) DeleteByExternalID(ctx context.Context, sourceID, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM transactions WHERE source_id = $1 AND external_id = $2
`, sourceID, externalID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) UpdateCategory(ctx context.Context, id string, category string, confidence float64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE transactions
SET category = $2, category_confidence = $3, updated_at = $4
WHERE id = $1
`, id, category, confidence, r.now())
	if err != nil {
		return fmt.Errorf("update transaction category: %w", err)
	}
	if err := expectOneRow(result, "update transaction category"); err != nil {
		if errors.Is(err, errNoRows) {
			return domain.WrapError(domain.ErrNotFound, "update transaction category", fmt.Errorf("id=%s", id))
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) ExistsMatching(ctx context.Context, amount decimal.Decimal, description string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM transactions
	WHERE amount = $1 AND description = $2 AND date >= $3
)
`, amount, description, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query matching transactions: %w", err)
	}
	return exists, nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+transactionColumns+`
FROM transactions
WHERE account_id = $1 AND date >= $2 AND date < $3
ORDER BY date, id
`, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var txn domain.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.AccountID,
		&txn.SourceID,
		&txn.ExternalID,
		&txn.Amount,
		&txn.Description,
		&txn.Date,
		&txn.Category,
		&txn.CategoryConfidence,
		&txn.Pending,
		&txn.DedupeKey,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	return txn, err
}
