package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type SourceRepository struct {
	db *sql.DB
}

func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `id, name, kind, status, item_id, last_synced_at, created_at, updated_at`

func (r *SourceRepository) Create(ctx context.Context, source *domain.DataSource) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO data_sources (`+sourceColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, source.ID, source.Name, string(source.Kind), string(source.Status), source.ItemID, source.LastSyncedAt, source.CreatedAt, source.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrInvalidInput, "create source", fmt.Errorf("item %s is already registered", source.ItemID))
		}
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.DataSource, error) {
	return r.getOne(ctx, "id", id)
}

func (r *SourceRepository) GetByItemID(ctx context.Context, itemID string) (*domain.DataSource, error) {
	return r.getOne(ctx, "item_id", itemID)
}

func (r *SourceRepository) getOne(ctx context.Context, column, value string) (*domain.DataSource, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+sourceColumns+`
FROM data_sources
WHERE `+column+` = $1
`, value)

	source, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get source", fmt.Errorf("%s=%s", column, value))
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &source, nil
}

func (r *SourceRepository) List(ctx context.Context) ([]domain.DataSource, error) {
	return r.list(ctx, `
SELECT `+sourceColumns+`
FROM data_sources
ORDER BY created_at, id
`)
}

func (r *SourceRepository) ListActiveByKind(ctx context.Context, kind domain.SourceKind) ([]domain.DataSource, error) {
	return r.list(ctx, `
SELECT `+sourceColumns+`
FROM data_sources
WHERE kind = $1 AND status = 'active'
ORDER BY created_at, id
`, string(kind))
}

func (r *SourceRepository) list(ctx context.Context, query string, args ...any) ([]domain.DataSource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DataSource, 0)
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func (r *SourceRepository) UpdateStatus(ctx context.Context, id string, status domain.SourceStatus) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE data_sources
SET status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	return sourceRowError(expectOneRow(result, "update source status"), id)
}

func (r *SourceRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE data_sources
SET last_synced_at = $2, updated_at = $2
WHERE id = $1
`, id, syncedAt)
	if err != nil {
		return fmt.Errorf("mark source synced: %w", err)
	}
	return sourceRowError(expectOneRow(result, "mark source synced"), id)
}

func sourceRowError(err error, id string) error {
	if errors.Is(err, errNoRows) {
		return domain.WrapError(domain.ErrNotFound, "update source", fmt.Errorf("id=%s", id))
	}
	return err
}

func scanSource(row rowScanner) (domain.DataSource, error) {
	var (
		source       domain.DataSource
		kind, status string
	)
	err := row.Scan(
		&source.ID,
		&source.Name,
		&kind,
		&status,
		&source.ItemID,
		&source.LastSyncedAt,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return domain.DataSource{}, err
	}
	source.Kind = domain.SourceKind(kind)
	source.Status = domain.SourceStatus(status)
	return source, nil
}
