package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type CursorRepository struct {
	db *sql.DB
}

func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns nil when the item has never completed a sync.
func (r *CursorRepository) Get(ctx context.Context, sourceID, itemID string) (*domain.SyncCursor, error) {
	var cursor domain.SyncCursor
	err := r.db.QueryRowContext(ctx, `
SELECT source_id, item_id, token, last_synced_at
FROM sync_cursors
WHERE source_id = $1 AND item_id = $2
`, sourceID, itemID).Scan(&cursor.SourceID, &cursor.ItemID, &cursor.Token, &cursor.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	return &cursor, nil
}

func (r *CursorRepository) Save(ctx context.Context, cursor domain.SyncCursor) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sync_cursors (source_id, item_id, token, last_synced_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (source_id, item_id) DO UPDATE
SET token = EXCLUDED.token, last_synced_at = EXCLUDED.last_synced_at
`, cursor.SourceID, cursor.ItemID, cursor.Token, cursor.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}
