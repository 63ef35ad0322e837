package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// DuplicateWindow is how far before the candidate's date an identical record still counts.
const DuplicateWindow = 7 * 24 * time.Hour

type DuplicateDetector struct {
	txns ports.TransactionRepository
}

func NewDuplicateDetector(txns ports.TransactionRepository) *DuplicateDetector {
	return &DuplicateDetector{txns: txns}
}

// IsDuplicate reports whether a transaction with the same amount and exact
// description exists dated on or after candidate.Date-7d. The window has no
// upper bound, so later-dated existing records also match.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, candidate domain.Transaction) (bool, error) {
	since := domain.DateOnly(candidate.Date).Add(-DuplicateWindow)
	exists, err := d.txns.ExistsMatching(ctx, candidate.Amount, candidate.Description, since)
	if err != nil {
		return false, fmt.Errorf("query duplicate candidates: %w", err)
	}
	return exists, nil
}
