package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type ReconcileUseCase struct {
	txns ports.TransactionRepository
	now  func() time.Time
}

func NewReconcileUseCase(txns ports.TransactionRepository) *ReconcileUseCase {
	return &ReconcileUseCase{
		txns: txns,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ReconcileUseCase) Reconcile(ctx context.Context, accountID string, period domain.Period) (domain.Reconciliation, error) {
	if strings.TrimSpace(accountID) == "" {
		return domain.Reconciliation{}, domain.WrapError(domain.ErrInvalidInput, "reconcile", fmt.Errorf("account id is required"))
	}
	start, end := period.Bounds(uc.now())

	txns, err := uc.txns.ListByAccount(ctx, accountID, start, end)
	if err != nil {
		return domain.Reconciliation{}, fmt.Errorf("list account transactions: %w", err)
	}

	out := domain.Reconciliation{
		AccountID: accountID,
		Period:    period,
		Start:     start,
		End:       end,
		Income:    decimal.Zero,
		Expenses:  decimal.Zero,
	}
	for _, txn := range txns {
		if txn.Amount.IsPositive() {
			out.Income = out.Income.Add(txn.Amount)
		} else if txn.Amount.IsNegative() {
			out.Expenses = out.Expenses.Add(txn.Amount.Abs())
		}
		out.Count++
	}
	out.NetFlow = out.Income.Sub(out.Expenses)
	return out, nil
}
