package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type SourceUseCase struct {
	sources ports.SourceRepository
	now     func() time.Time
}

func NewSourceUseCase(sources ports.SourceRepository) *SourceUseCase {
	return &SourceUseCase{
		sources: sources,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *SourceUseCase) Register(ctx context.Context, name string, kind domain.SourceKind, itemID string) (*domain.DataSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register source", fmt.Errorf("name is required"))
	}
	if !kind.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register source", fmt.Errorf("unknown source kind %q", kind))
	}
	itemID = strings.TrimSpace(itemID)
	if kind == domain.SourceBankAggregator && itemID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register source", fmt.Errorf("item_id is required for %s sources", kind))
	}

	now := uc.now()
	source := &domain.DataSource{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		Status:    domain.SourceActive,
		ItemID:    itemID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.sources.Create(ctx, source); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return source, nil
}

func (uc *SourceUseCase) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	source, err := uc.sources.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch source by id: %w", err)
	}
	return source, nil
}

func (uc *SourceUseCase) List(ctx context.Context) ([]domain.DataSource, error) {
	sources, err := uc.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// Deactivate stops future syncs. Sources and their transactions are never deleted.
func (uc *SourceUseCase) Deactivate(ctx context.Context, id string) error {
	if _, err := uc.sources.GetByID(ctx, id); err != nil {
		return fmt.Errorf("fetch source by id: %w", err)
	}
	if err := uc.sources.UpdateStatus(ctx, id, domain.SourceInactive); err != nil {
		return fmt.Errorf("deactivate source: %w", err)
	}
	return nil
}
