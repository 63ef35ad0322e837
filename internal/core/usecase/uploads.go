package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// UploadUseCase stores an uploaded file and creates the job that reads it.
type UploadUseCase struct {
	storage ports.ObjectStorage
	jobs    ports.JobSubmitter
}

func NewUploadUseCase(storage ports.ObjectStorage, jobs ports.JobSubmitter) *UploadUseCase {
	return &UploadUseCase{storage: storage, jobs: jobs}
}

func (uc *UploadUseCase) UploadImport(ctx context.Context, req ports.UploadRequest) (string, error) {
	format := FormatFromFilename(req.Filename)
	if format == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload import", fmt.Errorf("unsupported file %q, expected .xlsx or .csv", req.Filename))
	}
	if req.SourceID == "" || req.AccountID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload import", fmt.Errorf("source_id and account_id are required"))
	}

	key, err := uc.store(ctx, "imports", req)
	if err != nil {
		return "", err
	}
	return uc.jobs.Create(ctx, domain.ImportInput{
		SourceID:  req.SourceID,
		AccountID: req.AccountID,
		ObjectKey: key,
		Format:    format,
	})
}

func (uc *UploadUseCase) UploadReceipt(ctx context.Context, req ports.UploadRequest) (string, error) {
	mimeType, _, _ := strings.Cut(strings.ToLower(req.MimeType), ";")
	mimeType = strings.TrimSpace(mimeType)
	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" && mimeType != "text/plain" {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload receipt", fmt.Errorf("unsupported mime type %q", req.MimeType))
	}
	if req.SourceID == "" || req.AccountID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload receipt", fmt.Errorf("source_id and account_id are required"))
	}

	key, err := uc.store(ctx, "receipts", req)
	if err != nil {
		return "", err
	}
	return uc.jobs.Create(ctx, domain.ReceiptInput{
		SourceID:  req.SourceID,
		AccountID: req.AccountID,
		ObjectKey: key,
		Filename:  req.Filename,
		MimeType:  mimeType,
	})
}

func (uc *UploadUseCase) store(ctx context.Context, prefix string, req ports.UploadRequest) (string, error) {
	key := fmt.Sprintf("%s/%s_%s", prefix, uuid.NewString(), sanitizeFilename(req.Filename))
	if err := uc.storage.Save(ctx, key, req.Body); err != nil {
		return "", fmt.Errorf("save to object storage: %w", err)
	}
	return key, nil
}

// FormatFromFilename maps a file extension to an import format, or "" if unsupported.
func FormatFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return "xlsx"
	case ".csv":
		return "csv"
	default:
		return ""
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "upload.bin"
	}
	return base
}
