package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

const (
	maxReceiptBytes = 20 << 20
	// Above this share of malformed records an import raises an alert.
	malformedAlertRatio = 0.5
)

// ImportHandler normalizes raw records and stores the ones that are neither
// malformed nor duplicates.
type ImportHandler struct {
	categorizer *Categorizer
	duplicates  *DuplicateDetector
	txns        ports.TransactionRepository
	storage     ports.ObjectStorage
	parser      ports.RecordParser
	alerts      ports.AlertRaiser
}

func NewImportHandler(
	categorizer *Categorizer,
	duplicates *DuplicateDetector,
	txns ports.TransactionRepository,
	storage ports.ObjectStorage,
	parser ports.RecordParser,
	alerts ports.AlertRaiser,
) *ImportHandler {
	return &ImportHandler{
		categorizer: categorizer,
		duplicates:  duplicates,
		txns:        txns,
		storage:     storage,
		parser:      parser,
		alerts:      alerts,
	}
}

func (h *ImportHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.ImportInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}

	records := in.Records
	if in.ObjectKey != "" {
		parsed, err := h.readObject(ctx, in)
		if err != nil {
			return nil, err
		}
		records = parsed
	}

	out := domain.ImportOutput{Accepted: []string{}}
	var rules []domain.CategoryRule
	if len(records) > 0 {
		loaded, err := h.categorizer.ActiveRules(ctx)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	for i, record := range records {
		txn, err := record.Normalize(in.SourceID, in.AccountID)
		if err != nil {
			out.Malformed++
			out.Errors = append(out.Errors, domain.RecordError{Index: i, Reason: err.Error()})
			continue
		}

		category := h.categorizer.Score(txn.Description, rules)
		txn.Category = category.Category
		txn.CategoryConfidence = category.Confidence

		duplicate, err := h.duplicates.IsDuplicate(ctx, txn)
		if err != nil {
			return nil, err
		}
		if duplicate {
			out.Duplicates++
			continue
		}

		inserted, err := h.txns.Upsert(ctx, &txn)
		if err != nil {
			if domain.IsKind(err, domain.ErrDuplicate) {
				out.Duplicates++
				continue
			}
			return nil, fmt.Errorf("store record %d: %w", i, err)
		}
		if !inserted {
			out.Duplicates++
			continue
		}
		out.Accepted = append(out.Accepted, txn.ID)
	}

	slog.Info("import_finished",
		"job_id", job.ID,
		"source_id", in.SourceID,
		"records", len(records),
		"accepted", len(out.Accepted),
		"duplicates", out.Duplicates,
		"malformed", out.Malformed,
	)
	if len(records) > 0 && float64(out.Malformed)/float64(len(records)) > malformedAlertRatio {
		h.alerts.Raise(ctx, domain.AlertInput{
			Type:        domain.AlertImportMalformed,
			Severity:    domain.SeverityMedium,
			Title:       "import skipped most records",
			Description: fmt.Sprintf("%d of %d records were malformed", out.Malformed, len(records)),
			SourceRef:   job.ID,
		})
	}
	return out, nil
}

func (h *ImportHandler) readObject(ctx context.Context, in domain.ImportInput) ([]domain.RawRecord, error) {
	body, err := h.storage.Open(ctx, in.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("open import object: %w", err)
	}
	defer body.Close()

	format := in.Format
	if format == "" {
		format = FormatFromFilename(in.ObjectKey)
	}
	records, err := h.parser.Parse(ctx, format, body)
	if err != nil {
		return nil, fmt.Errorf("parse import object: %w", err)
	}
	return records, nil
}

// CategorizeHandler re-scores one stored transaction.
type CategorizeHandler struct {
	categorizer *Categorizer
	txns        ports.TransactionRepository
	locker      ports.ItemLocker
}

func NewCategorizeHandler(categorizer *Categorizer, txns ports.TransactionRepository, locker ports.ItemLocker) *CategorizeHandler {
	return &CategorizeHandler{categorizer: categorizer, txns: txns, locker: locker}
}

func (h *CategorizeHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.CategorizeInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}

	release, err := h.locker.Acquire(ctx, "txn:"+in.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("categorize_lock_release_failed", "transaction_id", in.TransactionID, "error", err)
		}
	}()

	txn, err := h.txns.GetByID(ctx, in.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	result, err := h.categorizer.Categorize(ctx, txn.Description)
	if err != nil {
		return nil, err
	}
	if err := h.txns.UpdateCategory(ctx, txn.ID, result.Category, result.Confidence); err != nil {
		return nil, fmt.Errorf("update transaction category: %w", err)
	}
	return domain.CategorizeOutput{TransactionID: txn.ID, CategoryResult: result}, nil
}

type ValidateHandler struct {
	validator *Validator
}

func NewValidateHandler(validator *Validator) *ValidateHandler {
	return &ValidateHandler{validator: validator}
}

func (h *ValidateHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.ValidateInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}
	return h.validator.Validate(ctx, in.Subject)
}

type ReconcileHandler struct {
	reconciler ports.Reconciler
}

func NewReconcileHandler(reconciler ports.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

func (h *ReconcileHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.ReconcileInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}
	period, err := domain.ParsePeriod(in.Period)
	if err != nil {
		return nil, err
	}
	return h.reconciler.Reconcile(ctx, in.AccountID, period)
}

type SyncHandler struct {
	engine *SyncEngine
}

func NewSyncHandler(engine *SyncEngine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

func (h *SyncHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.SyncInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}
	return h.engine.Sync(ctx, in.SourceID, in.ItemID)
}

// ReceiptHandler extracts a receipt and stores it as a pending outflow.
type ReceiptHandler struct {
	storage     ports.ObjectStorage
	extractor   ports.ReceiptExtractor
	categorizer *Categorizer
	txns        ports.TransactionRepository
	alerts      ports.AlertRaiser
}

func NewReceiptHandler(
	storage ports.ObjectStorage,
	extractor ports.ReceiptExtractor,
	categorizer *Categorizer,
	txns ports.TransactionRepository,
	alerts ports.AlertRaiser,
) *ReceiptHandler {
	return &ReceiptHandler{
		storage:     storage,
		extractor:   extractor,
		categorizer: categorizer,
		txns:        txns,
		alerts:      alerts,
	}
}

func (h *ReceiptHandler) Handle(ctx context.Context, job *domain.ProcessingJob, input domain.JobInput) (any, error) {
	in, ok := input.(domain.ReceiptInput)
	if !ok {
		return nil, unexpectedInput(job, input)
	}

	body, err := h.storage.Open(ctx, in.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("open receipt object: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(body, maxReceiptBytes))
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("read receipt object: %w", err)
	}

	receipt, err := h.extractor.Extract(ctx, domain.ReceiptImage{
		Filename: in.Filename,
		MimeType: in.MimeType,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("extract receipt: %w", err)
	}

	date := receipt.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	txn := domain.Transaction{
		AccountID:   in.AccountID,
		SourceID:    in.SourceID,
		ExternalID:  "receipt:" + in.ObjectKey,
		Amount:      receipt.TotalAmount.Abs().Neg(),
		Description: strings.TrimSpace(receipt.MerchantName),
		Date:        domain.DateOnly(date),
		Pending:     true,
	}
	txn.DedupeKey = domain.HeuristicKey(txn.Amount, txn.Description, txn.Date)

	category, err := h.categorizer.Categorize(ctx, txn.Description)
	if err != nil {
		return nil, err
	}
	if category.CategoryID == domain.OtherCategoryID && receipt.SuggestedCategory != "" {
		category = domain.CategoryResult{
			CategoryID: strings.ToLower(receipt.SuggestedCategory),
			Category:   receipt.SuggestedCategory,
			Confidence: receipt.Confidence,
		}
	}
	txn.Category = category.Category
	txn.CategoryConfidence = category.Confidence

	if _, err := h.txns.Upsert(ctx, &txn); err != nil {
		return nil, fmt.Errorf("store receipt transaction: %w", err)
	}

	if receipt.Fallback {
		h.alerts.Raise(ctx, domain.AlertInput{
			Type:        domain.AlertReceiptLowQuality,
			Severity:    domain.SeverityLow,
			Title:       "receipt could not be read",
			Description: fmt.Sprintf("receipt %s was stored with placeholder values and needs review", in.Filename),
			SourceRef:   txn.ID,
		})
	}

	return domain.ReceiptOutput{
		TransactionID: txn.ID,
		Merchant:      txn.Description,
		Confidence:    receipt.Confidence,
		Fallback:      receipt.Fallback,
	}, nil
}

func unexpectedInput(job *domain.ProcessingJob, input domain.JobInput) error {
	return domain.WrapError(domain.ErrInvalidInput, "dispatch job", fmt.Errorf("job %s of type %s got %T input", job.ID, job.Type, input))
}
