// Package plaintext handles receipts that arrive as UTF-8 text, such as
// forwarded e-mail receipts.
package plaintext

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction"
)

type Extractor struct {
	now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{now: func() time.Time { return time.Now().UTC() }}
}

var _ ports.ReceiptExtractor = (*Extractor)(nil)

func (e *Extractor) Extract(_ context.Context, image domain.ReceiptImage) (domain.ExtractedReceipt, error) {
	if !utf8.Valid(image.Data) {
		return domain.ExtractedReceipt{}, domain.WrapError(domain.ErrInvalidInput, "extract text receipt", fmt.Errorf("%s is not utf-8 text", image.Filename))
	}
	text := strings.TrimSpace(string(image.Data))
	if text == "" {
		return domain.FallbackReceipt(e.now()), nil
	}
	return extraction.ParseReceiptText(text, e.now()), nil
}
