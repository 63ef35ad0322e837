// Package pdftext reads the text layer of PDF receipts.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/extraction"
)

type Extractor struct {
	now func() time.Time
}

func New() *Extractor {
	return &Extractor{now: func() time.Time { return time.Now().UTC() }}
}

var _ ports.ReceiptExtractor = (*Extractor)(nil)

// Extract returns the fallback receipt for PDFs without a readable text layer,
// such as scans.
func (e *Extractor) Extract(_ context.Context, image domain.ReceiptImage) (domain.ExtractedReceipt, error) {
	text, err := PlainText(image.Data)
	if err != nil {
		return domain.FallbackReceipt(e.now()), nil
	}
	return extraction.ParseReceiptText(text, e.now()), nil
}

// PlainText concatenates the text of every page in document order.
func PlainText(data []byte) (text string, err error) {
	// The parser panics on some truncated files.
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("read pdf: %v", recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(raw), nil
}
