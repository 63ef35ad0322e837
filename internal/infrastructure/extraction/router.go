package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

// Router sends each receipt to the provider that handles its MIME type.
// A nil provider means that kind of receipt is not accepted.
type Router struct {
	images    ports.ReceiptExtractor
	documents ports.ReceiptExtractor
	text      ports.ReceiptExtractor
}

func NewRouter(images, documents, text ports.ReceiptExtractor) *Router {
	return &Router{images: images, documents: documents, text: text}
}

var _ ports.ReceiptExtractor = (*Router)(nil)

func (r *Router) Extract(ctx context.Context, image domain.ReceiptImage) (domain.ExtractedReceipt, error) {
	mimeType := strings.ToLower(strings.TrimSpace(image.MimeType))
	var provider ports.ReceiptExtractor
	switch {
	case mimeType == "application/pdf":
		provider = r.documents
	case strings.HasPrefix(mimeType, "text/"):
		provider = r.text
	case strings.HasPrefix(mimeType, "image/"):
		provider = r.images
	}
	if provider == nil {
		return domain.ExtractedReceipt{}, domain.WrapError(domain.ErrInvalidInput, "extract receipt", fmt.Errorf("no extractor for mime type %q", image.MimeType))
	}
	return provider.Extract(ctx, image)
}
