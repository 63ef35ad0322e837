package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

func TestUploadImportStoresFileAndCreatesJob(t *testing.T) {
	storage := newStorageFake()
	jobs := &submitterFake{}
	uc := NewUploadUseCase(storage, jobs)

	id, err := uc.UploadImport(context.Background(), ports.UploadRequest{
		SourceID:  "sheet-1",
		AccountID: "acc-1",
		Filename:  "March statement.XLSX",
		Body:      strings.NewReader("xlsx-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	in := jobs.inputs[0].(domain.ImportInput)
	require.Equal(t, "xlsx", in.Format)
	require.True(t, strings.HasPrefix(in.ObjectKey, "imports/"))
	require.True(t, strings.HasSuffix(in.ObjectKey, "_March_statement.XLSX"))
	require.Equal(t, []byte("xlsx-bytes"), storage.objects[in.ObjectKey])
}

func TestUploadImportRejectsUnknownFormat(t *testing.T) {
	uc := NewUploadUseCase(newStorageFake(), &submitterFake{})

	_, err := uc.UploadImport(context.Background(), ports.UploadRequest{SourceID: "s", AccountID: "a", Filename: "notes.txt", Body: strings.NewReader("x")})
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestUploadReceiptAcceptsImagesAndPDF(t *testing.T) {
	storage := newStorageFake()
	jobs := &submitterFake{}
	uc := NewUploadUseCase(storage, jobs)

	_, err := uc.UploadReceipt(context.Background(), ports.UploadRequest{SourceID: "ocr-1", AccountID: "acc-1", Filename: "r.pdf", MimeType: "application/pdf", Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	require.Equal(t, "application/pdf", jobs.inputs[0].(domain.ReceiptInput).MimeType)

	_, err = uc.UploadReceipt(context.Background(), ports.UploadRequest{SourceID: "ocr-1", AccountID: "acc-1", Filename: "r.zip", MimeType: "application/zip", Body: strings.NewReader("PK")})
	require.True(t, domain.IsKind(err, domain.ErrInvalidInput))
	require.Len(t, storage.objects, 1)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b_c.csv", sanitizeFilename("a b c.csv"))
	require.Equal(t, "x_y.pdf", sanitizeFilename("x%y.pdf"))
	require.Equal(t, "c.csv", sanitizeFilename("../../c.csv"))
	require.Equal(t, "upload.bin", sanitizeFilename(""))
}
