package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Save(context.Background(), "imports/abc_bank.csv", strings.NewReader("date,amount\n")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := s.Open(context.Background(), "imports/abc_bank.csv")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "date,amount\n" {
		t.Fatalf("unexpected body %q", body)
	}

	entries, err := os.ReadDir(filepath.Join(base, "imports"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the stored object, got %d entries", len(entries))
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = s.Open(context.Background(), "receipts/missing.jpg")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeysCannotEscapeBase(t *testing.T) {
	base := t.TempDir()
	s, err := New(filepath.Join(base, "store"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Save(context.Background(), "../../outside.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "store", "outside.txt")); err != nil {
		t.Fatalf("expected object confined to base dir: %v", err)
	}
	if err := s.Save(context.Background(), "", strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty key, got %v", err)
	}
}
