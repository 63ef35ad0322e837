package bootstrap

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/kirillkom/ledger-ingest/internal/config"
	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/lock/local"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/lock/redislock"
	"github.com/kirillkom/ledger-ingest/internal/infrastructure/queue/memory"
)

func newTestApp(cfg config.Config) *App {
	return &App{Config: cfg, Logger: slog.Default()}
}

func TestJobQueueSelectsMemoryBackend(t *testing.T) {
	app := newTestApp(config.Config{QueueBackend: "memory", WorkerBuffer: 4, WorkerConcurrency: 1})
	queue, err := app.jobQueue()
	if err != nil {
		t.Fatalf("jobQueue() error = %v", err)
	}
	if _, ok := queue.(*memory.Queue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}
}

func TestUnknownBackendsAreRejected(t *testing.T) {
	app := newTestApp(config.Config{QueueBackend: "kafka", StorageBackend: "s3"})
	if _, err := app.jobQueue(); err == nil {
		t.Fatalf("expected error for unknown queue backend")
	}
	if _, err := app.objectStorage(context.Background()); err == nil {
		t.Fatalf("expected error for unknown storage backend")
	}
}

func TestItemLockerFallsBackToLocal(t *testing.T) {
	app := newTestApp(config.Config{})
	locker, err := app.itemLocker(context.Background())
	if err != nil {
		t.Fatalf("itemLocker() error = %v", err)
	}
	if _, ok := locker.(*local.Locker); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}
}

func TestItemLockerUsesRedisWhenConfigured(t *testing.T) {
	srv := miniredis.RunT(t)
	app := newTestApp(config.Config{RedisAddr: srv.Addr()})
	defer app.Close()

	locker, err := app.itemLocker(context.Background())
	if err != nil {
		t.Fatalf("itemLocker() error = %v", err)
	}
	if _, ok := locker.(*redislock.Locker); !ok {
		t.Fatalf("expected redis locker, got %T", locker)
	}
}

func TestReceiptExtractorWithoutGeminiKeyRejectsImages(t *testing.T) {
	app := newTestApp(config.Config{ExtractionBackend: "gemini"})
	extractor, err := app.receiptExtractor(context.Background())
	if err != nil {
		t.Fatalf("receiptExtractor() error = %v", err)
	}

	_, err = extractor.Extract(context.Background(), domain.ReceiptImage{Filename: "r.jpg", MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for images without a provider, got %v", err)
	}

	receipt, err := extractor.Extract(context.Background(), domain.ReceiptImage{Filename: "r.txt", MimeType: "text/plain", Data: []byte("CORNER CAFE\nTOTAL 4.50\n")})
	if err != nil {
		t.Fatalf("Extract(text) error = %v", err)
	}
	if receipt.MerchantName != "CORNER CAFE" {
		t.Fatalf("unexpected merchant %q", receipt.MerchantName)
	}
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	app := newTestApp(config.Config{})
	var order []int
	app.onClose(func() { order = append(order, 1) })
	app.onClose(func() { order = append(order, 2) })
	app.Close()
	app.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected close order %v", order)
	}
}

func TestNewSchedulerRequiresRedis(t *testing.T) {
	app := newTestApp(config.Config{})
	if _, err := app.NewScheduler(); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}
