// Package gcs stores uploads in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type Storage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New uses Application Default Credentials.
func New(ctx context.Context, bucket, prefix string) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Storage{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

var _ ports.ObjectStorage = (*Storage)(nil)

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(s.objectName(key)).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return fmt.Errorf("copy object to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gcs upload: %w", err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open object", fmt.Errorf("key=%s", key))
		}
		return nil, fmt.Errorf("read gcs object %s: %w", key, err)
	}
	return rc, nil
}

func (s *Storage) objectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
