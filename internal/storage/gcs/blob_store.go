// Package gcs archives thumbnails in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	blobstore "github.com/JakeFAU/webthumb/internal/storage"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config selects the bucket and the Cache-Control header stored on each thumbnail.
type Config struct {
	Bucket       string
	CacheControl string
}

// BlobStore writes each thumbnail once under its render path.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	cacheControl string
}

var _ blobstore.BlobStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads an encoded thumbnail and returns its gs:// URI. The upload only succeeds when
// no object exists at objectPath yet, carries a CRC32C the service verifies, and stores the
// metadata attached with storage.WithMetadata.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read thumbnail: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(objectPath).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	w.Metadata = blobstore.Metadata(ctx)
	w.CRC32C = crc32.Checksum(data, castagnoli)
	w.SendCRC32C = true

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", objectPath, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish upload %s: %w", objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}
