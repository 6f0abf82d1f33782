// Package storage defines the blob storage abstraction shared by the memory, local and gcs
// backends.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// BlobStore persists one object and returns a URI that identifies it.
type BlobStore interface {
	PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error)
}

type metadataKey struct{}

// WithMetadata attaches object metadata for backends that can store it alongside the bytes.
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// Metadata returns a copy of the metadata attached by WithMetadata, or nil.
func Metadata(ctx context.Context) map[string]string {
	md, _ := ctx.Value(metadataKey{}).(map[string]string)
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ObjectPath lays out archived thumbnails as prefix/YYYY/MM/DD/id.ext.
func ObjectPath(prefix string, at time.Time, id, ext string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("object id is required")
	}
	name := id
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	at = at.UTC()
	return path.Join(strings.Trim(prefix, "/"), at.Format("2006"), at.Format("01"), at.Format("02"), name), nil
}
