// Package storage defines where crawled pages are persisted.
package storage

import (
	"context"
	"io"
)

// BlobStore saves an object under path and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error)
}
