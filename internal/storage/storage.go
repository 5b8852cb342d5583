package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Client is the blob store surface the pipeline depends on. Keys are
// slash-separated paths relative to the bucket root.
type Client interface {
	// Put uploads data and returns the object's public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get downloads an object; ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// URL returns the public URL for a key without touching the store.
	URL(key string) string
}
