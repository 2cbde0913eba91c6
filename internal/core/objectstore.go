package core

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	Uploaded time.Time
}

// ObjectStore provides an interface for the remote store holding the actual
// file bytes and thumbnails. Content operations stream through
// io.Reader/io.Writer to support large files without loading them entirely
// into memory.
type ObjectStore interface {
	// Put stores the object under key. size is the number of bytes that
	// will be read from r. Storing the same key twice overwrites.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves the object and writes it to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ExistsMany reports presence for a batch of keys in one round trip
	// where the backend allows it. The result has an entry for every input key.
	ExistsMany(ctx context.Context, keys []string) (map[string]bool, error)

	// List returns every stored object. Backends with paginated listings
	// drain all pages.
	List(ctx context.Context) ([]ObjectInfo, error)

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
