package objectstore

import (
	"context"
	"fmt"

	"mediasync/internal/config"
	"mediasync/internal/core"
)

// NewStoreFromConfig creates an ObjectStore implementation based on the
// objectstore config type.
func NewStoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (core.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 object store requires s3_bucket to be set")
		}
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem object store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown object store type: %s", cfg.Type)
	}
}
