package localdb

import (
	"fmt"
	"path/filepath"

	"mediasync/internal/config"
	"mediasync/internal/core"
)

// NewStoreFromConfig creates a LocalStore implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, deviceName string) (core.LocalStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dbPath := filepath.Join(cfg.DataDir, deviceName+".db")
		return NewSQLiteStore(dbPath)
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
