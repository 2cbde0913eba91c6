package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		DeviceName: "laptop",
		BaseDir:    "/home/user/.local/share/mediasync",
		LogDir:     "/home/user/.local/share/mediasync/log",
		Gateway: GatewayConfig{
			URL:     "https://sync.example.com",
			OwnerID: "owner-1",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/mediasync/db"},
		ObjectStore: ObjectStoreConfig{
			Type:     "s3",
			S3Bucket: "media",
			S3Prefix: "assets",
			S3Region: "us-east-1",
		},
		Sync:      SyncConfig{PageSize: 100},
		Retention: RetentionConfig{Days: 14, DeleteRemote: true},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DeviceName != original.DeviceName {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, original.DeviceName)
	}
	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Gateway.URL != original.Gateway.URL {
		t.Errorf("Gateway.URL = %q, want %q", got.Gateway.URL, original.Gateway.URL)
	}
	if got.Gateway.OwnerID != original.Gateway.OwnerID {
		t.Errorf("Gateway.OwnerID = %q, want %q", got.Gateway.OwnerID, original.Gateway.OwnerID)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.ObjectStore.Type != "s3" {
		t.Errorf("ObjectStore.Type = %q, want %q", got.ObjectStore.Type, "s3")
	}
	if got.ObjectStore.S3Bucket != "media" {
		t.Errorf("ObjectStore.S3Bucket = %q, want %q", got.ObjectStore.S3Bucket, "media")
	}
	if got.Sync.PageSize != 100 {
		t.Errorf("Sync.PageSize = %d, want %d", got.Sync.PageSize, 100)
	}
	if got.Retention.Days != 14 {
		t.Errorf("Retention.Days = %d, want %d", got.Retention.Days, 14)
	}
	if !got.Retention.DeleteRemote {
		t.Error("Retention.DeleteRemote = false, want true")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("laptop", "/data/mediasync")

	if cfg.DeviceName != "laptop" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "laptop")
	}
	if cfg.BaseDir != "/data/mediasync" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/mediasync")
	}
	if cfg.LogDir != "/data/mediasync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/mediasync/log")
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
	if cfg.Database.DataDir != "/data/mediasync/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/mediasync/db")
	}
	if cfg.Sync.PageSize != 200 {
		t.Errorf("Sync.PageSize = %d, want %d", cfg.Sync.PageSize, 200)
	}
	if cfg.Retention.Days != 30 {
		t.Errorf("Retention.Days = %d, want %d", cfg.Retention.Days, 30)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "mediasync.toml")
	cfg := NewConfig("laptop", dir)

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.DeviceName != "laptop" {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, "laptop")
	}

	// A second init must not clobber the existing file.
	if err := Init(path, cfg); err == nil {
		t.Error("Init() on existing file succeeded, want error")
	}
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("ReadFromFile() on missing file succeeded, want error")
	}
}
