package core

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"mediasync/internal/model"
)

// DeletePolicy controls how deletions propagate.
type DeletePolicy struct {
	// DeleteRemote removes the stored object on hard delete. Off by default:
	// other devices may still reference the key until they sync.
	DeleteRemote bool

	// RetentionDays is how long soft-deleted rows are kept before
	// EnforceRetention purges them.
	RetentionDays int
}

// RepairResult reports a reupload pass.
type RepairResult struct {
	Repaired int      `json:"repaired"`
	Failed   []string `json:"failed"`
	Skipped  int      `json:"skipped"`
}

// DownloadResult reports a download pass.
type DownloadResult struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// CleanupResult reports an orphan cleanup pass.
type CleanupResult struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// RepairManager restores consistency between the stores and owns the asset
// delete lifecycle (active -> soft-deleted -> purged). Records are never
// soft- or hard-deleted anywhere else.
//
// Multi-step operations here favor leaving more trace, not less, on partial
// failure: a failed reupload keeps the old broken reference rather than a
// half-written one, and a failed hard-delete step stops rather than leaving
// a row with a dangling object reference.
type RepairManager struct {
	store   LocalStore
	objects ObjectStore
	fs      Filesystem
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	dataDir string
	policy  DeletePolicy

	// Serializes repair passes against each other; audits may interleave.
	mu sync.Mutex
}

// NewRepairManager creates a RepairManager. dataDir is the root under which
// downloaded files are placed at deterministic hash-derived paths.
func NewRepairManager(store LocalStore, objects ObjectStore, fs Filesystem, logger Logger, clock Clock, idgen IDGenerator, dataDir string, policy DeletePolicy) *RepairManager {
	if policy.RetentionDays <= 0 {
		policy.RetentionDays = 30
	}
	return &RepairManager{
		store:   store,
		objects: objects,
		fs:      fs,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		dataDir: dataDir,
		policy:  policy,
	}
}

// Policy returns the active delete policy.
func (m *RepairManager) Policy() DeletePolicy { return m.policy }

// Reupload restores remotely missing objects from local bytes. Only
// repairable findings are attempted; the rest are counted as skipped. The
// record's object key is updated atomically with the fresh key, so a failure
// anywhere leaves the old reference in place.
func (m *RepairManager) Reupload(ctx context.Context, findings []Finding) *RepairResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &RepairResult{}
	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("reupload cancelled", "repaired", result.Repaired)
			return result
		}
		if !f.Repairable {
			result.Skipped++
			continue
		}
		if err := m.reuploadOne(ctx, f.AssetID); err != nil {
			m.logger.Warn("reupload failed", "asset", f.AssetID, "error", err)
			result.Failed = append(result.Failed, f.AssetID)
			continue
		}
		result.Repaired++
	}
	m.logger.Info("reupload pass complete",
		"repaired", result.Repaired, "failed", len(result.Failed), "skipped", result.Skipped)
	return result
}

func (m *RepairManager) reuploadOne(ctx context.Context, assetID string) error {
	asset, err := m.store.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("asset not found")
	}
	data, err := m.fs.ReadFile(asset.LocalPath)
	if err != nil {
		return fmt.Errorf("reading local file: %w", err)
	}

	// The old key is unrecoverable, so this is the one case where a record
	// gets a new key for its lifetime.
	key := ObjectKeyFor(m.idgen, asset.Name)
	if err := m.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	if err := m.store.SetObjectKeys(assetID, key, asset.ThumbKey); err != nil {
		return fmt.Errorf("recording new key: %w", err)
	}
	m.logger.Info("object reuploaded", "asset", assetID, "key", key)
	return nil
}

// DownloadMissing fetches objects for records that exist remotely but whose
// file is absent locally, writing each to a deterministic path derived from
// the content hash and recording that path on the row.
func (m *RepairManager) DownloadMissing(ctx context.Context, cloudAssets []*model.Asset) *DownloadResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &DownloadResult{}
	for _, remote := range cloudAssets {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("download cancelled", "downloaded", result.Downloaded)
			return result
		}
		if remote.Deleted || remote.ObjectKey == "" {
			result.Skipped++
			continue
		}

		local, err := m.store.GetAsset(remote.ID)
		if err != nil {
			m.logger.Warn("local lookup failed", "asset", remote.ID, "error", err)
			result.Failed++
			continue
		}
		if local != nil && local.LocalPath != "" {
			present, err := m.fs.Exists(local.LocalPath)
			if err == nil && present {
				result.Skipped++
				continue
			}
		}

		if err := m.downloadOne(ctx, remote, local); err != nil {
			m.logger.Warn("download failed", "asset", remote.ID, "error", err)
			result.Failed++
			continue
		}
		result.Downloaded++
	}
	m.logger.Info("download pass complete",
		"downloaded", result.Downloaded, "skipped", result.Skipped, "failed", result.Failed)
	return result
}

func (m *RepairManager) downloadOne(ctx context.Context, remote, local *model.Asset) error {
	var buf bytes.Buffer
	if err := m.objects.Get(ctx, remote.ObjectKey, &buf); err != nil {
		return fmt.Errorf("fetching object: %w", err)
	}

	path := m.LocalPathFor(remote)
	if err := m.fs.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	if local == nil {
		inserted := *remote
		inserted.LocalPath = path
		inserted.Synced = true
		if err := m.store.UpsertAsset(&inserted); err != nil {
			return fmt.Errorf("inserting record: %w", err)
		}
		return nil
	}
	if err := m.store.SetLocalPath(remote.ID, path); err != nil {
		return fmt.Errorf("recording local path: %w", err)
	}
	return nil
}

// LocalPathFor derives the deterministic on-disk location for an asset:
// <dataDir>/assets/<content hash><ext>.
func (m *RepairManager) LocalPathFor(a *model.Asset) string {
	return filepath.Join(m.dataDir, "assets", a.ID+filepath.Ext(a.Name))
}

// CleanupOrphans deletes confirmed orphan objects. Irreversible; the caller
// is responsible for presenting size and impact before invoking.
func (m *RepairManager) CleanupOrphans(ctx context.Context, keys []string) *CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &CleanupResult{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("orphan cleanup cancelled", "deleted", result.Deleted)
			return result
		}
		if err := m.objects.Delete(ctx, key); err != nil {
			m.logger.Warn("orphan delete failed", "key", key, "error", err)
			result.Failed++
			continue
		}
		result.Deleted++
	}
	m.logger.Info("orphan cleanup complete", "deleted", result.Deleted, "failed", result.Failed)
	return result
}

// SoftDelete marks the asset deleted and keeps the row and object. The
// deletion propagates to other devices on the next sync cycle.
func (m *RepairManager) SoftDelete(assetID string) error {
	asset, err := m.store.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("asset %s not found", assetID)
	}
	now := NowMillis(m.clock)
	if err := m.store.SoftDeleteAsset(assetID, now); err != nil {
		return fmt.Errorf("soft deleting: %w", err)
	}
	m.logger.Info("asset soft deleted", "asset", assetID)
	return nil
}

// HardDelete permanently removes the asset: the stored object (only when the
// delete-remote policy is enabled), the local file, then the row with its
// association rows. Steps run in that order and stop on the first failure so
// the row is never left pointing at nothing.
func (m *RepairManager) HardDelete(ctx context.Context, assetID string) error {
	asset, err := m.store.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("asset %s not found", assetID)
	}

	if m.policy.DeleteRemote && asset.ObjectKey != "" {
		if err := m.objects.Delete(ctx, asset.ObjectKey); err != nil {
			return fmt.Errorf("deleting object %s: %w", asset.ObjectKey, err)
		}
		if asset.ThumbKey != "" {
			if err := m.objects.Delete(ctx, asset.ThumbKey); err != nil {
				return fmt.Errorf("deleting thumbnail %s: %w", asset.ThumbKey, err)
			}
		}
	}

	if asset.LocalPath != "" {
		if err := m.fs.Remove(asset.LocalPath); err != nil {
			return fmt.Errorf("deleting local file: %w", err)
		}
	}

	if err := m.store.RemoveAsset(assetID); err != nil {
		return fmt.Errorf("removing record: %w", err)
	}
	m.logger.Info("asset hard deleted", "asset", assetID)
	return nil
}

// EnforceRetention hard-deletes every soft-deleted row older than the
// retention window. Returns the number purged; per-item failures are logged
// and counted, not fatal.
func (m *RepairManager) EnforceRetention(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = m.policy.RetentionDays
	}
	cutoff := NowMillis(m.clock) - int64(retentionDays)*24*60*60*1000

	expired, err := m.store.DeletedBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing expired deletions: %w", err)
	}

	purged := 0
	for _, a := range expired {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := m.HardDelete(ctx, a.ID); err != nil {
			m.logger.Warn("retention purge failed", "asset", a.ID, "error", err)
			continue
		}
		purged++
	}
	m.logger.Info("retention enforced", "purged", purged, "expired", len(expired), "days", retentionDays)
	return purged, nil
}
