package core

import (
	"errors"

	"mediasync/internal/model"
)

// ErrSyncInProgress is returned when a sync cycle is triggered while another
// cycle for the same session is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrUnauthorized is returned for missing, invalid or expired credentials.
// It is fatal to the call and never retried.
var ErrUnauthorized = errors.New("unauthorized")

// State keys in the local store's sync_state table.
const (
	StateCheckpoint = "checkpoint"
	StateDeviceID   = "device_id"
	StateOwnerID    = "owner_id"
	StateToken      = "token"
)

// LocalStore provides an interface for the local embedded record store,
// the source of truth for the active device. Implementations return nil
// (not an error) when a looked-up record does not exist.
type LocalStore interface {
	// Asset operations

	GetAsset(id string) (*model.Asset, error)
	ListAssets(includeDeleted bool) ([]*model.Asset, error)

	// UpsertAsset writes the full asset row, inserting or replacing.
	UpsertAsset(a *model.Asset) error

	// SetObjectKeys atomically records the object-store keys for an asset,
	// clears the pending marker and flags the row unsynced so the new key
	// is pushed on the next cycle.
	SetObjectKeys(id, objectKey, thumbKey string) error

	// MarkKeyPending records that an object upload for the asset has been
	// started but its key has not been committed yet.
	MarkKeyPending(id string, pending bool) error

	// SetLocalPath updates only the local file path of an asset.
	SetLocalPath(id, path string) error

	// SoftDeleteAsset sets the delete flag and timestamps; the row and any
	// uploaded object are retained.
	SoftDeleteAsset(id string, at model.Millis) error

	// RemoveAsset deletes the asset row and all of its association rows.
	RemoveAsset(id string) error

	// AssetsModifiedSince returns assets with updated_at strictly greater
	// than since, plus never-synced assets regardless of timestamp.
	AssetsModifiedSince(since model.Millis) ([]*model.Asset, error)

	// DeletedBefore returns soft-deleted assets whose deletion timestamp is
	// older than cutoff.
	DeletedBefore(cutoff model.Millis) ([]*model.Asset, error)

	// MarkAssetsSynced flags the given assets as pushed.
	MarkAssetsSynced(ids []string) error

	// Tag operations

	GetTag(id string) (*model.Tag, error)
	ListTags() ([]*model.Tag, error)
	UpsertTag(t *model.Tag) error
	RemoveTag(id string) error
	TagsModifiedSince(since model.Millis) ([]*model.Tag, error)
	MarkTagsSynced(ids []string) error

	// Association operations. Links are append-only facts: AddLink is an
	// idempotent insert-if-absent.

	AddLink(l model.AssetTag) error
	RemoveLink(assetID, tagID string) error
	LinksCreatedSince(since model.Millis) ([]model.AssetTag, error)

	// Sync state

	GetState(key string) (string, error)
	SetState(key, value string) error

	Close() error
}
