package model

import "encoding/json"

// Millis is a logical timestamp with millisecond resolution.
// All ordering in the sync protocol is by Millis values, never wall-clock.
type Millis = int64

// Asset represents one managed media file plus its metadata.
// The ID is the SHA-256 content hash of the file bytes (not a UUID),
// which makes it globally unique among non-deleted records.
type Asset struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	LocalPath     string `json:"local_path,omitempty" db:"local_path"`
	MimeType      string `json:"mime_type" db:"mime_type"`
	Size          int64  `json:"size" db:"size"`
	Width         int    `json:"width" db:"width"`
	Height        int    `json:"height" db:"height"`
	Source        string `json:"source,omitempty" db:"source"`
	ObjectKey     string `json:"object_key,omitempty" db:"object_key"`
	ThumbKey      string `json:"thumb_key,omitempty" db:"thumb_key"`
	KeyPending    bool   `json:"key_pending,omitempty" db:"key_pending"`
	Synced        bool   `json:"synced" db:"synced"`
	Deleted       bool   `json:"deleted" db:"deleted"`
	DeletedAt     Millis `json:"deleted_at,omitempty" db:"deleted_at"`
	UseCount      int64  `json:"use_count" db:"use_count"`
	LastUsedAt    Millis `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt     Millis `json:"created_at" db:"created_at"`
	UpdatedAt     Millis `json:"updated_at" db:"updated_at"`
	SchemaVersion int    `json:"schema_version,omitempty" db:"schema_version"`
}

// Tag is a user-defined label. Name is unique among tags.
type Tag struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Color     string `json:"color,omitempty" db:"color"`
	UseCount  int64  `json:"use_count" db:"use_count"`
	Synced    bool   `json:"synced" db:"synced"`
	CreatedAt Millis `json:"created_at" db:"created_at"`
	UpdatedAt Millis `json:"updated_at" db:"updated_at"`
}

// AssetTag links an asset to a tag. Rows are append-only facts keyed by
// (asset id, tag id); CreatedAt drives incremental sync.
type AssetTag struct {
	AssetID   string `json:"asset_id" db:"asset_id"`
	TagID     string `json:"tag_id" db:"tag_id"`
	CreatedAt Millis `json:"created_at" db:"created_at"`
}

// Mutation kinds. The payload schema of an event is keyed by its kind and
// validated at the ingestion boundary.
const (
	KindAssetUpsert = "asset_upsert"
	KindAssetDelete = "asset_delete"
	KindTagUpsert   = "tag_upsert"
	KindTagDelete   = "tag_delete"
	KindLinkAdd     = "link_add"
	KindLinkRemove  = "link_remove"
)

// Entity types carried on an event.
const (
	EntityAsset = "asset"
	EntityTag   = "tag"
	EntityLink  = "link"
)

// Event is one client-originated mutation. ID is a client-generated UUID
// and acts as the idempotency key: an id is accepted at most once.
// ServerTS is assigned exactly once at ingestion and strictly increases
// across the whole store.
type Event struct {
	ID            string          `json:"id" db:"id"`
	Kind          string          `json:"kind" db:"kind"`
	EntityType    string          `json:"entity_type" db:"entity_type"`
	EntityID      string          `json:"entity_id" db:"entity_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	DeviceID      string          `json:"device_id" db:"device_id"`
	ClientTS      Millis          `json:"client_ts" db:"client_ts"`
	ServerTS      Millis          `json:"server_ts,omitempty" db:"server_ts"`
	BatchID       string          `json:"batch_id,omitempty" db:"batch_id"`
	ParentID      string          `json:"parent_id,omitempty" db:"parent_id"`
	SchemaVersion int             `json:"schema_version" db:"schema_version"`
}

// DeletePayload is the payload of asset_delete and tag_delete events.
type DeletePayload struct {
	ID        string `json:"id"`
	DeletedAt Millis `json:"deleted_at"`
	UpdatedAt Millis `json:"updated_at"`
}

// Device is one registered replica of an owner's library.
type Device struct {
	ID           string `json:"id" db:"id"`
	OwnerID      string `json:"owner_id" db:"owner_id"`
	Name         string `json:"name" db:"name"`
	Type         string `json:"type" db:"type"`
	Platform     string `json:"platform,omitempty" db:"platform"`
	Active       bool   `json:"active" db:"active"`
	RegisteredAt Millis `json:"registered_at" db:"registered_at"`
	LastSeenAt   Millis `json:"last_seen_at" db:"last_seen_at"`
}
