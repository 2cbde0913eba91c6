package core

import (
	"context"

	"mediasync/internal/model"
)

// RegisterRequest registers (or refreshes) a device under an owner.
type RegisterRequest struct {
	OwnerID    string `json:"owner_id"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	Platform   string `json:"platform,omitempty"`
}

// RegisterResponse carries the bearer token for subsequent calls.
type RegisterResponse struct {
	Token     string       `json:"token"`
	ExpiresAt model.Millis `json:"expires_at"`
}

// PullPage is one page of server-ordered events.
type PullPage struct {
	Events    []model.Event `json:"events"`
	NextSince model.Millis  `json:"next_since"`
	HasMore   bool          `json:"has_more"`
}

// PushResult reports the outcome of one ingested batch.
type PushResult struct {
	Accepted        []string     `json:"accepted"`
	Duplicates      []string     `json:"duplicates"`
	ServerTimestamp model.Millis `json:"server_timestamp"`
}

// CloudMissing identifies a cloud record whose referenced object is absent
// from the object store.
type CloudMissing struct {
	AssetID   string `json:"asset_id"`
	ObjectKey string `json:"object_key,omitempty"`
	ThumbKey  string `json:"thumb_key,omitempty"`
}

// CloudIntegrityReport is the server-side record/object integrity result.
type CloudIntegrityReport struct {
	Missing     []CloudMissing `json:"missing"`
	TotalAssets int            `json:"total_assets"`
	TotalKeys   int            `json:"total_keys"`
}

// TokenSource supplies the current bearer token. Refresh happens externally;
// an empty token means the device is not logged in.
type TokenSource interface {
	CurrentToken() (string, error)
}

// GatewayClient is the device-side view of the event ingestion gateway.
// Authentication failures surface as ErrUnauthorized and are never retried
// by implementations.
type GatewayClient interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)

	// PullSince returns events with server timestamp strictly greater than
	// since, ascending, at most limit.
	PullSince(ctx context.Context, since model.Millis, limit int) (*PullPage, error)

	// PushBatch submits a batch of mutations for ingestion. Duplicate event
	// or batch ids are reported, not errors.
	PushBatch(ctx context.Context, deviceID, batchID string, events []model.Event) (*PushResult, error)

	// CloudAssets returns the owner's full cloud record snapshot.
	CloudAssets(ctx context.Context) ([]*model.Asset, error)

	// CloudIntegrity runs the server-side record/object integrity check.
	CloudIntegrity(ctx context.Context) (*CloudIntegrityReport, error)
}
