package server

import (
	"context"

	"mediasync/internal/cloudstore"
	"mediasync/internal/model"
)

// Store is the server-side persistence the gateway handlers need. The
// production implementation is cloudstore.Store.
type Store interface {
	Ping(ctx context.Context) error

	EnsureOwner(ctx context.Context, id string, at model.Millis) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	CountActiveDevices(ctx context.Context, ownerID string) (int, error)
	CreateDevice(ctx context.Context, d *model.Device, tokenHash string, expiresAt model.Millis) error
	RefreshDeviceToken(ctx context.Context, deviceID, tokenHash string, expiresAt, at model.Millis) error
	DeviceByTokenHash(ctx context.Context, hash string, now model.Millis) (*model.Device, error)
	TouchDevice(ctx context.Context, id string, at model.Millis) error

	HasBatch(ctx context.Context, batchID string) (bool, error)
	EventIDsForBatch(ctx context.Context, batchID string) ([]string, error)
	ExistingEventIDs(ctx context.Context, ids []string) (map[string]bool, error)
	MaxServerTS(ctx context.Context) (model.Millis, error)
	EventsSince(ctx context.Context, since model.Millis, limit int, deviceID string) ([]model.Event, error)
	IngestBatch(ctx context.Context, batch cloudstore.Batch, events []model.Event) error

	Assets(ctx context.Context) ([]*model.Asset, error)
	GetStatus(ctx context.Context) (*cloudstore.Status, error)
}

var _ Store = (*cloudstore.Store)(nil)
