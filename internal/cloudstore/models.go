package cloudstore

import "mediasync/internal/model"

// Batch records one accepted ingestion batch. Replays of the same batch id
// short-circuit without touching the event log.
type Batch struct {
	ID         string       `db:"id"`
	DeviceID   string       `db:"device_id"`
	EventCount int          `db:"event_count"`
	ServerTS   model.Millis `db:"server_ts"`
	ReceivedAt model.Millis `db:"received_at"`
}

// DeviceAuth is a device row joined with its credential state.
type DeviceAuth struct {
	model.Device
	TokenHash      string       `db:"token_hash"`
	TokenExpiresAt model.Millis `db:"token_expires_at"`
}

// Status summarizes the cloud store for the status endpoint.
type Status struct {
	Events      int          `db:"events"`
	Assets      int          `db:"assets"`
	Tags        int          `db:"tags"`
	Devices     int          `db:"devices"`
	LastEventTS model.Millis `db:"last_event_ts"`
}
