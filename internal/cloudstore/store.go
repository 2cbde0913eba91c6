package cloudstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"mediasync/internal/model"
)

var ErrNotFound = errors.New("not found")

const assetColumns = `id, name, mime_type, size, width, height, source, object_key, thumb_key,
	deleted, deleted_at, use_count, last_used_at, created_at, updated_at, schema_version`

const eventColumns = `id, kind, entity_type, entity_id, payload, device_id, client_ts,
	server_ts, batch_id, parent_id, schema_version`

// Store is the authoritative server-side store: the append-only event log
// plus the materialized record state derived from it.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the MySQL database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// Owners and devices

// EnsureOwner creates the owner row if it does not exist yet.
func (s *Store) EnsureOwner(ctx context.Context, id string, at model.Millis) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT IGNORE INTO owners (id, created_at) VALUES (?, ?)", id, at)
	if err != nil {
		return fmt.Errorf("ensuring owner %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d,
		`SELECT id, owner_id, name, type, platform, active, registered_at, last_seen_at
		FROM devices WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding device %s: %w", id, err)
	}
	return &d, nil
}

func (s *Store) CountActiveDevices(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM devices WHERE owner_id = ? AND active = 1", ownerID)
	if err != nil {
		return 0, fmt.Errorf("counting devices for %s: %w", ownerID, err)
	}
	return n, nil
}

// CreateDevice registers a new device with its credential.
func (s *Store) CreateDevice(ctx context.Context, d *model.Device, tokenHash string, expiresAt model.Millis) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, owner_id, name, type, platform, active, token_hash,
			token_expires_at, registered_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Name, d.Type, d.Platform, d.Active, tokenHash,
		expiresAt, d.RegisteredAt, d.LastSeenAt)
	if err != nil {
		return fmt.Errorf("creating device %s: %w", d.ID, err)
	}
	return nil
}

// RefreshDeviceToken rotates the credential of an existing device.
func (s *Store) RefreshDeviceToken(ctx context.Context, deviceID, tokenHash string, expiresAt, at model.Millis) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET token_hash = ?, token_expires_at = ?, last_seen_at = ?, active = 1
		WHERE id = ?`, tokenHash, expiresAt, at, deviceID)
	if err != nil {
		return fmt.Errorf("refreshing token for %s: %w", deviceID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeviceByTokenHash resolves a bearer credential to its device. Expired or
// inactive credentials resolve to nil.
func (s *Store) DeviceByTokenHash(ctx context.Context, hash string, now model.Millis) (*model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d,
		`SELECT id, owner_id, name, type, platform, active, registered_at, last_seen_at
		FROM devices WHERE token_hash = ? AND active = 1 AND token_expires_at > ?`, hash, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	return &d, nil
}

func (s *Store) TouchDevice(ctx context.Context, id string, at model.Millis) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE devices SET last_seen_at = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("touching device %s: %w", id, err)
	}
	return nil
}

// Event log

// HasBatch reports whether a batch id has already been accepted.
func (s *Store) HasBatch(ctx context.Context, batchID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM batches WHERE id = ?", batchID)
	if err != nil {
		return false, fmt.Errorf("checking batch %s: %w", batchID, err)
	}
	return n > 0, nil
}

// EventIDsForBatch returns the ids of all events accepted under a batch.
func (s *Store) EventIDsForBatch(ctx context.Context, batchID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM events WHERE batch_id = ? ORDER BY server_ts", batchID)
	if err != nil {
		return nil, fmt.Errorf("listing batch events: %w", err)
	}
	return ids, nil
}

// ExistingEventIDs reports which of the given event ids are already in the log.
func (s *Store) ExistingEventIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT id FROM events WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var found []string
	if err := s.db.SelectContext(ctx, &found, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("checking event ids: %w", err)
	}
	for _, id := range found {
		result[id] = true
	}
	return result, nil
}

// MaxServerTS returns the highest server timestamp in the log, 0 for an
// empty log. Used to seed the authority clock at startup.
func (s *Store) MaxServerTS(ctx context.Context) (model.Millis, error) {
	var ts model.Millis
	err := s.db.GetContext(ctx, &ts, "SELECT COALESCE(MAX(server_ts), 0) FROM events")
	if err != nil {
		return 0, fmt.Errorf("reading max server timestamp: %w", err)
	}
	return ts, nil
}

// EventsSince returns events with server timestamp strictly greater than
// since, ascending, at most limit. A non-empty deviceID restricts the page
// to that device's events.
func (s *Store) EventsSince(ctx context.Context, since model.Millis, limit int, deviceID string) ([]model.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE server_ts > ?"
	args := []any{since}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY server_ts LIMIT ?"
	args = append(args, limit)

	var events []model.Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("listing events since %d: %w", since, err)
	}
	return events, nil
}

// IngestBatch persists a batch together with its already-stamped events and
// materializes their effects, all in one transaction. Events must carry
// unique, ascending server timestamps.
func (s *Store) IngestBatch(ctx context.Context, batch Batch, events []model.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer tx.Rollback()

	if batch.ID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO batches (id, device_id, event_count, server_ts, received_at)
			VALUES (?, ?, ?, ?, ?)`,
			batch.ID, batch.DeviceID, batch.EventCount, batch.ServerTS, batch.ReceivedAt)
		if err != nil {
			return fmt.Errorf("recording batch %s: %w", batch.ID, err)
		}
	}

	for _, e := range events {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Kind, e.EntityType, e.EntityID, []byte(e.Payload), e.DeviceID,
			e.ClientTS, e.ServerTS, e.BatchID, e.ParentID, e.SchemaVersion)
		if err != nil {
			return fmt.Errorf("appending event %s: %w", e.ID, err)
		}
		if err := s.applyEvent(ctx, tx, e); err != nil {
			return fmt.Errorf("materializing event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Materialized record state

// Assets returns the full materialized asset snapshot, tombstones included.
func (s *Store) Assets(ctx context.Context) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := s.db.SelectContext(ctx, &assets,
		"SELECT "+assetColumns+" FROM assets ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	return assets, nil
}

// GetStatus returns log and record counts for the status endpoint.
func (s *Store) GetStatus(ctx context.Context) (*Status, error) {
	var st Status
	err := s.db.GetContext(ctx, &st, `SELECT
		(SELECT COUNT(*) FROM events) AS events,
		(SELECT COUNT(*) FROM assets WHERE deleted = 0) AS assets,
		(SELECT COUNT(*) FROM tags) AS tags,
		(SELECT COUNT(*) FROM devices WHERE active = 1) AS devices,
		(SELECT COALESCE(MAX(server_ts), 0) FROM events) AS last_event_ts`)
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	return &st, nil
}

// applyEvent folds one event into the materialized tables. Application is
// last-writer-wins on the record timestamps, so replaying the log in any
// server order converges.
func (s *Store) applyEvent(ctx context.Context, tx *sqlx.Tx, e model.Event) error {
	switch e.Kind {
	case model.KindAssetUpsert:
		var a model.Asset
		if err := unmarshalPayload(e.Payload, &a); err != nil {
			return err
		}
		return s.applyAssetUpsert(ctx, tx, &a)
	case model.KindAssetDelete:
		var p model.DeletePayload
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return err
		}
		return s.applyAssetDelete(ctx, tx, p)
	case model.KindTagUpsert:
		var t model.Tag
		if err := unmarshalPayload(e.Payload, &t); err != nil {
			return err
		}
		return s.applyTagUpsert(ctx, tx, &t)
	case model.KindTagDelete:
		var p model.DeletePayload
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return err
		}
		return s.applyTagDelete(ctx, tx, p)
	case model.KindLinkAdd:
		var l model.AssetTag
		if err := unmarshalPayload(e.Payload, &l); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO asset_tags (asset_id, tag_id, created_at) VALUES (?, ?, ?)",
			l.AssetID, l.TagID, l.CreatedAt)
		return err
	case model.KindLinkRemove:
		var l model.AssetTag
		if err := unmarshalPayload(e.Payload, &l); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM asset_tags WHERE asset_id = ? AND tag_id = ?", l.AssetID, l.TagID)
		return err
	default:
		// Unknown kinds stay in the log but have no materialized effect.
		return nil
	}
}

func (s *Store) applyAssetUpsert(ctx context.Context, tx *sqlx.Tx, a *model.Asset) error {
	existing, err := s.assetUpdatedAt(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	if existing != nil && *existing > a.UpdatedAt {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), mime_type = VALUES(mime_type), size = VALUES(size),
			width = VALUES(width), height = VALUES(height), source = VALUES(source),
			object_key = VALUES(object_key), thumb_key = VALUES(thumb_key),
			deleted = VALUES(deleted), deleted_at = VALUES(deleted_at),
			use_count = VALUES(use_count), last_used_at = VALUES(last_used_at),
			updated_at = VALUES(updated_at), schema_version = VALUES(schema_version)`,
		a.ID, a.Name, a.MimeType, a.Size, a.Width, a.Height, a.Source,
		a.ObjectKey, a.ThumbKey, a.Deleted, a.DeletedAt, a.UseCount,
		a.LastUsedAt, a.CreatedAt, a.UpdatedAt, a.SchemaVersion)
	return err
}

func (s *Store) applyAssetDelete(ctx context.Context, tx *sqlx.Tx, p model.DeletePayload) error {
	existing, err := s.assetUpdatedAt(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		// Tombstone for a record this store never saw.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assets (id, name, mime_type, deleted, deleted_at, created_at, updated_at, schema_version)
			VALUES (?, '', '', 1, ?, ?, ?, 1)`,
			p.ID, p.DeletedAt, p.UpdatedAt, p.UpdatedAt)
		return err
	}
	if *existing > p.UpdatedAt {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE assets SET deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ?",
		p.DeletedAt, p.UpdatedAt, p.ID)
	return err
}

func (s *Store) applyTagUpsert(ctx context.Context, tx *sqlx.Tx, t *model.Tag) error {
	var existing model.Millis
	err := tx.GetContext(ctx, &existing, "SELECT updated_at FROM tags WHERE id = ?", t.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && existing > t.UpdatedAt {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), color = VALUES(color),
			use_count = VALUES(use_count), updated_at = VALUES(updated_at)`,
		t.ID, t.Name, t.Color, t.UseCount, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) applyTagDelete(ctx context.Context, tx *sqlx.Tx, p model.DeletePayload) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM asset_tags WHERE tag_id = ?", p.ID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", p.ID)
	return err
}

func (s *Store) assetUpdatedAt(ctx context.Context, tx *sqlx.Tx, id string) (*model.Millis, error) {
	var ts model.Millis
	err := tx.GetContext(ctx, &ts, "SELECT updated_at FROM assets WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func unmarshalPayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
