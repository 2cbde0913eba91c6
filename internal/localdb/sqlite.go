package localdb

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"mediasync/internal/localdb/migrations"
	"mediasync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Schema is the full local schema, usable directly for in-memory test
// databases without running the migration machinery.
//
//go:embed migrations/files/000001_init.up.sql
var Schema string

const assetColumns = `id, name, local_path, mime_type, size, width, height, source,
	object_key, thumb_key, key_pending, synced, deleted, deleted_at,
	use_count, last_used_at, created_at, updated_at, schema_version`

// SQLiteStore implements core.LocalStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a SQLite database at path (":memory:" for in-memory)
// and verifies its schema version.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for the schema and for closing the connection via Close.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Asset operations

func (s *SQLiteStore) GetAsset(id string) (*model.Asset, error) {
	row := s.db.QueryRow("SELECT "+assetColumns+" FROM assets WHERE id = ?", id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding asset: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssets(includeDeleted bool) ([]*model.Asset, error) {
	query := "SELECT " + assetColumns + " FROM assets"
	if !includeDeleted {
		query += " WHERE deleted = 0"
	}
	query += " ORDER BY created_at"
	return s.queryAssets(query)
}

func (s *SQLiteStore) UpsertAsset(a *model.Asset) error {
	_, err := s.db.Exec(`INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, local_path = excluded.local_path,
			mime_type = excluded.mime_type, size = excluded.size,
			width = excluded.width, height = excluded.height,
			source = excluded.source, object_key = excluded.object_key,
			thumb_key = excluded.thumb_key, key_pending = excluded.key_pending,
			synced = excluded.synced, deleted = excluded.deleted,
			deleted_at = excluded.deleted_at, use_count = excluded.use_count,
			last_used_at = excluded.last_used_at, created_at = excluded.created_at,
			updated_at = excluded.updated_at, schema_version = excluded.schema_version`,
		a.ID, a.Name, a.LocalPath, a.MimeType, a.Size, a.Width, a.Height, a.Source,
		a.ObjectKey, a.ThumbKey, a.KeyPending, a.Synced, a.Deleted, a.DeletedAt,
		a.UseCount, a.LastUsedAt, a.CreatedAt, a.UpdatedAt, a.SchemaVersion)
	if err != nil {
		return fmt.Errorf("upserting asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SetObjectKeys(id, objectKey, thumbKey string) error {
	res, err := s.db.Exec(`UPDATE assets
		SET object_key = ?, thumb_key = ?, key_pending = 0, synced = 0
		WHERE id = ?`, objectKey, thumbKey, id)
	if err != nil {
		return fmt.Errorf("setting object keys for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) MarkKeyPending(id string, pending bool) error {
	res, err := s.db.Exec("UPDATE assets SET key_pending = ? WHERE id = ?", pending, id)
	if err != nil {
		return fmt.Errorf("marking key pending for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetLocalPath(id, path string) error {
	res, err := s.db.Exec("UPDATE assets SET local_path = ? WHERE id = ?", path, id)
	if err != nil {
		return fmt.Errorf("setting local path for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SoftDeleteAsset(id string, at model.Millis) error {
	res, err := s.db.Exec(`UPDATE assets
		SET deleted = 1, deleted_at = ?, updated_at = ?, synced = 0
		WHERE id = ?`, at, at, id)
	if err != nil {
		return fmt.Errorf("soft deleting asset %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) RemoveAsset(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM asset_tags WHERE asset_id = ?", id); err != nil {
		return fmt.Errorf("removing asset links: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM assets WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing asset row: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AssetsModifiedSince(since model.Millis) ([]*model.Asset, error) {
	// Unsynced rows are included regardless of timestamp: a row whose push
	// was skipped must not fall behind an advancing checkpoint.
	return s.queryAssets("SELECT "+assetColumns+` FROM assets
		WHERE synced = 0 OR updated_at > ? ORDER BY updated_at`, since)
}

func (s *SQLiteStore) DeletedBefore(cutoff model.Millis) ([]*model.Asset, error) {
	return s.queryAssets("SELECT "+assetColumns+` FROM assets
		WHERE deleted = 1 AND deleted_at < ? ORDER BY deleted_at`, cutoff)
}

func (s *SQLiteStore) MarkAssetsSynced(ids []string) error {
	return s.markSynced("assets", ids)
}

// Tag operations

func (s *SQLiteStore) GetTag(id string) (*model.Tag, error) {
	row := s.db.QueryRow(`SELECT id, name, color, use_count, synced, created_at, updated_at
		FROM tags WHERE id = ?`, id)
	t, err := scanTag(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding tag: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTags() ([]*model.Tag, error) {
	return s.queryTags(`SELECT id, name, color, use_count, synced, created_at, updated_at
		FROM tags ORDER BY name`)
}

func (s *SQLiteStore) UpsertTag(t *model.Tag) error {
	_, err := s.db.Exec(`INSERT INTO tags (id, name, color, use_count, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, color = excluded.color,
			use_count = excluded.use_count, synced = excluded.synced,
			created_at = excluded.created_at, updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Color, t.UseCount, t.Synced, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting tag %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveTag(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM asset_tags WHERE tag_id = ?", id); err != nil {
		return fmt.Errorf("removing tag links: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tags WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing tag row: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) TagsModifiedSince(since model.Millis) ([]*model.Tag, error) {
	return s.queryTags(`SELECT id, name, color, use_count, synced, created_at, updated_at
		FROM tags WHERE synced = 0 OR updated_at > ? ORDER BY updated_at`, since)
}

func (s *SQLiteStore) MarkTagsSynced(ids []string) error {
	return s.markSynced("tags", ids)
}

// Association operations

func (s *SQLiteStore) AddLink(l model.AssetTag) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO asset_tags (asset_id, tag_id, created_at)
		VALUES (?, ?, ?)`, l.AssetID, l.TagID, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("adding link: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveLink(assetID, tagID string) error {
	_, err := s.db.Exec("DELETE FROM asset_tags WHERE asset_id = ? AND tag_id = ?", assetID, tagID)
	if err != nil {
		return fmt.Errorf("removing link: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LinksCreatedSince(since model.Millis) ([]model.AssetTag, error) {
	rows, err := s.db.Query(`SELECT asset_id, tag_id, created_at FROM asset_tags
		WHERE created_at > ? ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var links []model.AssetTag
	for rows.Next() {
		var l model.AssetTag
		if err := rows.Scan(&l.AssetID, &l.TagID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Sync state

func (s *SQLiteStore) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing state %s: %w", key, err)
	}
	return nil
}

// helpers

func (s *SQLiteStore) markSynced(table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec("UPDATE "+table+" SET synced = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("marking %s synced: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) queryAssets(query string, args ...any) ([]*model.Asset, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *SQLiteStore) queryTags(query string, args ...any) ([]*model.Tag, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []*model.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*model.Asset, error) {
	var a model.Asset
	err := row.Scan(&a.ID, &a.Name, &a.LocalPath, &a.MimeType, &a.Size, &a.Width,
		&a.Height, &a.Source, &a.ObjectKey, &a.ThumbKey, &a.KeyPending, &a.Synced,
		&a.Deleted, &a.DeletedAt, &a.UseCount, &a.LastUsedAt, &a.CreatedAt,
		&a.UpdatedAt, &a.SchemaVersion)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTag(row scanner) (*model.Tag, error) {
	var t model.Tag
	err := row.Scan(&t.ID, &t.Name, &t.Color, &t.UseCount, &t.Synced, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("asset %s not found", id)
	}
	return nil
}
