package localdb

import (
	"testing"

	"mediasync/internal/model"
)

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	s := NewSQLiteStoreFromDB(db)
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func testAsset(id string, updatedAt model.Millis) *model.Asset {
	return &model.Asset{
		ID:        id,
		Name:      "pic-" + id + ".png",
		MimeType:  "image/png",
		Size:      1024,
		Width:     64,
		Height:    64,
		Source:    "import",
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestSQLiteStore_GetAsset(t *testing.T) {
	t.Run("returns nil when asset not found", func(t *testing.T) {
		s := newTestStore(t)

		a, err := s.GetAsset("missing")
		if err != nil {
			t.Fatalf("GetAsset() error = %v", err)
		}
		if a != nil {
			t.Errorf("GetAsset() = %v, want nil", a)
		}
	})

	t.Run("finds existing asset", func(t *testing.T) {
		s := newTestStore(t)

		want := testAsset("a1", 1000)
		if err := s.UpsertAsset(want); err != nil {
			t.Fatalf("UpsertAsset() error = %v", err)
		}

		got, err := s.GetAsset("a1")
		if err != nil {
			t.Fatalf("GetAsset() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetAsset() returned nil, want asset")
		}
		if got.Name != want.Name {
			t.Errorf("Name = %v, want %v", got.Name, want.Name)
		}
		if got.UpdatedAt != 1000 {
			t.Errorf("UpdatedAt = %v, want 1000", got.UpdatedAt)
		}
	})
}

func TestSQLiteStore_UpsertAsset(t *testing.T) {
	t.Run("updates existing row in place", func(t *testing.T) {
		s := newTestStore(t)

		a := testAsset("a1", 1000)
		if err := s.UpsertAsset(a); err != nil {
			t.Fatalf("UpsertAsset() error = %v", err)
		}

		a.Name = "renamed.png"
		a.UpdatedAt = 2000
		if err := s.UpsertAsset(a); err != nil {
			t.Fatalf("UpsertAsset() error = %v", err)
		}

		got, err := s.GetAsset("a1")
		if err != nil {
			t.Fatalf("GetAsset() error = %v", err)
		}
		if got.Name != "renamed.png" {
			t.Errorf("Name = %v, want renamed.png", got.Name)
		}

		all, err := s.ListAssets(true)
		if err != nil {
			t.Fatalf("ListAssets() error = %v", err)
		}
		if len(all) != 1 {
			t.Errorf("ListAssets() returned %d assets, want 1", len(all))
		}
	})
}

func TestSQLiteStore_ListAssets(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.UpsertAsset(testAsset("a2", 2000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.SoftDeleteAsset("a2", 3000); err != nil {
		t.Fatalf("SoftDeleteAsset() error = %v", err)
	}

	live, err := s.ListAssets(false)
	if err != nil {
		t.Fatalf("ListAssets(false) error = %v", err)
	}
	if len(live) != 1 || live[0].ID != "a1" {
		t.Errorf("ListAssets(false) = %v, want only a1", live)
	}

	all, err := s.ListAssets(true)
	if err != nil {
		t.Fatalf("ListAssets(true) error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListAssets(true) returned %d assets, want 2", len(all))
	}
}

func TestSQLiteStore_SoftDeleteAsset(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.SoftDeleteAsset("a1", 5000); err != nil {
		t.Fatalf("SoftDeleteAsset() error = %v", err)
	}

	got, err := s.GetAsset("a1")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if !got.Deleted {
		t.Error("Deleted = false, want true")
	}
	if got.DeletedAt != 5000 {
		t.Errorf("DeletedAt = %v, want 5000", got.DeletedAt)
	}
	if got.UpdatedAt != 5000 {
		t.Errorf("UpdatedAt = %v, want 5000", got.UpdatedAt)
	}
	if got.Synced {
		t.Error("Synced = true, want false after delete")
	}

	t.Run("missing asset is an error", func(t *testing.T) {
		if err := s.SoftDeleteAsset("nope", 5000); err == nil {
			t.Error("SoftDeleteAsset() error = nil, want error")
		}
	})
}

func TestSQLiteStore_SetObjectKeys(t *testing.T) {
	s := newTestStore(t)

	a := testAsset("a1", 1000)
	a.KeyPending = true
	a.Synced = true
	if err := s.UpsertAsset(a); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}

	if err := s.SetObjectKeys("a1", "assets/k1.png", "thumbs/k1.png"); err != nil {
		t.Fatalf("SetObjectKeys() error = %v", err)
	}

	got, err := s.GetAsset("a1")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if got.ObjectKey != "assets/k1.png" {
		t.Errorf("ObjectKey = %v, want assets/k1.png", got.ObjectKey)
	}
	if got.ThumbKey != "thumbs/k1.png" {
		t.Errorf("ThumbKey = %v, want thumbs/k1.png", got.ThumbKey)
	}
	if got.KeyPending {
		t.Error("KeyPending = true, want false")
	}
	if got.Synced {
		t.Error("Synced = true, want false after key change")
	}
}

func TestSQLiteStore_AssetsModifiedSince(t *testing.T) {
	s := newTestStore(t)

	old := testAsset("a1", 1000)
	old.Synced = true
	if err := s.UpsertAsset(old); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}

	stale := testAsset("a2", 500)
	// Never synced: must surface regardless of timestamp.
	if err := s.UpsertAsset(stale); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}

	fresh := testAsset("a3", 3000)
	fresh.Synced = true
	if err := s.UpsertAsset(fresh); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}

	got, err := s.AssetsModifiedSince(2000)
	if err != nil {
		t.Fatalf("AssetsModifiedSince() error = %v", err)
	}
	ids := map[string]bool{}
	for _, a := range got {
		ids[a.ID] = true
	}
	if len(got) != 2 || !ids["a2"] || !ids["a3"] {
		t.Errorf("AssetsModifiedSince(2000) = %v, want a2 and a3", ids)
	}
}

func TestSQLiteStore_MarkAssetsSynced(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.UpsertAsset(testAsset("a2", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}

	if err := s.MarkAssetsSynced([]string{"a1"}); err != nil {
		t.Fatalf("MarkAssetsSynced() error = %v", err)
	}

	a1, _ := s.GetAsset("a1")
	a2, _ := s.GetAsset("a2")
	if !a1.Synced {
		t.Error("a1.Synced = false, want true")
	}
	if a2.Synced {
		t.Error("a2.Synced = true, want false")
	}

	// Empty slice is a no-op, not an error.
	if err := s.MarkAssetsSynced(nil); err != nil {
		t.Errorf("MarkAssetsSynced(nil) error = %v", err)
	}
}

func TestSQLiteStore_DeletedBefore(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.UpsertAsset(testAsset("a2", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.SoftDeleteAsset("a1", 2000); err != nil {
		t.Fatalf("SoftDeleteAsset() error = %v", err)
	}
	if err := s.SoftDeleteAsset("a2", 9000); err != nil {
		t.Fatalf("SoftDeleteAsset() error = %v", err)
	}

	got, err := s.DeletedBefore(5000)
	if err != nil {
		t.Fatalf("DeletedBefore() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("DeletedBefore(5000) = %v, want only a1", got)
	}
}

func TestSQLiteStore_Tags(t *testing.T) {
	s := newTestStore(t)

	tag := &model.Tag{ID: "t1", Name: "cats", Color: "#ff8800", CreatedAt: 1000, UpdatedAt: 1000}
	if err := s.UpsertTag(tag); err != nil {
		t.Fatalf("UpsertTag() error = %v", err)
	}

	t.Run("get and list", func(t *testing.T) {
		got, err := s.GetTag("t1")
		if err != nil {
			t.Fatalf("GetTag() error = %v", err)
		}
		if got == nil || got.Name != "cats" {
			t.Errorf("GetTag() = %v, want cats", got)
		}

		tags, err := s.ListTags()
		if err != nil {
			t.Fatalf("ListTags() error = %v", err)
		}
		if len(tags) != 1 {
			t.Errorf("ListTags() returned %d tags, want 1", len(tags))
		}
	})

	t.Run("missing tag returns nil", func(t *testing.T) {
		got, err := s.GetTag("nope")
		if err != nil {
			t.Fatalf("GetTag() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetTag() = %v, want nil", got)
		}
	})

	t.Run("modified since and mark synced", func(t *testing.T) {
		got, err := s.TagsModifiedSince(500)
		if err != nil {
			t.Fatalf("TagsModifiedSince() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("TagsModifiedSince(500) returned %d tags, want 1", len(got))
		}

		if err := s.MarkTagsSynced([]string{"t1"}); err != nil {
			t.Fatalf("MarkTagsSynced() error = %v", err)
		}
		got, err = s.TagsModifiedSince(2000)
		if err != nil {
			t.Fatalf("TagsModifiedSince() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("TagsModifiedSince(2000) returned %d tags, want 0", len(got))
		}
	})

	t.Run("remove clears links too", func(t *testing.T) {
		if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
			t.Fatalf("UpsertAsset() error = %v", err)
		}
		if err := s.AddLink(model.AssetTag{AssetID: "a1", TagID: "t1", CreatedAt: 1000}); err != nil {
			t.Fatalf("AddLink() error = %v", err)
		}

		if err := s.RemoveTag("t1"); err != nil {
			t.Fatalf("RemoveTag() error = %v", err)
		}
		links, err := s.LinksCreatedSince(0)
		if err != nil {
			t.Fatalf("LinksCreatedSince() error = %v", err)
		}
		if len(links) != 0 {
			t.Errorf("links remain after RemoveTag: %v", links)
		}
	})
}

func TestSQLiteStore_Links(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.UpsertTag(&model.Tag{ID: "t1", Name: "dogs", CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
		t.Fatalf("UpsertTag() error = %v", err)
	}

	link := model.AssetTag{AssetID: "a1", TagID: "t1", CreatedAt: 2000}
	if err := s.AddLink(link); err != nil {
		t.Fatalf("AddLink() error = %v", err)
	}
	// Adding the same link again is idempotent.
	if err := s.AddLink(link); err != nil {
		t.Fatalf("AddLink() second call error = %v", err)
	}

	links, err := s.LinksCreatedSince(1000)
	if err != nil {
		t.Fatalf("LinksCreatedSince() error = %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("LinksCreatedSince() returned %d links, want 1", len(links))
	}

	if err := s.RemoveLink("a1", "t1"); err != nil {
		t.Fatalf("RemoveLink() error = %v", err)
	}
	links, err = s.LinksCreatedSince(0)
	if err != nil {
		t.Fatalf("LinksCreatedSince() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("links remain after RemoveLink: %v", links)
	}
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetState("checkpoint")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if v != "" {
		t.Errorf("GetState() = %q, want empty for unset key", v)
	}

	if err := s.SetState("checkpoint", "1234"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := s.SetState("checkpoint", "5678"); err != nil {
		t.Fatalf("SetState() overwrite error = %v", err)
	}

	v, err = s.GetState("checkpoint")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if v != "5678" {
		t.Errorf("GetState() = %q, want 5678", v)
	}
}

func TestSQLiteStore_RemoveAsset(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAsset(testAsset("a1", 1000)); err != nil {
		t.Fatalf("UpsertAsset() error = %v", err)
	}
	if err := s.UpsertTag(&model.Tag{ID: "t1", Name: "x", CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
		t.Fatalf("UpsertTag() error = %v", err)
	}
	if err := s.AddLink(model.AssetTag{AssetID: "a1", TagID: "t1", CreatedAt: 1000}); err != nil {
		t.Fatalf("AddLink() error = %v", err)
	}

	if err := s.RemoveAsset("a1"); err != nil {
		t.Fatalf("RemoveAsset() error = %v", err)
	}

	got, err := s.GetAsset("a1")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetAsset() = %v, want nil after removal", got)
	}
	links, err := s.LinksCreatedSince(0)
	if err != nil {
		t.Fatalf("LinksCreatedSince() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("links remain after RemoveAsset: %v", links)
	}
}
