package core_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"mediasync/internal/core"
	"mediasync/internal/model"
	"mediasync/internal/objectstore"
	"mediasync/internal/testutil"
)

type integrityHarness struct {
	store   *testutil.MemoryLocalStore
	objects *objectstore.MemoryStore
	fs      *testutil.MockFilesystem
	gw      *testutil.FakeGateway
	checker *core.IntegrityChecker
}

func newIntegrityHarness(t *testing.T) *integrityHarness {
	t.Helper()

	h := &integrityHarness{
		store:   testutil.NewMemoryLocalStore(),
		objects: objectstore.NewMemoryStore(),
		fs:      testutil.NewMockFilesystem(),
		gw:      testutil.NewFakeGateway(),
	}
	h.checker = core.NewIntegrityChecker(h.store, h.objects, h.gw, h.fs, core.NewNopLogger())
	return h
}

// addObject stores dummy bytes under key.
func (h *integrityHarness) addObject(t *testing.T, key string) {
	t.Helper()
	data := []byte("object bytes")
	if err := h.objects.Put(context.Background(), key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put(%s) error: %v", key, err)
	}
}

func TestCheckLocalAssets(t *testing.T) {
	h := newIntegrityHarness(t)
	ctx := context.Background()

	// Healthy: object present, file present.
	h.addObject(t, "assets/ok.png")
	h.fs.AddFile("/lib/ok.png", []byte("a"))
	h.store.UpsertAsset(&model.Asset{
		ID: "ok", Name: "ok.png", LocalPath: "/lib/ok.png",
		ObjectKey: "assets/ok.png", UpdatedAt: 1000,
	})

	// Object lost remotely, file still here: repairable.
	h.fs.AddFile("/lib/lost.png", []byte("b"))
	h.store.UpsertAsset(&model.Asset{
		ID: "lost", Name: "lost.png", LocalPath: "/lib/lost.png",
		ObjectKey: "assets/lost.png", UpdatedAt: 1000,
	})

	// Object present, local file gone: not repairable from here.
	h.addObject(t, "assets/nolocal.png")
	h.store.UpsertAsset(&model.Asset{
		ID: "nolocal", Name: "nolocal.png", LocalPath: "/lib/nolocal.png",
		ObjectKey: "assets/nolocal.png", UpdatedAt: 1000,
	})

	// Never uploaded but file waiting: repairable.
	h.fs.AddFile("/lib/new.png", []byte("c"))
	h.store.UpsertAsset(&model.Asset{
		ID: "new", Name: "new.png", LocalPath: "/lib/new.png", UpdatedAt: 1000,
	})

	// Deleted rows are out of scope.
	h.store.UpsertAsset(&model.Asset{
		ID: "gone", Name: "gone.png", ObjectKey: "assets/gone.png",
		Deleted: true, DeletedAt: 500, UpdatedAt: 1000,
	})

	findings, err := h.checker.CheckLocalAssets(ctx)
	if err != nil {
		t.Fatalf("CheckLocalAssets() error: %v", err)
	}

	byID := make(map[string]core.Finding, len(findings))
	for _, f := range findings {
		byID[f.AssetID] = f
	}
	if len(findings) != 3 {
		t.Fatalf("got %d findings, want 3: %v", len(findings), byID)
	}
	if _, ok := byID["ok"]; ok {
		t.Error("healthy asset reported")
	}
	if f := byID["lost"]; !f.Repairable || f.RemoteExists || !f.LocalExists {
		t.Errorf("lost = %+v, want repairable missing-remote", f)
	}
	if f := byID["nolocal"]; f.Repairable || !f.RemoteExists || f.LocalExists {
		t.Errorf("nolocal = %+v, want non-repairable missing-local", f)
	}
	if f := byID["new"]; !f.Repairable || !f.LocalExists {
		t.Errorf("new = %+v, want repairable never-uploaded", f)
	}
}

func TestCheckLocalAssets_Batches(t *testing.T) {
	h := newIntegrityHarness(t)
	ctx := context.Background()

	// Enough assets to span several existence-check batches, every tenth
	// one missing remotely.
	const total = 250
	missing := 0
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("asset-%03d", i)
		key := "assets/" + id + ".png"
		path := "/lib/" + id + ".png"
		h.fs.AddFile(path, []byte("x"))
		if i%10 != 0 {
			h.addObject(t, key)
		} else {
			missing++
		}
		h.store.UpsertAsset(&model.Asset{
			ID: id, Name: id + ".png", LocalPath: path, ObjectKey: key, UpdatedAt: 1000,
		})
	}

	findings, err := h.checker.CheckLocalAssets(ctx)
	if err != nil {
		t.Fatalf("CheckLocalAssets() error: %v", err)
	}
	if len(findings) != missing {
		t.Errorf("got %d findings, want %d", len(findings), missing)
	}
	for _, f := range findings {
		if !f.Repairable {
			t.Errorf("finding %s not repairable", f.AssetID)
		}
	}
}

func TestCheckLocalAssets_Cancelled(t *testing.T) {
	h := newIntegrityHarness(t)

	h.store.UpsertAsset(&model.Asset{
		ID: "a", Name: "a.png", ObjectKey: "assets/a.png", UpdatedAt: 1000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.checker.CheckLocalAssets(ctx); err == nil {
		t.Error("CheckLocalAssets() with cancelled context succeeded, want error")
	}
}

func TestCheckOrphanObjects(t *testing.T) {
	h := newIntegrityHarness(t)
	ctx := context.Background()

	h.addObject(t, "assets/local.png")
	h.addObject(t, "assets/cloud.png")
	h.addObject(t, "assets/orphan.png")

	h.store.UpsertAsset(&model.Asset{
		ID: "l", Name: "l.png", ObjectKey: "assets/local.png", UpdatedAt: 1000,
	})
	h.gw.Cloud = []*model.Asset{
		{ID: "c", Name: "c.png", ObjectKey: "assets/cloud.png", UpdatedAt: 1000},
	}

	report, err := h.checker.CheckOrphanObjects(ctx)
	if err != nil {
		t.Fatalf("CheckOrphanObjects() error: %v", err)
	}
	if report.TotalRemote != 3 {
		t.Errorf("TotalRemote = %d, want 3", report.TotalRemote)
	}
	if report.TotalReferenced != 2 {
		t.Errorf("TotalReferenced = %d, want 2", report.TotalReferenced)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].Key != "assets/orphan.png" {
		t.Errorf("Orphans = %+v, want exactly assets/orphan.png", report.Orphans)
	}
}

func TestCompareLocalVsCloud(t *testing.T) {
	h := newIntegrityHarness(t)
	ctx := context.Background()

	h.store.UpsertAsset(asset("both-clean", 2000, nil))
	h.store.UpsertAsset(asset("both-conflict", 2000, nil))
	h.store.UpsertAsset(asset("local-only", 2000, nil))
	h.gw.Cloud = []*model.Asset{
		asset("both-clean", 2000, nil),
		asset("both-conflict", 3000, nil),
		asset("cloud-only", 2000, nil),
	}

	diff, err := h.checker.CompareLocalVsCloud(ctx)
	if err != nil {
		t.Fatalf("CompareLocalVsCloud() error: %v", err)
	}
	if len(diff.OnlyLocal) != 1 || diff.OnlyLocal[0].ID != "local-only" {
		t.Errorf("OnlyLocal = %+v, want local-only", diff.OnlyLocal)
	}
	if len(diff.OnlyCloud) != 1 || diff.OnlyCloud[0].ID != "cloud-only" {
		t.Errorf("OnlyCloud = %+v, want cloud-only", diff.OnlyCloud)
	}
	if len(diff.Conflicts) != 1 || diff.Conflicts[0].AssetID != "both-conflict" {
		t.Fatalf("Conflicts = %+v, want both-conflict", diff.Conflicts)
	}
	if diff.Conflicts[0].Recommendation != core.UseCloud {
		t.Errorf("Recommendation = %s, want use_cloud", diff.Conflicts[0].Recommendation)
	}
}
