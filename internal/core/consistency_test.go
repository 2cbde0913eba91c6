package core_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"mediasync/internal/core"
	"mediasync/internal/model"
	"mediasync/internal/objectstore"
	"mediasync/internal/testutil"
)

type consistencyHarness struct {
	store       *testutil.MemoryLocalStore
	objects     *objectstore.MemoryStore
	fs          *testutil.MockFilesystem
	gw          *testutil.FakeGateway
	clock       *testutil.StubClock
	consistency *core.Consistency
}

func newConsistencyHarness(t *testing.T) *consistencyHarness {
	t.Helper()

	h := &consistencyHarness{
		store:   testutil.NewMemoryLocalStore(),
		objects: objectstore.NewMemoryStore(),
		fs:      testutil.NewMockFilesystem(),
		gw:      testutil.NewFakeGateway(),
		clock:   testutil.FixedClock(),
	}
	logger := core.NewNopLogger()
	checker := core.NewIntegrityChecker(h.store, h.objects, h.gw, h.fs, logger)
	resolver := core.NewConflictResolver(h.store, logger)
	repairer := core.NewRepairManager(h.store, h.objects, h.fs, logger,
		h.clock, testutil.NewStubIDGenerator(), "/data", core.DeletePolicy{})
	h.consistency = core.NewConsistency(h.store, checker, resolver, repairer,
		h.gw, h.fs, logger, h.clock)
	return h
}

// seedHealthy creates an asset whose object and local file both exist.
func (h *consistencyHarness) seedHealthy(t *testing.T, id string) *model.Asset {
	t.Helper()

	key := "assets/" + id + ".png"
	data := []byte("bytes of " + id)
	if err := h.objects.Put(context.Background(), key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put(%s) error: %v", key, err)
	}
	path := "/lib/" + id + ".png"
	h.fs.AddFile(path, data)

	a := &model.Asset{
		ID: id, Name: id + ".png", LocalPath: path, ObjectKey: key,
		UpdatedAt: 1000, Synced: true,
	}
	h.store.UpsertAsset(a)
	return a
}

// seedBroken creates an asset whose object is gone but whose file remains.
func (h *consistencyHarness) seedBroken(t *testing.T, id string) *model.Asset {
	t.Helper()

	path := "/lib/" + id + ".png"
	h.fs.AddFile(path, []byte("bytes of "+id))
	a := &model.Asset{
		ID: id, Name: id + ".png", LocalPath: path,
		ObjectKey: "assets/" + id + ".png", UpdatedAt: 1000, Synced: true,
	}
	h.store.UpsertAsset(a)
	return a
}

func TestAudit_CleanLibrary(t *testing.T) {
	h := newConsistencyHarness(t)
	local := h.seedHealthy(t, "a")
	h.gw.Cloud = []*model.Asset{local}

	report, err := h.consistency.Audit(context.Background(), core.AuditOptions{})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}

	if report.TotalIssues != 0 {
		t.Errorf("TotalIssues = %d, want 0", report.TotalIssues)
	}
	if len(report.StepErrors) != 0 {
		t.Errorf("StepErrors = %v, want none", report.StepErrors)
	}
	if report.Orphans == nil || report.CloudMissing == nil || report.Diff == nil {
		t.Error("report missing sections from a full pass")
	}
	if report.Timestamp != core.NowMillis(h.clock) {
		t.Errorf("Timestamp = %d, want %d", report.Timestamp, core.NowMillis(h.clock))
	}
}

func TestAudit_AggregatesIssues(t *testing.T) {
	h := newConsistencyHarness(t)
	ctx := context.Background()

	// A repairable finding: object lost, file still here.
	h.seedBroken(t, "lost")

	// A conflict: both sides modified since the common point.
	local := h.seedHealthy(t, "c")
	cloud := *local
	cloud.UpdatedAt = 3000
	h.gw.Cloud = []*model.Asset{&cloud}

	// An orphan object nothing references.
	orphan := []byte("abandoned")
	if err := h.objects.Put(ctx, "assets/orphan.png", bytes.NewReader(orphan), int64(len(orphan))); err != nil {
		t.Fatal(err)
	}

	// A server-side record with a dangling key.
	h.gw.Integrity = &core.CloudIntegrityReport{
		Missing:     []core.CloudMissing{{AssetID: "srv-1", ObjectKey: "assets/dangling.png"}},
		TotalAssets: 1,
		TotalKeys:   1,
	}

	report, err := h.consistency.Audit(ctx, core.AuditOptions{})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}

	if len(report.Findings) != 1 || report.Findings[0].AssetID != "lost" {
		t.Errorf("Findings = %+v, want one for lost", report.Findings)
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0].AssetID != "c" {
		t.Errorf("Conflicts = %+v, want one for c", report.Conflicts)
	}
	if len(report.Orphans.Orphans) != 1 {
		t.Errorf("Orphans = %+v, want one", report.Orphans.Orphans)
	}
	if len(report.CloudMissing.Missing) != 1 {
		t.Errorf("CloudMissing = %+v, want one", report.CloudMissing.Missing)
	}
	if report.TotalIssues != 4 {
		t.Errorf("TotalIssues = %d, want 4", report.TotalIssues)
	}
	if report.FixedIssues != 0 || report.PendingIssues != 4 {
		t.Errorf("fixed/pending = %d/%d, want 0/4", report.FixedIssues, report.PendingIssues)
	}
}

func TestAudit_ReuploadFixesFindings(t *testing.T) {
	h := newConsistencyHarness(t)
	ctx := context.Background()
	h.seedBroken(t, "lost")

	report, err := h.consistency.Audit(ctx, core.AuditOptions{Reupload: true})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}

	if len(report.Repairs) != 1 {
		t.Fatalf("Repairs = %+v, want one entry", report.Repairs)
	}
	entry := report.Repairs[0]
	if entry.Type != "reupload" || entry.Succeeded != 1 || entry.Failed != 0 {
		t.Errorf("entry = %+v, want one successful reupload", entry)
	}
	if report.FixedIssues != 1 {
		t.Errorf("FixedIssues = %d, want 1", report.FixedIssues)
	}
	if report.PendingIssues != report.TotalIssues-1 {
		t.Errorf("PendingIssues = %d, want %d", report.PendingIssues, report.TotalIssues-1)
	}

	// The next pass must come back clean.
	clean, err := h.consistency.Audit(ctx, core.AuditOptions{})
	if err != nil {
		t.Fatalf("second Audit() error: %v", err)
	}
	if clean.TotalIssues != 0 {
		t.Errorf("second pass TotalIssues = %d, want 0", clean.TotalIssues)
	}
}

func TestAudit_RetentionStep(t *testing.T) {
	h := newConsistencyHarness(t)

	now := core.NowMillis(h.clock)
	h.store.UpsertAsset(&model.Asset{
		ID: "expired", Name: "expired.png", Deleted: true,
		DeletedAt: now - 60*24*time.Hour.Milliseconds(),
		UpdatedAt: now - 60*24*time.Hour.Milliseconds(),
	})

	report, err := h.consistency.Audit(context.Background(), core.AuditOptions{EnforceRetention: true})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}

	if len(report.Repairs) != 1 || report.Repairs[0].Type != "cleanup" || report.Repairs[0].Succeeded != 1 {
		t.Errorf("Repairs = %+v, want one cleanup purging 1", report.Repairs)
	}
	if got, _ := h.store.GetAsset("expired"); got != nil {
		t.Error("expired tombstone still present")
	}
	// Purges fix rows that were never counted as issues; pending stays at zero.
	if report.PendingIssues != 0 {
		t.Errorf("PendingIssues = %d, want 0", report.PendingIssues)
	}
}

func TestAudit_StepErrorsContinue(t *testing.T) {
	h := newConsistencyHarness(t)
	h.seedBroken(t, "lost")
	h.gw.Err = errors.New("gateway down")

	report, err := h.consistency.Audit(context.Background(), core.AuditOptions{})
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}

	// The cloud-backed steps fail; the local ones still report.
	if len(report.StepErrors) != 2 {
		t.Errorf("StepErrors = %v, want 2", report.StepErrors)
	}
	if len(report.Findings) != 1 {
		t.Errorf("Findings = %+v, want one collected despite step failures", report.Findings)
	}
	if report.Orphans == nil {
		t.Error("orphan check skipped, want results")
	}
	if report.CloudMissing != nil || report.Diff != nil {
		t.Error("failed steps produced sections")
	}
}

func TestHealth(t *testing.T) {
	t.Run("empty library", func(t *testing.T) {
		h := newConsistencyHarness(t)
		hs, err := h.consistency.Health()
		if err != nil {
			t.Fatalf("Health() error: %v", err)
		}
		if hs.Score != 100 || hs.Grade != "excellent" {
			t.Errorf("score/grade = %d/%s, want 100/excellent", hs.Score, hs.Grade)
		}
	})

	t.Run("breakdown", func(t *testing.T) {
		h := newConsistencyHarness(t)
		h.seedHealthy(t, "a")

		// No key, upload never attempted.
		h.store.UpsertAsset(&model.Asset{ID: "queued", Name: "q.png", UpdatedAt: 1000})

		// Upload started, key never recorded.
		h.store.UpsertAsset(&model.Asset{ID: "stuck", Name: "s.png", UpdatedAt: 1000, KeyPending: true})

		// Keyed but the file vanished from disk.
		h.store.UpsertAsset(&model.Asset{
			ID: "vanished", Name: "v.png", LocalPath: "/lib/vanished.png",
			ObjectKey: "assets/vanished.png", UpdatedAt: 1000,
		})

		// Deleted rows are out of scope.
		h.store.UpsertAsset(&model.Asset{
			ID: "gone", Name: "g.png", Deleted: true, DeletedAt: 500, UpdatedAt: 1000,
		})

		hs, err := h.consistency.Health()
		if err != nil {
			t.Fatalf("Health() error: %v", err)
		}
		if hs.TotalAssets != 4 || hs.HealthyAssets != 1 {
			t.Errorf("total/healthy = %d/%d, want 4/1", hs.TotalAssets, hs.HealthyAssets)
		}
		if hs.NotSynced != 1 || hs.MissingObject != 1 || hs.MissingLocal != 1 {
			t.Errorf("breakdown = %+v, want one of each", hs)
		}
		if hs.Score != 25 || hs.Grade != "poor" {
			t.Errorf("score/grade = %d/%s, want 25/poor", hs.Score, hs.Grade)
		}
	})

	t.Run("grade bands", func(t *testing.T) {
		cases := []struct {
			name    string
			healthy int
			total   int
			grade   string
		}{
			{"all healthy", 20, 20, "excellent"},
			{"one of twenty broken", 19, 20, "excellent"},
			{"four of five healthy", 4, 5, "good"},
			{"three of five healthy", 3, 5, "fair"},
			{"half healthy", 1, 2, "poor"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				h := newConsistencyHarness(t)
				for i := 0; i < tc.total; i++ {
					a := &model.Asset{
						ID: string(rune('a'+i)) + "-asset", Name: "x.png", UpdatedAt: 1000,
					}
					if i < tc.healthy {
						a.ObjectKey = "assets/x.png"
					}
					h.store.UpsertAsset(a)
				}
				hs, err := h.consistency.Health()
				if err != nil {
					t.Fatalf("Health() error: %v", err)
				}
				if hs.Grade != tc.grade {
					t.Errorf("grade = %s (score %d), want %s", hs.Grade, hs.Score, tc.grade)
				}
			})
		}
	})
}
