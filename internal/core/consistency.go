package core

import (
	"context"
	"fmt"

	"mediasync/internal/model"
)

// AuditOptions selects which repair steps run after the read-only checks.
// The checks themselves always run.
type AuditOptions struct {
	DownloadMissing  bool
	Reupload         bool
	EnforceRetention bool
}

// RepairEntry records the outcome of one repair step inside a report.
type RepairEntry struct {
	Type      string   `json:"type"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped,omitempty"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Report is the result of one consistency pass. Findings and conflicts are
// transient and not persisted beyond the report.
type Report struct {
	Timestamp    model.Millis          `json:"timestamp"`
	Findings     []Finding             `json:"findings"`
	Orphans      *OrphanReport         `json:"orphans,omitempty"`
	CloudMissing *CloudIntegrityReport `json:"cloud_missing,omitempty"`
	Diff         *SyncDiff             `json:"diff,omitempty"`
	Conflicts    []Conflict            `json:"conflicts"`
	Repairs      []RepairEntry         `json:"repairs,omitempty"`
	StepErrors   []string              `json:"step_errors,omitempty"`

	TotalIssues   int `json:"total_issues"`
	FixedIssues   int `json:"fixed_issues"`
	PendingIssues int `json:"pending_issues"`
}

// HealthScore grades the library's overall consistency.
type HealthScore struct {
	Score         int    `json:"score"`
	Grade         string `json:"grade"`
	TotalAssets   int    `json:"total_assets"`
	HealthyAssets int    `json:"healthy_assets"`
	MissingObject int    `json:"missing_object"`
	MissingLocal  int    `json:"missing_local"`
	NotSynced     int    `json:"not_synced"`
}

// Consistency orchestrates the full audit-and-repair pass across the
// integrity checker, conflict resolver and repair manager.
type Consistency struct {
	store    LocalStore
	checker  *IntegrityChecker
	resolver *ConflictResolver
	repairer *RepairManager
	gateway  GatewayClient
	fs       Filesystem
	logger   Logger
	clock    Clock
}

// NewConsistency creates a Consistency orchestrator.
func NewConsistency(store LocalStore, checker *IntegrityChecker, resolver *ConflictResolver, repairer *RepairManager, gateway GatewayClient, fs Filesystem, logger Logger, clock Clock) *Consistency {
	return &Consistency{
		store:    store,
		checker:  checker,
		resolver: resolver,
		repairer: repairer,
		gateway:  gateway,
		fs:       fs,
		logger:   logger,
		clock:    clock,
	}
}

// Audit runs the read-only checks (local integrity, orphan objects, cloud
// integrity, local-vs-cloud diff with conflict classification) and then the
// repair steps enabled in opts. A failed step is recorded in StepErrors and
// the pass continues; integrity violations are surfaced, never auto-resolved.
func (c *Consistency) Audit(ctx context.Context, opts AuditOptions) (*Report, error) {
	report := &Report{Timestamp: NowMillis(c.clock)}

	findings, err := c.checker.CheckLocalAssets(ctx)
	report.Findings = findings
	if err != nil {
		if ctx.Err() != nil {
			// Partial results collected before cancellation remain valid.
			return report, err
		}
		c.step(report, "local integrity check", err)
	}
	c.logger.Info("local integrity checked", "findings", len(findings))

	orphans, err := c.checker.CheckOrphanObjects(ctx)
	if err != nil {
		c.step(report, "orphan check", err)
	} else {
		report.Orphans = orphans
		c.logger.Info("orphan objects checked", "orphans", len(orphans.Orphans))
	}

	cloudMissing, err := c.checker.CheckCloudIntegrity(ctx)
	if err != nil {
		c.step(report, "cloud integrity check", err)
	} else {
		report.CloudMissing = cloudMissing
		c.logger.Info("cloud integrity checked", "missing", len(cloudMissing.Missing))
	}

	diff, err := c.checker.CompareLocalVsCloud(ctx)
	if err != nil {
		c.step(report, "local vs cloud compare", err)
	} else {
		report.Diff = diff
		report.Conflicts = diff.Conflicts
		c.logger.Info("local vs cloud compared",
			"only_local", len(diff.OnlyLocal), "only_cloud", len(diff.OnlyCloud), "conflicts", len(diff.Conflicts))
		for i := range diff.Conflicts {
			if diff.Conflicts[i].Class == ConflictReferenceMismatch {
				c.logger.Error("reference mismatch detected", "asset", diff.Conflicts[i].AssetID)
			}
		}
	}

	if opts.DownloadMissing && report.Diff != nil {
		res := c.repairer.DownloadMissing(ctx, report.Diff.OnlyCloud)
		report.Repairs = append(report.Repairs, RepairEntry{
			Type: "download", Succeeded: res.Downloaded, Failed: res.Failed, Skipped: res.Skipped,
		})
	}

	if opts.Reupload {
		res := c.repairer.Reupload(ctx, report.Findings)
		report.Repairs = append(report.Repairs, RepairEntry{
			Type: "reupload", Succeeded: res.Repaired, Failed: len(res.Failed),
			Skipped: res.Skipped, FailedIDs: res.Failed,
		})
	}

	if opts.EnforceRetention {
		purged, err := c.repairer.EnforceRetention(ctx, 0)
		if err != nil {
			c.step(report, "retention cleanup", err)
		}
		report.Repairs = append(report.Repairs, RepairEntry{Type: "cleanup", Succeeded: purged})
	}

	report.TotalIssues = len(report.Findings) + len(report.Conflicts)
	if report.Orphans != nil {
		report.TotalIssues += len(report.Orphans.Orphans)
	}
	if report.CloudMissing != nil {
		report.TotalIssues += len(report.CloudMissing.Missing)
	}
	for _, r := range report.Repairs {
		report.FixedIssues += r.Succeeded
	}
	report.PendingIssues = max(report.TotalIssues-report.FixedIssues, 0)

	c.logger.Info("consistency pass complete",
		"total", report.TotalIssues, "fixed", report.FixedIssues, "pending", report.PendingIssues)
	return report, nil
}

func (c *Consistency) step(report *Report, name string, err error) {
	c.logger.Warn("audit step failed", "step", name, "error", err)
	report.StepErrors = append(report.StepErrors, fmt.Sprintf("%s: %v", name, err))
}

// Repair re-runs the reupload pass for an explicit finding set, outside a
// full audit.
func (c *Consistency) Repair(ctx context.Context, findings []Finding) *RepairResult {
	return c.repairer.Reupload(ctx, findings)
}

// ResolveConflicts applies the chosen resolutions, independent per item.
func (c *Consistency) ResolveConflicts(conflicts []Conflict, choices map[string]Resolution) *ResolveResult {
	return c.resolver.ApplyBatch(conflicts, choices)
}

// Health computes a 0-100 consistency score over non-deleted assets:
// an asset is healthy when it has an object key and its local file is
// present. Purely local, no network calls.
func (c *Consistency) Health() (*HealthScore, error) {
	assets, err := c.store.ListAssets(false)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	hs := &HealthScore{TotalAssets: len(assets)}
	for _, a := range assets {
		healthy := true
		if a.ObjectKey == "" {
			if a.KeyPending {
				// Upload started but the key never landed; the object state
				// is unknown until the next cycle retries.
				hs.MissingObject++
			} else {
				hs.NotSynced++
			}
			healthy = false
		}
		if a.LocalPath != "" {
			present, err := c.fs.Exists(a.LocalPath)
			if err != nil || !present {
				hs.MissingLocal++
				healthy = false
			}
		}
		if healthy {
			hs.HealthyAssets++
		}
	}

	if hs.TotalAssets == 0 {
		hs.Score = 100
	} else {
		hs.Score = hs.HealthyAssets * 100 / hs.TotalAssets
	}
	switch {
	case hs.Score >= 95:
		hs.Grade = "excellent"
	case hs.Score >= 80:
		hs.Grade = "good"
	case hs.Score >= 60:
		hs.Grade = "fair"
	default:
		hs.Grade = "poor"
	}
	return hs, nil
}
