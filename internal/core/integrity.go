package core

import (
	"context"
	"fmt"

	"mediasync/internal/model"
)

// Finding describes one integrity inconsistency for a single asset.
// It is transient: produced by an audit, consumed by repair, never persisted.
type Finding struct {
	AssetID      string `json:"asset_id"`
	ObjectKey    string `json:"object_key"`
	RemoteExists bool   `json:"remote_exists"`
	LocalExists  bool   `json:"local_exists"`

	// Repairable means the remote object is missing but the local file is
	// present, so a reupload can restore it.
	Repairable bool `json:"repairable"`
}

// OrphanReport is the result of diffing the remote key set against all keys
// referenced by records.
type OrphanReport struct {
	Orphans         []ObjectInfo `json:"orphans"`
	TotalRemote     int          `json:"total_remote"`
	TotalReferenced int          `json:"total_referenced"`
}

// SyncDiff is a full outer join of the local and cloud record sets by id.
type SyncDiff struct {
	OnlyLocal []*model.Asset `json:"only_local"`
	OnlyCloud []*model.Asset `json:"only_cloud"`
	Conflicts []Conflict     `json:"conflicts"`
}

// ExistsBatchSize chunks batched existence checks to bound request size and
// allow partial progress reporting.
const ExistsBatchSize = 100

// IntegrityChecker verifies referential integrity across the local store,
// the object store and the cloud record set. All checks are read-only and
// side-effect-free so they can run frequently without risking data loss;
// repair is a separate, explicit step.
type IntegrityChecker struct {
	store   LocalStore
	objects ObjectStore
	gateway GatewayClient
	fs      Filesystem
	logger  Logger
}

// NewIntegrityChecker creates an IntegrityChecker.
func NewIntegrityChecker(store LocalStore, objects ObjectStore, gateway GatewayClient, fs Filesystem, logger Logger) *IntegrityChecker {
	return &IntegrityChecker{store: store, objects: objects, gateway: gateway, fs: fs, logger: logger}
}

// CheckLocalAssets verifies, for every non-deleted asset with an object key,
// that the object exists remotely and the referenced local file exists on
// disk. Existence checks run in chunks of ExistsBatchSize. Cancellation is
// honored between chunks; findings collected before cancellation are
// returned alongside the context error.
func (c *IntegrityChecker) CheckLocalAssets(ctx context.Context) ([]Finding, error) {
	assets, err := c.store.ListAssets(false)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	var candidates []*model.Asset
	var findings []Finding
	for _, a := range assets {
		if a.ObjectKey == "" {
			// Never uploaded; only a finding when the local file is present
			// and waiting.
			localExists := c.localExists(a)
			if localExists {
				findings = append(findings, Finding{
					AssetID:     a.ID,
					LocalExists: true,
					Repairable:  true,
				})
			}
			continue
		}
		candidates = append(candidates, a)
	}

	for start := 0; start < len(candidates); start += ExistsBatchSize {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		end := min(start+ExistsBatchSize, len(candidates))
		batch := candidates[start:end]

		keys := make([]string, len(batch))
		for i, a := range batch {
			keys[i] = a.ObjectKey
		}
		existing, err := c.objects.ExistsMany(ctx, keys)
		if err != nil {
			return findings, fmt.Errorf("checking object batch: %w", err)
		}

		for _, a := range batch {
			remote := existing[a.ObjectKey]
			local := c.localExists(a)
			if remote && local {
				continue
			}
			findings = append(findings, Finding{
				AssetID:      a.ID,
				ObjectKey:    a.ObjectKey,
				RemoteExists: remote,
				LocalExists:  local,
				Repairable:   !remote && local,
			})
		}
		c.logger.Debug("integrity batch checked", "from", start, "to", end, "findings", len(findings))
	}

	return findings, nil
}

func (c *IntegrityChecker) localExists(a *model.Asset) bool {
	if a.LocalPath == "" {
		return false
	}
	ok, err := c.fs.Exists(a.LocalPath)
	if err != nil {
		c.logger.Warn("local file check failed", "asset", a.ID, "path", a.LocalPath, "error", err)
		return false
	}
	return ok
}

// CheckOrphanObjects lists the full remote key set and diffs it against
// every key referenced by local or cloud records. Anything remote-only is an
// orphan candidate; deletion is left to an explicit repair call.
func (c *IntegrityChecker) CheckOrphanObjects(ctx context.Context) (*OrphanReport, error) {
	remote, err := c.objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote objects: %w", err)
	}

	referenced := make(map[string]struct{})
	collect := func(assets []*model.Asset) {
		for _, a := range assets {
			if a.ObjectKey != "" {
				referenced[a.ObjectKey] = struct{}{}
			}
			if a.ThumbKey != "" {
				referenced[a.ThumbKey] = struct{}{}
			}
		}
	}

	local, err := c.store.ListAssets(true)
	if err != nil {
		return nil, fmt.Errorf("listing local assets: %w", err)
	}
	collect(local)

	cloud, err := c.gateway.CloudAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching cloud assets: %w", err)
	}
	collect(cloud)

	report := &OrphanReport{TotalRemote: len(remote), TotalReferenced: len(referenced)}
	for _, obj := range remote {
		if _, ok := referenced[obj.Key]; !ok {
			report.Orphans = append(report.Orphans, obj)
		}
	}
	return report, nil
}

// CheckCloudIntegrity asks the gateway to verify that every object key
// referenced by a cloud record actually exists in the object store. This is
// the server-side mirror of CheckLocalAssets.
func (c *IntegrityChecker) CheckCloudIntegrity(ctx context.Context) (*CloudIntegrityReport, error) {
	return c.gateway.CloudIntegrity(ctx)
}

// CompareLocalVsCloud joins the local and cloud record sets by id. A record
// present on both sides is a conflict candidate when updated_at, object key
// or content identity differ.
func (c *IntegrityChecker) CompareLocalVsCloud(ctx context.Context) (*SyncDiff, error) {
	cloud, err := c.gateway.CloudAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching cloud assets: %w", err)
	}
	local, err := c.store.ListAssets(true)
	if err != nil {
		return nil, fmt.Errorf("listing local assets: %w", err)
	}

	cloudByID := make(map[string]*model.Asset, len(cloud))
	for _, a := range cloud {
		cloudByID[a.ID] = a
	}

	diff := &SyncDiff{}
	seen := make(map[string]struct{}, len(local))
	for _, l := range local {
		seen[l.ID] = struct{}{}
		remote, ok := cloudByID[l.ID]
		if !ok {
			diff.OnlyLocal = append(diff.OnlyLocal, l)
			continue
		}
		if conflict := Classify(l, remote); conflict != nil {
			diff.Conflicts = append(diff.Conflicts, *conflict)
		}
	}
	for _, r := range cloud {
		if _, ok := seen[r.ID]; !ok {
			diff.OnlyCloud = append(diff.OnlyCloud, r)
		}
	}
	return diff, nil
}
