package core

import (
	"fmt"

	"mediasync/internal/model"
)

// ConflictClass tags the relationship between a local and a cloud version of
// the same record.
type ConflictClass string

const (
	// ConflictModified is a plain edit race: both sides changed, timestamps differ.
	ConflictModified ConflictClass = "modified"

	// ConflictDeleteVsModify means one side soft-deleted while the other modified.
	ConflictDeleteVsModify ConflictClass = "delete_vs_modify"

	// ConflictReferenceMismatch means the two sides reference different
	// object-store keys. This cannot result from an ordinary edit race and
	// is treated as an invariant violation: never auto-resolved.
	ConflictReferenceMismatch ConflictClass = "reference_mismatch"
)

// Resolution is a recommended or chosen way to settle a conflict.
type Resolution string

const (
	UseCloud     Resolution = "use_cloud"
	UseLocal     Resolution = "use_local"
	MergeFields  Resolution = "merge"
	ManualReview Resolution = "manual"
)

// Conflict pairs a local and cloud version of one asset with a
// classification and a recommended resolution. It is transient: consumed by
// Apply and then discarded.
type Conflict struct {
	AssetID        string        `json:"asset_id"`
	Class          ConflictClass `json:"class"`
	Local          *model.Asset  `json:"local"`
	Cloud          *model.Asset  `json:"cloud"`
	Recommendation Resolution    `json:"recommendation"`
	Reason         string        `json:"reason"`
}

// Classify compares a local and a cloud version of the same asset and
// returns the conflict between them, or nil when there is none.
//
// Order (first match wins): fully consistent rows are no conflict; a
// differing object key is a reference mismatch regardless of timestamps;
// a differing delete flag is delete-vs-modify recommending the newer side
// (equal timestamps break toward the cloud, the shared view); anything else
// is a plain modification recommending the newer side.
func Classify(local, cloud *model.Asset) *Conflict {
	if local.UpdatedAt == cloud.UpdatedAt &&
		local.ObjectKey == cloud.ObjectKey &&
		local.Deleted == cloud.Deleted {
		return nil
	}

	if local.ObjectKey != cloud.ObjectKey {
		return &Conflict{
			AssetID:        local.ID,
			Class:          ConflictReferenceMismatch,
			Local:          local,
			Cloud:          cloud,
			Recommendation: ManualReview,
			Reason:         "object key references diverged; possible corruption, manual review required",
		}
	}

	if local.Deleted != cloud.Deleted {
		rec := UseCloud
		reason := "one side deleted, one side modified; cloud version is newer or equal"
		if local.UpdatedAt > cloud.UpdatedAt {
			rec = UseLocal
			reason = "one side deleted, one side modified; local version is newer"
		}
		return &Conflict{
			AssetID:        local.ID,
			Class:          ConflictDeleteVsModify,
			Local:          local,
			Cloud:          cloud,
			Recommendation: rec,
			Reason:         reason,
		}
	}

	if local.UpdatedAt == cloud.UpdatedAt {
		return nil
	}

	rec := UseCloud
	reason := "cloud version is newer"
	if local.UpdatedAt > cloud.UpdatedAt {
		rec = UseLocal
		reason = "local version is newer"
	}
	return &Conflict{
		AssetID:        local.ID,
		Class:          ConflictModified,
		Local:          local,
		Cloud:          cloud,
		Recommendation: rec,
		Reason:         reason,
	}
}

// ResolveResult reports a batch resolution: applied count plus per-item
// failures. One failure never aborts the batch.
type ResolveResult struct {
	Applied int
	Failed  map[string]error
}

// ConflictResolver applies conflict resolutions to the local store.
type ConflictResolver struct {
	store  LocalStore
	logger Logger
}

// NewConflictResolver creates a ConflictResolver.
func NewConflictResolver(store LocalStore, logger Logger) *ConflictResolver {
	return &ConflictResolver{store: store, logger: logger}
}

// Apply settles one conflict with the given choice.
//
// use_cloud overwrites the local row with the cloud version; use_local is a
// no-op (local wins on the next push); merge keeps the cloud row's fields
// but takes the maximum use count and last-used time across both versions.
func (r *ConflictResolver) Apply(conflict *Conflict, choice Resolution) error {
	switch choice {
	case UseLocal:
		r.logger.Debug("keeping local version", "asset", conflict.AssetID)
		return nil

	case UseCloud:
		merged := *conflict.Cloud
		merged.LocalPath = conflict.Local.LocalPath
		merged.Synced = true
		if err := r.store.UpsertAsset(&merged); err != nil {
			return fmt.Errorf("overwriting with cloud version: %w", err)
		}
		return nil

	case MergeFields:
		if conflict.Class != ConflictModified {
			return fmt.Errorf("merge is only valid for modified conflicts, not %s", conflict.Class)
		}
		merged := *conflict.Cloud
		merged.LocalPath = conflict.Local.LocalPath
		merged.UseCount = max(conflict.Local.UseCount, conflict.Cloud.UseCount)
		merged.LastUsedAt = max(conflict.Local.LastUsedAt, conflict.Cloud.LastUsedAt)
		// Counters may now exceed the cloud row; push the result back.
		merged.Synced = false
		if err := r.store.UpsertAsset(&merged); err != nil {
			return fmt.Errorf("merging versions: %w", err)
		}
		return nil

	case ManualReview:
		return fmt.Errorf("conflict for %s requires manual review, no resolution applied", conflict.AssetID)

	default:
		return fmt.Errorf("unknown resolution %q", choice)
	}
}

// ApplyBatch resolves each conflict with the caller's choice, falling back
// to the recommendation when absent. Failures are collected per item.
func (r *ConflictResolver) ApplyBatch(conflicts []Conflict, choices map[string]Resolution) *ResolveResult {
	result := &ResolveResult{Failed: make(map[string]error)}
	for i := range conflicts {
		c := &conflicts[i]
		choice, ok := choices[c.AssetID]
		if !ok {
			choice = c.Recommendation
		}
		if c.Class == ConflictReferenceMismatch {
			// Invariant violation: refuse automatic application outright.
			r.logger.Error("reference mismatch left unresolved", "asset", c.AssetID)
			result.Failed[c.AssetID] = fmt.Errorf("reference mismatch requires manual review")
			continue
		}
		if err := r.Apply(c, choice); err != nil {
			r.logger.Warn("conflict resolution failed", "asset", c.AssetID, "error", err)
			result.Failed[c.AssetID] = err
			continue
		}
		result.Applied++
	}
	return result
}
