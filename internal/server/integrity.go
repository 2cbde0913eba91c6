package server

import (
	"net/http"

	"mediasync/internal/core"
)

// GetAssets handles GET /assets: the full materialized record snapshot,
// tombstones included. The snapshot is deployment-global; a gateway serves
// one library.
func (s *Server) GetAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.Assets(r.Context())
	if err != nil {
		s.logger.Error("assets snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list assets", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// CheckIntegrity handles GET /integrity/check: every non-deleted record's
// object keys are verified against the object store in batches.
func (s *Server) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assets, err := s.store.Assets(ctx)
	if err != nil {
		s.logger.Error("integrity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list assets", nil)
		return
	}

	keyOwners := make(map[string]string)
	var keys []string
	for _, a := range assets {
		if a.Deleted {
			continue
		}
		for _, key := range []string{a.ObjectKey, a.ThumbKey} {
			if key == "" {
				continue
			}
			keyOwners[key] = a.ID
			keys = append(keys, key)
		}
	}

	present := make(map[string]bool, len(keys))
	for start := 0; start < len(keys); start += core.ExistsBatchSize {
		end := start + core.ExistsBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := s.objects.ExistsMany(ctx, keys[start:end])
		if err != nil {
			s.logger.Error("integrity existence check", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "object store check failed", nil)
			return
		}
		for key, ok := range chunk {
			present[key] = ok
		}
	}

	report := core.CloudIntegrityReport{
		Missing:     []core.CloudMissing{},
		TotalAssets: 0,
		TotalKeys:   len(keys),
	}
	missingByAsset := make(map[string]*core.CloudMissing)
	for _, a := range assets {
		if a.Deleted {
			continue
		}
		report.TotalAssets++
		if a.ObjectKey != "" && !present[a.ObjectKey] {
			entry := missingEntry(missingByAsset, a.ID)
			entry.ObjectKey = a.ObjectKey
		}
		if a.ThumbKey != "" && !present[a.ThumbKey] {
			entry := missingEntry(missingByAsset, a.ID)
			entry.ThumbKey = a.ThumbKey
		}
	}
	for _, entry := range missingByAsset {
		report.Missing = append(report.Missing, *entry)
	}

	if len(report.Missing) > 0 {
		s.logger.Warn("integrity check found missing objects", "missing", len(report.Missing))
	}
	writeJSON(w, http.StatusOK, report)
}

func missingEntry(m map[string]*core.CloudMissing, assetID string) *core.CloudMissing {
	if e, ok := m[assetID]; ok {
		return e
	}
	e := &core.CloudMissing{AssetID: assetID}
	m[assetID] = e
	return e
}
