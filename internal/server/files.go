package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"mediasync/internal/core"
)

// maxCheckBatchKeys caps one POST /files/check-batch request.
const maxCheckBatchKeys = 1000

// CheckBatchRequest is the body of POST /files/check-batch.
type CheckBatchRequest struct {
	Keys []string `json:"keys"`
}

// GetOrphans handles GET /files/orphans: stored objects no record references.
func (s *Server) GetOrphans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assets, err := s.store.Assets(ctx)
	if err != nil {
		s.logger.Error("orphan scan", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list assets", nil)
		return
	}

	referenced := make(map[string]bool)
	for _, a := range assets {
		if a.ObjectKey != "" {
			referenced[a.ObjectKey] = true
		}
		if a.ThumbKey != "" {
			referenced[a.ThumbKey] = true
		}
	}

	objects, err := s.objects.List(ctx)
	if err != nil {
		s.logger.Error("orphan scan listing", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list objects", nil)
		return
	}

	orphans := []string{}
	var bytes int64
	for _, obj := range objects {
		if referenced[obj.Key] {
			continue
		}
		orphans = append(orphans, obj.Key)
		bytes += obj.Size
	}
	sort.Strings(orphans)

	writeJSON(w, http.StatusOK, map[string]any{
		"orphans":     orphans,
		"total_bytes": bytes,
	})
}

// CheckBatch handles POST /files/check-batch: existence for a batch of keys.
func (s *Server) CheckBatch(w http.ResponseWriter, r *http.Request) {
	var req CheckBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	if len(req.Keys) == 0 || len(req.Keys) > maxCheckBatchKeys {
		writeError(w, http.StatusBadRequest, "bad_request", "keys must contain between 1 and 1000 entries", nil)
		return
	}

	results := make(map[string]bool, len(req.Keys))
	for start := 0; start < len(req.Keys); start += core.ExistsBatchSize {
		end := start + core.ExistsBatchSize
		if end > len(req.Keys) {
			end = len(req.Keys)
		}
		chunk, err := s.objects.ExistsMany(r.Context(), req.Keys[start:end])
		if err != nil {
			s.logger.Error("check batch", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "object store check failed", nil)
			return
		}
		for key, ok := range chunk {
			results[key] = ok
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GetFile handles GET /files/*: streams the object body.
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "object key is required", nil)
		return
	}

	exists, err := s.objects.Exists(r.Context(), key)
	if err != nil {
		s.logger.Error("file download", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "object store check failed", nil)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found", "object not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if err := s.objects.Get(r.Context(), key, w); err != nil {
		// Headers are already out; all we can do is log.
		s.logger.Error("file download", "key", key, "error", err)
	}
}

// PutFile handles POST /files/*: stores the raw request body under the key.
func (s *Server) PutFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "object key is required", nil)
		return
	}
	if r.ContentLength < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "content length is required", nil)
		return
	}

	if err := s.objects.Put(r.Context(), key, r.Body, r.ContentLength); err != nil {
		s.logger.Error("file upload", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "object store write failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "size": r.ContentLength})
}

// DeleteFile handles DELETE /files/*. Deleting a missing key succeeds.
func (s *Server) DeleteFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "object key is required", nil)
		return
	}

	if err := s.objects.Delete(r.Context(), key); err != nil {
		s.logger.Error("file delete", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "object store delete failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": true})
}
