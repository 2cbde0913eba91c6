package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"mediasync/internal/cloudstore"
	"mediasync/internal/core"
	"mediasync/internal/model"
)

// PushRequest is the body of POST /index/batch.
type PushRequest struct {
	DeviceID string        `json:"device_id"`
	BatchID  string        `json:"batch_id"`
	Events   []model.Event `json:"events"`
}

// PullEvents handles GET /index: pages of the ordered event log. An optional
// device_id param narrows the page to one device's events.
func (s *Server) PullEvents(w http.ResponseWriter, r *http.Request) {
	since := parseMillis(r.URL.Query().Get("since"), 0)
	limit := parseInt(r.URL.Query().Get("limit"), DefaultPullLimit)
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	deviceFilter := r.URL.Query().Get("device_id")

	events, err := s.store.EventsSince(r.Context(), since, limit, deviceFilter)
	if err != nil {
		s.logger.Error("pull", "since", since, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch events", nil)
		return
	}

	page := core.PullPage{
		Events:    events,
		NextSince: since,
		HasMore:   len(events) == limit,
	}
	if len(events) > 0 {
		page.NextSince = events[len(events)-1].ServerTS
	}
	writeJSON(w, http.StatusOK, page)
}

// PushBatch handles POST /index/batch. Replayed batch ids and event ids are
// reported as duplicates, never applied twice.
func (s *Server) PushBatch(w http.ResponseWriter, r *http.Request) {
	device, _ := DeviceFromContext(r.Context())

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json", nil)
		return
	}
	if req.DeviceID != device.ID {
		writeError(w, http.StatusForbidden, "forbidden", "device id does not match credential", nil)
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "batch id is required", nil)
		return
	}
	if len(req.Events) == 0 || len(req.Events) > s.cfg.MaxBatchSize {
		writeError(w, http.StatusBadRequest, "bad_request", "batch must contain between 1 and "+
			strconv.Itoa(s.cfg.MaxBatchSize)+" events", nil)
		return
	}
	for i := range req.Events {
		if err := validateEvent(&req.Events[i]); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid event", map[string]any{
				"event_id": req.Events[i].ID,
				"error":    err.Error(),
			})
			return
		}
	}

	ctx := r.Context()
	now := core.NowMillis(s.now)

	// A replayed batch short-circuits: everything it carried is a duplicate.
	seen, err := s.store.HasBatch(ctx, req.BatchID)
	if err != nil {
		s.logger.Error("batch lookup", "batch", req.BatchID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to ingest batch", nil)
		return
	}
	if seen {
		ids, err := s.store.EventIDsForBatch(ctx, req.BatchID)
		if err != nil {
			s.logger.Error("batch events lookup", "batch", req.BatchID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to ingest batch", nil)
			return
		}
		writeJSON(w, http.StatusOK, core.PushResult{
			Accepted:        []string{},
			Duplicates:      ids,
			ServerTimestamp: s.clock.Last(),
		})
		return
	}

	ids := make([]string, len(req.Events))
	for i, e := range req.Events {
		ids[i] = e.ID
	}
	existing, err := s.store.ExistingEventIDs(ctx, ids)
	if err != nil {
		s.logger.Error("event dedup", "batch", req.BatchID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to ingest batch", nil)
		return
	}

	var (
		accepted   []model.Event
		acceptedID []string
		duplicates []string
	)
	// Stamp in array order so intra-batch causality is preserved in the log.
	for _, e := range req.Events {
		if existing[e.ID] {
			duplicates = append(duplicates, e.ID)
			continue
		}
		e.DeviceID = device.ID
		e.BatchID = req.BatchID
		e.ServerTS = s.clock.Next(now)
		accepted = append(accepted, e)
		acceptedID = append(acceptedID, e.ID)
	}

	serverTS := s.clock.Last()
	if len(accepted) > 0 {
		batch := cloudstore.Batch{
			ID:         req.BatchID,
			DeviceID:   device.ID,
			EventCount: len(accepted),
			ServerTS:   serverTS,
			ReceivedAt: now,
		}
		if err := s.store.IngestBatch(ctx, batch, accepted); err != nil {
			s.logger.Error("ingest", "batch", req.BatchID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to ingest batch", nil)
			return
		}
	}

	if err := s.store.TouchDevice(ctx, device.ID, now); err != nil {
		s.logger.Warn("touch device", "device", device.ID, "error", err)
	}

	s.logger.Info("batch ingested",
		"batch", req.BatchID, "device", device.ID,
		"accepted", len(acceptedID), "duplicates", len(duplicates))

	if acceptedID == nil {
		acceptedID = []string{}
	}
	if duplicates == nil {
		duplicates = []string{}
	}
	writeJSON(w, http.StatusOK, core.PushResult{
		Accepted:        acceptedID,
		Duplicates:      duplicates,
		ServerTimestamp: serverTS,
	})
}

// GetIndexStatus handles GET /index/status.
func (s *Server) GetIndexStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStatus(r.Context())
	if err != nil {
		s.logger.Error("status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read status", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        st.Events,
		"assets":        st.Assets,
		"tags":          st.Tags,
		"devices":       st.Devices,
		"last_event_ts": st.LastEventTS,
	})
}

func parseMillis(v string, def model.Millis) model.Millis {
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
