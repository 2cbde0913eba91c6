package testutil

import (
	"context"
	"sort"
	"sync"

	"mediasync/internal/cloudstore"
	"mediasync/internal/model"
	"mediasync/internal/server"
)

type deviceRecord struct {
	device    model.Device
	tokenHash string
	expiresAt model.Millis
}

// MemoryServerStore is an in-memory implementation of the gateway's store
// interface for handler tests. Materialization is limited to assets, which
// is all the integrity endpoints read back.
type MemoryServerStore struct {
	mu      sync.Mutex
	owners  map[string]model.Millis
	devices map[string]*deviceRecord
	batches map[string]cloudstore.Batch
	events  []model.Event
	eventID map[string]bool
	assets  map[string]*model.Asset
}

// NewMemoryServerStore creates an empty in-memory server store.
func NewMemoryServerStore() *MemoryServerStore {
	return &MemoryServerStore{
		owners:  make(map[string]model.Millis),
		devices: make(map[string]*deviceRecord),
		batches: make(map[string]cloudstore.Batch),
		eventID: make(map[string]bool),
		assets:  make(map[string]*model.Asset),
	}
}

func (s *MemoryServerStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryServerStore) EnsureOwner(ctx context.Context, id string, at model.Millis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[id]; !ok {
		s.owners[id] = at
	}
	return nil
}

func (s *MemoryServerStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	d := rec.device
	return &d, nil
}

func (s *MemoryServerStore) CountActiveDevices(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.devices {
		if rec.device.OwnerID == ownerID && rec.device.Active {
			n++
		}
	}
	return n, nil
}

func (s *MemoryServerStore) CreateDevice(ctx context.Context, d *model.Device, tokenHash string, expiresAt model.Millis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = &deviceRecord{device: *d, tokenHash: tokenHash, expiresAt: expiresAt}
	return nil
}

func (s *MemoryServerStore) RefreshDeviceToken(ctx context.Context, deviceID, tokenHash string, expiresAt, at model.Millis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[deviceID]
	if !ok {
		return cloudstore.ErrNotFound
	}
	rec.tokenHash = tokenHash
	rec.expiresAt = expiresAt
	rec.device.LastSeenAt = at
	rec.device.Active = true
	return nil
}

func (s *MemoryServerStore) DeviceByTokenHash(ctx context.Context, hash string, now model.Millis) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.devices {
		if rec.tokenHash == hash && rec.device.Active && rec.expiresAt > now {
			d := rec.device
			return &d, nil
		}
	}
	return nil, nil
}

func (s *MemoryServerStore) TouchDevice(ctx context.Context, id string, at model.Millis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.devices[id]; ok {
		rec.device.LastSeenAt = at
	}
	return nil
}

func (s *MemoryServerStore) HasBatch(ctx context.Context, batchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[batchID]
	return ok, nil
}

func (s *MemoryServerStore) EventIDsForBatch(ctx context.Context, batchID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, e := range s.events {
		if e.BatchID == batchID {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (s *MemoryServerStore) ExistingEventIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s.eventID[id] {
			result[id] = true
		}
	}
	return result, nil
}

func (s *MemoryServerStore) MaxServerTS(ctx context.Context) (model.Millis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max model.Millis
	for _, e := range s.events {
		if e.ServerTS > max {
			max = e.ServerTS
		}
	}
	return max, nil
}

func (s *MemoryServerStore) EventsSince(ctx context.Context, since model.Millis, limit int, deviceID string) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.ServerTS <= since {
			continue
		}
		if deviceID != "" && e.DeviceID != deviceID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerTS < out[j].ServerTS })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryServerStore) IngestBatch(ctx context.Context, batch cloudstore.Batch, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.ID != "" {
		s.batches[batch.ID] = batch
	}
	for _, e := range events {
		s.events = append(s.events, e)
		s.eventID[e.ID] = true
		s.materialize(e)
	}
	return nil
}

func (s *MemoryServerStore) materialize(e model.Event) {
	switch e.Kind {
	case model.KindAssetUpsert:
		var a model.Asset
		if unmarshalJSON(e.Payload, &a) != nil {
			return
		}
		if existing, ok := s.assets[a.ID]; ok && existing.UpdatedAt > a.UpdatedAt {
			return
		}
		s.assets[a.ID] = &a
	case model.KindAssetDelete:
		var p model.DeletePayload
		if unmarshalJSON(e.Payload, &p) != nil {
			return
		}
		a, ok := s.assets[p.ID]
		if !ok {
			s.assets[p.ID] = &model.Asset{
				ID: p.ID, Deleted: true, DeletedAt: p.DeletedAt,
				CreatedAt: p.UpdatedAt, UpdatedAt: p.UpdatedAt,
			}
			return
		}
		if a.UpdatedAt > p.UpdatedAt {
			return
		}
		a.Deleted = true
		a.DeletedAt = p.DeletedAt
		a.UpdatedAt = p.UpdatedAt
	}
}

// SetAsset stages a materialized asset directly.
func (s *MemoryServerStore) SetAsset(a *model.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.assets[a.ID] = &c
}

func (s *MemoryServerStore) Assets(ctx context.Context) ([]*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Asset
	for _, a := range s.assets {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryServerStore) GetStatus(ctx context.Context) (*cloudstore.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &cloudstore.Status{Events: len(s.events)}
	for _, a := range s.assets {
		if !a.Deleted {
			st.Assets++
		}
	}
	for _, rec := range s.devices {
		if rec.device.Active {
			st.Devices++
		}
	}
	for _, e := range s.events {
		if e.ServerTS > st.LastEventTS {
			st.LastEventTS = e.ServerTS
		}
	}
	return st, nil
}

// Compile-time check that MemoryServerStore implements the gateway store interface
var _ server.Store = (*MemoryServerStore)(nil)
