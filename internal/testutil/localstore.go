package testutil

import (
	"fmt"
	"sort"
	"sync"

	"mediasync/internal/core"
	"mediasync/internal/model"
)

// MemoryLocalStore is an in-memory implementation of the LocalStore
// interface for testing. Safe for concurrent use.
type MemoryLocalStore struct {
	mu     sync.Mutex
	assets map[string]*model.Asset
	tags   map[string]*model.Tag
	links  map[string]model.AssetTag
	state  map[string]string
}

// NewMemoryLocalStore creates an empty in-memory store.
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{
		assets: make(map[string]*model.Asset),
		tags:   make(map[string]*model.Tag),
		links:  make(map[string]model.AssetTag),
		state:  make(map[string]string),
	}
}

func copyAsset(a *model.Asset) *model.Asset {
	c := *a
	return &c
}

func copyTag(t *model.Tag) *model.Tag {
	c := *t
	return &c
}

func linkKey(assetID, tagID string) string {
	return assetID + "\x00" + tagID
}

func (s *MemoryLocalStore) GetAsset(id string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, nil
	}
	return copyAsset(a), nil
}

func (s *MemoryLocalStore) ListAssets(includeDeleted bool) ([]*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Asset
	for _, a := range s.assets {
		if !includeDeleted && a.Deleted {
			continue
		}
		out = append(out, copyAsset(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryLocalStore) UpsertAsset(a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.ID] = copyAsset(a)
	return nil
}

func (s *MemoryLocalStore) SetObjectKeys(id, objectKey, thumbKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s not found", id)
	}
	a.ObjectKey = objectKey
	a.ThumbKey = thumbKey
	a.KeyPending = false
	a.Synced = false
	return nil
}

func (s *MemoryLocalStore) MarkKeyPending(id string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s not found", id)
	}
	a.KeyPending = pending
	return nil
}

func (s *MemoryLocalStore) SetLocalPath(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s not found", id)
	}
	a.LocalPath = path
	return nil
}

func (s *MemoryLocalStore) SoftDeleteAsset(id string, at model.Millis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("asset %s not found", id)
	}
	a.Deleted = true
	a.DeletedAt = at
	a.UpdatedAt = at
	a.Synced = false
	return nil
}

func (s *MemoryLocalStore) RemoveAsset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, id)
	for key, l := range s.links {
		if l.AssetID == id {
			delete(s.links, key)
		}
	}
	return nil
}

func (s *MemoryLocalStore) AssetsModifiedSince(since model.Millis) ([]*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Asset
	for _, a := range s.assets {
		if !a.Synced || a.UpdatedAt > since {
			out = append(out, copyAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (s *MemoryLocalStore) DeletedBefore(cutoff model.Millis) ([]*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Asset
	for _, a := range s.assets {
		if a.Deleted && a.DeletedAt < cutoff {
			out = append(out, copyAsset(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt < out[j].DeletedAt })
	return out, nil
}

func (s *MemoryLocalStore) MarkAssetsSynced(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if a, ok := s.assets[id]; ok {
			a.Synced = true
		}
	}
	return nil
}

func (s *MemoryLocalStore) GetTag(id string) (*model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[id]
	if !ok {
		return nil, nil
	}
	return copyTag(t), nil
}

func (s *MemoryLocalStore) ListTags() ([]*model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Tag
	for _, t := range s.tags {
		out = append(out, copyTag(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryLocalStore) UpsertTag(t *model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t.ID] = copyTag(t)
	return nil
}

func (s *MemoryLocalStore) RemoveTag(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, id)
	for key, l := range s.links {
		if l.TagID == id {
			delete(s.links, key)
		}
	}
	return nil
}

func (s *MemoryLocalStore) TagsModifiedSince(since model.Millis) ([]*model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Tag
	for _, t := range s.tags {
		if !t.Synced || t.UpdatedAt > since {
			out = append(out, copyTag(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (s *MemoryLocalStore) MarkTagsSynced(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if t, ok := s.tags[id]; ok {
			t.Synced = true
		}
	}
	return nil
}

func (s *MemoryLocalStore) AddLink(l model.AssetTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(l.AssetID, l.TagID)
	if _, ok := s.links[key]; ok {
		return nil
	}
	s.links[key] = l
	return nil
}

func (s *MemoryLocalStore) RemoveLink(assetID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, linkKey(assetID, tagID))
	return nil
}

func (s *MemoryLocalStore) LinksCreatedSince(since model.Millis) ([]model.AssetTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AssetTag
	for _, l := range s.links {
		if l.CreatedAt > since {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryLocalStore) GetState(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key], nil
}

func (s *MemoryLocalStore) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *MemoryLocalStore) Close() error { return nil }

// Compile-time check that MemoryLocalStore implements the LocalStore interface
var _ core.LocalStore = (*MemoryLocalStore)(nil)
