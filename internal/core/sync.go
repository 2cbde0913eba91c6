package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"mediasync/internal/model"
)

// SyncState names the phase a sync cycle is in. Failed is reachable from any
// phase and returns to Idle without advancing the checkpoint.
type SyncState string

const (
	SyncIdle             SyncState = "idle"
	SyncPulling          SyncState = "pulling"
	SyncMerging          SyncState = "merging"
	SyncCollectingLocal  SyncState = "collecting_local"
	SyncUploadingObjects SyncState = "uploading_objects"
	SyncPushing          SyncState = "pushing"
	SyncAdvancing        SyncState = "advancing"
	SyncFailed           SyncState = "failed"
)

// SyncResult summarizes one completed cycle.
type SyncResult struct {
	Pulled    int
	Pushed    int
	Uploaded  int
	Timestamp model.Millis
}

// DefaultPageSize caps one pull page.
const DefaultPageSize = 200

// SyncEngine drives the per-device pull/merge/push cycle. At most one cycle
// runs at a time; a concurrent trigger is rejected with ErrSyncInProgress
// rather than interleaved.
type SyncEngine struct {
	store    LocalStore
	objects  ObjectStore
	gateway  GatewayClient
	fs       Filesystem
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	pageSize int

	running sync.Mutex

	stateMu sync.Mutex
	state   SyncState
}

// NewSyncEngine creates a SyncEngine with the provided dependencies.
func NewSyncEngine(store LocalStore, objects ObjectStore, gateway GatewayClient, fs Filesystem, logger Logger, clock Clock, idgen IDGenerator) *SyncEngine {
	return &SyncEngine{
		store:    store,
		objects:  objects,
		gateway:  gateway,
		fs:       fs,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		pageSize: DefaultPageSize,
		state:    SyncIdle,
	}
}

// SetPageSize overrides the pull page size. Values below 1 keep the default.
func (e *SyncEngine) SetPageSize(n int) {
	if n > 0 {
		e.pageSize = n
	}
}

// State returns the current cycle phase.
func (e *SyncEngine) State() SyncState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *SyncEngine) setState(s SyncState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Run executes one full sync cycle for the session:
// pull -> merge -> collect local -> upload objects -> push -> advance.
// The checkpoint only moves after both merge and push succeeded, so a crash
// mid-cycle replays safely: merge and push are idempotent.
func (e *SyncEngine) Run(ctx context.Context, sess *Session) (*SyncResult, error) {
	if !e.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.running.Unlock()
	defer e.setState(SyncIdle)

	checkpoint, err := sess.Checkpoint()
	if err != nil {
		e.setState(SyncFailed)
		return nil, err
	}
	e.logger.Info("sync cycle started", "device", sess.DeviceID, "checkpoint", checkpoint)

	e.setState(SyncPulling)
	events, pullHigh, err := e.pull(ctx, checkpoint)
	if err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("pulling events: %w", err)
	}

	e.setState(SyncMerging)
	if err := e.Merge(events); err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("merging events: %w", err)
	}

	e.setState(SyncCollectingLocal)
	assets, err := e.store.AssetsModifiedSince(checkpoint)
	if err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("collecting assets: %w", err)
	}
	tags, err := e.store.TagsModifiedSince(checkpoint)
	if err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("collecting tags: %w", err)
	}
	links, err := e.store.LinksCreatedSince(checkpoint)
	if err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("collecting links: %w", err)
	}

	e.setState(SyncUploadingObjects)
	assets, uploaded := e.uploadObjects(ctx, assets)

	e.setState(SyncPushing)
	pushed, serverTS, err := e.push(ctx, sess, assets, tags, links)
	if err != nil {
		e.setState(SyncFailed)
		return nil, fmt.Errorf("pushing changes: %w", err)
	}
	if serverTS == 0 {
		// Nothing pushed: the highest merged server timestamp bounds the cycle.
		serverTS = pullHigh
	}

	e.setState(SyncAdvancing)
	if serverTS > 0 {
		if err := sess.SetCheckpoint(serverTS); err != nil {
			e.setState(SyncFailed)
			return nil, fmt.Errorf("advancing checkpoint: %w", err)
		}
	}

	e.logger.Info("sync cycle complete",
		"pulled", len(events), "pushed", pushed, "uploaded", uploaded, "timestamp", serverTS)
	return &SyncResult{Pulled: len(events), Pushed: pushed, Uploaded: uploaded, Timestamp: serverTS}, nil
}

// pull fetches all events since the checkpoint, paginating while the gateway
// reports more. Returns the events and the highest server timestamp seen.
func (e *SyncEngine) pull(ctx context.Context, since model.Millis) ([]model.Event, model.Millis, error) {
	var all []model.Event
	high := model.Millis(0)
	for {
		page, err := e.gateway.PullSince(ctx, since, e.pageSize)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, page.Events...)
		if page.NextSince > high {
			high = page.NextSince
		}
		if !page.HasMore {
			return all, high, nil
		}
		since = page.NextSince
	}
}

// Merge applies pulled events to the local store using last-writer-wins.
// Running it twice on the same event set produces the same local state as
// running it once; a crash before checkpoint advance replays it.
func (e *SyncEngine) Merge(events []model.Event) error {
	for i := range events {
		if err := e.applyEvent(&events[i]); err != nil {
			return fmt.Errorf("applying event %s: %w", events[i].ID, err)
		}
	}
	return nil
}

func (e *SyncEngine) applyEvent(ev *model.Event) error {
	switch ev.Kind {
	case model.KindAssetUpsert:
		var remote model.Asset
		if err := json.Unmarshal(ev.Payload, &remote); err != nil {
			return fmt.Errorf("decoding asset payload: %w", err)
		}
		return e.mergeAsset(&remote)

	case model.KindAssetDelete:
		var del model.DeletePayload
		if err := json.Unmarshal(ev.Payload, &del); err != nil {
			return fmt.Errorf("decoding delete payload: %w", err)
		}
		return e.mergeAssetDelete(&del)

	case model.KindTagUpsert:
		var remote model.Tag
		if err := json.Unmarshal(ev.Payload, &remote); err != nil {
			return fmt.Errorf("decoding tag payload: %w", err)
		}
		return e.mergeTag(&remote)

	case model.KindTagDelete:
		var del model.DeletePayload
		if err := json.Unmarshal(ev.Payload, &del); err != nil {
			return fmt.Errorf("decoding delete payload: %w", err)
		}
		local, err := e.store.GetTag(del.ID)
		if err != nil {
			return err
		}
		if local == nil || del.UpdatedAt <= local.UpdatedAt {
			return nil
		}
		return e.store.RemoveTag(del.ID)

	case model.KindLinkAdd:
		var link model.AssetTag
		if err := json.Unmarshal(ev.Payload, &link); err != nil {
			return fmt.Errorf("decoding link payload: %w", err)
		}
		// Append-only fact: insert-if-absent, no LWW needed.
		return e.store.AddLink(link)

	case model.KindLinkRemove:
		var link model.AssetTag
		if err := json.Unmarshal(ev.Payload, &link); err != nil {
			return fmt.Errorf("decoding link payload: %w", err)
		}
		return e.store.RemoveLink(link.AssetID, link.TagID)

	default:
		// Unknown kinds are skipped so old clients survive newer servers.
		e.logger.Warn("skipping event of unknown kind", "kind", ev.Kind, "event", ev.ID)
		return nil
	}
}

func (e *SyncEngine) mergeAsset(remote *model.Asset) error {
	local, err := e.store.GetAsset(remote.ID)
	if err != nil {
		return err
	}
	if local != nil && remote.UpdatedAt <= local.UpdatedAt {
		// Local is same or newer: keep it unchanged; it will be pushed.
		return nil
	}
	merged := *remote
	merged.Synced = true
	merged.KeyPending = false
	if local != nil {
		// The cloud row never carries a usable local path.
		merged.LocalPath = local.LocalPath
	} else {
		merged.LocalPath = ""
	}
	return e.store.UpsertAsset(&merged)
}

func (e *SyncEngine) mergeAssetDelete(del *model.DeletePayload) error {
	local, err := e.store.GetAsset(del.ID)
	if err != nil {
		return err
	}
	if local == nil {
		// Tombstone for a record this device never had; keep it so retention
		// and conflict detection converge across devices.
		return e.store.UpsertAsset(&model.Asset{
			ID:        del.ID,
			Deleted:   true,
			DeletedAt: del.DeletedAt,
			UpdatedAt: del.UpdatedAt,
			Synced:    true,
		})
	}
	if del.UpdatedAt <= local.UpdatedAt {
		return nil
	}
	merged := *local
	merged.Deleted = true
	merged.DeletedAt = del.DeletedAt
	merged.UpdatedAt = del.UpdatedAt
	merged.Synced = true
	return e.store.UpsertAsset(&merged)
}

func (e *SyncEngine) mergeTag(remote *model.Tag) error {
	local, err := e.store.GetTag(remote.ID)
	if err != nil {
		return err
	}
	if local != nil && remote.UpdatedAt <= local.UpdatedAt {
		return nil
	}
	merged := *remote
	merged.Synced = true
	return e.store.UpsertTag(&merged)
}

// uploadObjects uploads file bytes for collected assets that have no object
// key yet. It must complete (or be retried next cycle) before push: pushing
// without a key would publish an unreachable reference. A per-item failure is
// logged and the item is dropped from this cycle's push set, not fatal.
func (e *SyncEngine) uploadObjects(ctx context.Context, assets []*model.Asset) ([]*model.Asset, int) {
	kept := assets[:0]
	uploaded := 0
	for _, a := range assets {
		if a.ObjectKey != "" || a.Deleted {
			kept = append(kept, a)
			continue
		}
		key, err := e.uploadOne(ctx, a)
		if err != nil {
			e.logger.Warn("object upload failed, retrying next cycle", "asset", a.ID, "error", err)
			continue
		}
		a.ObjectKey = key
		kept = append(kept, a)
		uploaded++
	}
	return kept, uploaded
}

// uploadOne runs the two-step "upload then record key" saga. The pending
// marker is set before the network call so a crash between upload and record
// is detectable and repairable instead of silently leaving a key-less asset.
func (e *SyncEngine) uploadOne(ctx context.Context, a *model.Asset) (string, error) {
	if a.LocalPath == "" {
		return "", fmt.Errorf("asset has no local file")
	}
	data, err := e.fs.ReadFile(a.LocalPath)
	if err != nil {
		return "", fmt.Errorf("reading local file: %w", err)
	}

	if err := e.store.MarkKeyPending(a.ID, true); err != nil {
		return "", fmt.Errorf("marking key pending: %w", err)
	}

	key := ObjectKeyFor(e.idgen, a.Name)
	if err := e.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		// Nothing landed remotely; clear the marker so the next cycle retries
		// from a clean state.
		if clearErr := e.store.MarkKeyPending(a.ID, false); clearErr != nil {
			e.logger.Error("clearing pending marker failed", "asset", a.ID, "error", clearErr)
		}
		return "", fmt.Errorf("uploading object: %w", err)
	}

	if err := e.store.SetObjectKeys(a.ID, key, a.ThumbKey); err != nil {
		return "", fmt.Errorf("recording object key: %w", err)
	}
	e.logger.Debug("object uploaded", "asset", a.ID, "key", key)
	return key, nil
}

// ObjectKeyFor derives a fresh object-store key. Keys are unique per upload
// so a repair after object loss yields a new key rather than reusing the
// unrecoverable one.
func ObjectKeyFor(idgen IDGenerator, name string) string {
	return "assets/" + idgen.New() + filepath.Ext(name)
}

// push converts collected local changes to mutation events and submits them
// as one batch. Returns the number of pushed entities and the authoritative
// server timestamp for the cycle (0 when there was nothing to push).
func (e *SyncEngine) push(ctx context.Context, sess *Session, assets []*model.Asset, tags []*model.Tag, links []model.AssetTag) (int, model.Millis, error) {
	events := make([]model.Event, 0, len(assets)+len(tags)+len(links))

	assetIDs := make([]string, 0, len(assets))
	for _, a := range assets {
		ev, err := e.assetEvent(sess, a)
		if err != nil {
			return 0, 0, err
		}
		events = append(events, *ev)
		assetIDs = append(assetIDs, a.ID)
	}

	tagIDs := make([]string, 0, len(tags))
	for _, t := range tags {
		payload, err := json.Marshal(t)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding tag %s: %w", t.ID, err)
		}
		events = append(events, model.Event{
			ID:            e.idgen.New(),
			Kind:          model.KindTagUpsert,
			EntityType:    model.EntityTag,
			EntityID:      t.ID,
			Payload:       payload,
			DeviceID:      sess.DeviceID,
			ClientTS:      NowMillis(e.clock),
			SchemaVersion: 1,
		})
		tagIDs = append(tagIDs, t.ID)
	}

	for _, l := range links {
		payload, err := json.Marshal(l)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding link: %w", err)
		}
		events = append(events, model.Event{
			ID:            e.idgen.New(),
			Kind:          model.KindLinkAdd,
			EntityType:    model.EntityLink,
			EntityID:      l.AssetID + ":" + l.TagID,
			Payload:       payload,
			DeviceID:      sess.DeviceID,
			ClientTS:      NowMillis(e.clock),
			SchemaVersion: 1,
		})
	}

	if len(events) == 0 {
		return 0, 0, nil
	}

	res, err := e.gateway.PushBatch(ctx, sess.DeviceID, e.idgen.New(), events)
	if err != nil {
		return 0, 0, err
	}

	// Accepted and duplicate both mean the event is durably stored.
	if err := e.store.MarkAssetsSynced(assetIDs); err != nil {
		return 0, 0, fmt.Errorf("marking assets synced: %w", err)
	}
	if err := e.store.MarkTagsSynced(tagIDs); err != nil {
		return 0, 0, fmt.Errorf("marking tags synced: %w", err)
	}

	return len(events), res.ServerTimestamp, nil
}

func (e *SyncEngine) assetEvent(sess *Session, a *model.Asset) (*model.Event, error) {
	if a.Deleted {
		payload, err := json.Marshal(model.DeletePayload{
			ID:        a.ID,
			DeletedAt: a.DeletedAt,
			UpdatedAt: a.UpdatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding delete for %s: %w", a.ID, err)
		}
		return &model.Event{
			ID:            e.idgen.New(),
			Kind:          model.KindAssetDelete,
			EntityType:    model.EntityAsset,
			EntityID:      a.ID,
			Payload:       payload,
			DeviceID:      sess.DeviceID,
			ClientTS:      NowMillis(e.clock),
			SchemaVersion: 1,
		}, nil
	}

	// The local path and pending marker are device-local; the cloud row
	// never carries them.
	wire := *a
	wire.LocalPath = ""
	wire.KeyPending = false
	payload, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("encoding asset %s: %w", a.ID, err)
	}
	return &model.Event{
		ID:            e.idgen.New(),
		Kind:          model.KindAssetUpsert,
		EntityType:    model.EntityAsset,
		EntityID:      a.ID,
		Payload:       payload,
		DeviceID:      sess.DeviceID,
		ClientTS:      NowMillis(e.clock),
		SchemaVersion: 1,
	}, nil
}
