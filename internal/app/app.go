package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"mediasync/internal/config"
	"mediasync/internal/core"
	"mediasync/internal/fsx"
	"mediasync/internal/gateway"
	"mediasync/internal/localdb"
	"mediasync/internal/model"
	"mediasync/internal/objectstore"
)

// App is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the local DB lifecycle on Close.
type App struct {
	cfg         *config.Config
	store       core.LocalStore
	objects     core.ObjectStore
	fs          core.Filesystem
	client      core.GatewayClient
	session     *core.Session
	engine      *core.SyncEngine
	checker     *core.IntegrityChecker
	resolver    *core.ConflictResolver
	repairer    *core.RepairManager
	consistency *core.Consistency
	logFile     *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Audit").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	store, err := localdb.NewStoreFromConfig(cfg.Database, cfg.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("creating local store: %w", err)
	}

	objects, err := objectstore.NewStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	// An unregistered device still gets a session bound to the store: the
	// token source reads empty until login succeeds.
	sess, err := core.LoadSession(store)
	if err != nil {
		sess = core.NewSession(store, "", cfg.Gateway.OwnerID)
	}

	client := gateway.NewClient(gateway.ClientOptions{
		BaseURL: cfg.Gateway.URL,
		Tokens:  sess,
	})

	fs := fsx.NewOSFilesystem()
	coreLog := &slogAdapter{l: logger}
	clock := core.RealClock{}
	idgen := core.UUIDGenerator{}

	engine := core.NewSyncEngine(store, objects, client, fs, coreLog, clock, idgen)
	engine.SetPageSize(cfg.Sync.PageSize)

	checker := core.NewIntegrityChecker(store, objects, client, fs, coreLog)
	resolver := core.NewConflictResolver(store, coreLog)
	repairer := core.NewRepairManager(store, objects, fs, coreLog, clock, idgen,
		cfg.BaseDir, core.DeletePolicy{
			DeleteRemote:  cfg.Retention.DeleteRemote,
			RetentionDays: cfg.Retention.Days,
		})
	consistency := core.NewConsistency(store, checker, resolver, repairer, client, fs, coreLog, clock)

	return &App{
		cfg:         cfg,
		store:       store,
		objects:     objects,
		fs:          fs,
		client:      client,
		session:     sess,
		engine:      engine,
		checker:     checker,
		resolver:    resolver,
		repairer:    repairer,
		consistency: consistency,
		logFile:     logFile,
	}, nil
}

// Registered reports whether this device has completed a login.
func (a *App) Registered() bool {
	return a.session.DeviceID != ""
}

func (a *App) requireSession() error {
	if !a.Registered() {
		return fmt.Errorf("device not registered: run login first")
	}
	return nil
}

// Login registers this device with the gateway and stores the issued token.
// A device that was registered before keeps its id and gets a fresh token.
func (a *App) Login(ctx context.Context) error {
	if a.cfg.Gateway.OwnerID == "" {
		return fmt.Errorf("gateway.owner_id is not configured")
	}

	deviceID := a.session.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	resp, err := a.client.Register(ctx, core.RegisterRequest{
		OwnerID:    a.cfg.Gateway.OwnerID,
		DeviceID:   deviceID,
		DeviceName: a.cfg.DeviceName,
		DeviceType: "desktop",
		Platform:   runtime.GOOS,
	})
	if err != nil {
		return fmt.Errorf("registering device: %w", err)
	}

	a.session = core.NewSession(a.store, deviceID, a.cfg.Gateway.OwnerID)
	if err := a.session.Save(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if err := a.session.SetToken(resp.Token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// StoreToken saves a token issued out of band for the current device.
func (a *App) StoreToken(token string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	return a.session.SetToken(token)
}

// ImportFile hashes the file and records it as a local asset without an
// object key, so the next sync cycle uploads and announces it. The pending-key
// marker is set by the upload itself, not here.
func (a *App) ImportFile(rawPath string) (*model.Asset, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	data, err := a.fs.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	existing, err := a.store.GetAsset(id)
	if err != nil {
		return nil, fmt.Errorf("checking for existing asset: %w", err)
	}
	if existing != nil && !existing.Deleted {
		return existing, nil
	}

	mimeType := mime.TypeByExtension(filepath.Ext(absPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := core.NowMillis(core.RealClock{})
	asset := &model.Asset{
		ID:        id,
		Name:      filepath.Base(absPath),
		LocalPath: absPath,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		Source:    "import",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		// Re-importing a soft-deleted file revives it.
		asset.CreatedAt = existing.CreatedAt
		asset.UseCount = existing.UseCount
		asset.LastUsedAt = existing.LastUsedAt
	}

	if err := a.store.UpsertAsset(asset); err != nil {
		return nil, fmt.Errorf("recording asset: %w", err)
	}
	return asset, nil
}

// Sync runs one full sync cycle.
func (a *App) Sync(ctx context.Context) (*core.SyncResult, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}
	return a.engine.Run(ctx, a.session)
}

// Audit runs the consistency checks, with repairs per opts.
func (a *App) Audit(ctx context.Context, opts core.AuditOptions) (*core.Report, error) {
	return a.consistency.Audit(ctx, opts)
}

// Health computes the library health score.
func (a *App) Health() (*core.HealthScore, error) {
	return a.consistency.Health()
}

// Orphans lists stored objects no local record references.
func (a *App) Orphans(ctx context.Context) (*core.OrphanReport, error) {
	return a.checker.CheckOrphanObjects(ctx)
}

// CleanupOrphans deletes the given orphaned objects.
func (a *App) CleanupOrphans(ctx context.Context, keys []string) *core.CleanupResult {
	return a.repairer.CleanupOrphans(ctx, keys)
}

// Delete removes an asset: soft by default, hard purges the row and,
// depending on policy, the stored object.
func (a *App) Delete(ctx context.Context, assetID string, hard bool) error {
	if hard {
		return a.repairer.HardDelete(ctx, assetID)
	}
	return a.repairer.SoftDelete(assetID)
}

// EnforceRetention purges soft-deleted assets older than the configured
// retention window. Returns the number of purged assets.
func (a *App) EnforceRetention(ctx context.Context) (int, error) {
	return a.repairer.EnforceRetention(ctx, a.cfg.Retention.Days)
}

// ResolveConflicts settles detected conflicts with the given choices.
// Conflicts without a choice use their recommendation.
func (a *App) ResolveConflicts(conflicts []core.Conflict, choices map[string]core.Resolution) *core.ResolveResult {
	return a.consistency.ResolveConflicts(conflicts, choices)
}

// Close releases the local database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing local store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
