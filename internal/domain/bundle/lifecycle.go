package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/cache"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
)

// OrchestratorConfig tunes bundle loading.
type OrchestratorConfig struct {
	// DefaultServerURL is the sync endpoint of last resort, used when
	// neither the load request nor the manifest names one.
	DefaultServerURL string
	// SyncWait bounds the initial path-index wait after the first connect.
	// A first-ever client sees nothing arrive and proceeds at expiry.
	SyncWait time.Duration
}

// Orchestrator owns bundle creation and destruction. It is the only
// component that instantiates or closes document stores.
type Orchestrator struct {
	reg     *Registry
	cache   *cache.Cache
	events  Broadcaster
	monitor *Monitor
	factory store.Factory
	cfg     OrchestratorConfig
	metrics *monitoring.Metrics
	logger  *logging.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewOrchestrator wires the lifecycle entry points. metrics may be nil.
func NewOrchestrator(reg *Registry, c *cache.Cache, events Broadcaster, monitor *Monitor, factory store.Factory, cfg OrchestratorConfig, metrics *monitoring.Metrics, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.SyncWait <= 0 {
		cfg.SyncWait = time.Second
	}
	return &Orchestrator{
		reg:     reg,
		cache:   c,
		events:  events,
		monitor: monitor,
		factory: factory,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// DefaultServerURL exposes the configured fallback sync endpoint.
func (o *Orchestrator) DefaultServerURL() string {
	return o.cfg.DefaultServerURL
}

// LoadBundle loads bundle bytes under launcherBundleID. A bundle already
// active with this id short-circuits as a skipped success; a concurrent load
// for the same id awaits the in-flight one rather than instantiating a
// second store. serverURL, when non-empty, overrides both the manifest
// endpoint and the configured default.
func (o *Orchestrator) LoadBundle(ctx context.Context, data []byte, serverURL, launcherBundleID string, cached *store.Manifest) (LoadResult, error) {
	claimed, started := o.reg.BeginLoad(launcherBundleID)
	if !started {
		switch st := claimed.(type) {
		case *Active:
			return LoadResult{Skipped: true}, nil
		case *Loading:
			res, err := st.Wait(ctx)
			if err != nil {
				return LoadResult{}, err
			}
			if res.Err != nil {
				return res, res.Err
			}
			return LoadResult{Skipped: true}, nil
		}
	}

	loading := claimed.(*Loading)
	res := o.doLoad(ctx, loading, data, serverURL, cached)
	loading.finish(res)
	if o.metrics != nil {
		o.metrics.BundlesActive.Set(float64(o.reg.ActiveCount()))
		if res.Err != nil {
			o.metrics.BundleLoads.WithLabelValues("error").Inc()
		} else {
			o.metrics.BundleLoads.WithLabelValues("success").Inc()
		}
	}
	return res, res.Err
}

func (o *Orchestrator) doLoad(ctx context.Context, loading *Loading, data []byte, serverURL string, cached *store.Manifest) LoadResult {
	launcherBundleID := loading.LauncherBundleID
	log := o.logger.WithBundle(launcherBundleID)
	namespace := "bundle-" + launcherBundleID

	st, err := o.factory(data, store.StorageConfig{Namespace: namespace})
	if err != nil {
		err = fmt.Errorf("decode bundle: %w", err)
		o.reg.FinishLoad(loading, &Errored{LauncherBundleID: launcherBundleID, Err: err})
		log.Error("bundle load failed", zap.Error(err))
		return LoadResult{Err: err}
	}

	manifest := st.Manifest()
	if cached != nil {
		manifest = *cached
	}
	wsURL := resolveEndpoint(serverURL, manifest, o.cfg.DefaultServerURL)

	if wsURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := st.ConnectWebsocket(connectCtx, wsURL)
		cancel()
		if err != nil {
			// Start disconnected; the monitor takes over retrying.
			log.Warn("initial sync connect failed", zap.String("ws_url", wsURL), zap.Error(err))
		} else if !awaitRemoteRoot(st, o.cfg.SyncWait, ctx.Done()) {
			log.Debug("no remote change within sync window, proceeding")
		}
	}

	appSlug := ""
	if len(manifest.Entrypoints) > 0 {
		appSlug = manifest.Entrypoints[0]
	}

	active := NewActive(manifest.RootID, launcherBundleID, st, manifest, appSlug, wsURL)
	if !o.reg.FinishLoad(loading, active) {
		// Unloaded while the load was in flight; the unload wins.
		if err := st.Close(); err != nil {
			log.Warn("store close failed", zap.Error(err))
		}
		err := fmt.Errorf("%w: unloaded during load", ErrNotInitialized)
		log.Info("bundle unloaded during load, discarding store")
		return LoadResult{Err: err}
	}

	if wsURL != "" {
		stop := o.monitor.Start(launcherBundleID, wsURL)
		if !o.reg.AttachMonitor(launcherBundleID, stop) {
			stop()
		}
	}

	if err := o.cache.SaveResume(cache.Record{
		LastBundleID:     launcherBundleID,
		AppSlug:          appSlug,
		BundleBytes:      data,
		WSURL:            wsURL,
		StorageNamespace: namespace,
	}); err != nil {
		log.Warn("resume record write failed", zap.Error(err))
	}

	log.Info("bundle active",
		zap.String("root_id", manifest.RootID),
		zap.String("app_slug", appSlug),
		zap.String("ws_url", wsURL),
	)
	return LoadResult{}
}

// UnloadBundle removes a bundle, cascading monitor and watcher teardown. The
// resume record is cleared only when no bundle remains active.
func (o *Orchestrator) UnloadBundle(id string) bool {
	removed := o.reg.Remove(id)
	if o.reg.ActiveCount() == 0 {
		if err := o.cache.ClearResume(); err != nil {
			o.logger.Warn("resume record clear failed", zap.Error(err))
		}
	}
	if o.metrics != nil {
		o.metrics.BundlesActive.Set(float64(o.reg.ActiveCount()))
	}
	if removed {
		o.logger.WithBundle(id).Info("bundle unloaded")
	}
	return removed
}

// SetAppSlug updates the served app slug of an active bundle, and the resume
// record when it describes the same bundle. Clients may set the slug before
// activation; the registry update is then skipped and only the durable
// record changes, so the slug is picked up when the bundle loads.
func (o *Orchestrator) SetAppSlug(id, slug string) error {
	if err := o.reg.SetAppSlug(id, slug); err != nil && !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if last, ok, _ := o.cache.Get(cache.KeyLastBundleID); ok && string(last) == id {
		if err := o.cache.Put(cache.KeyAppSlug, []byte(slug)); err != nil {
			o.logger.WithBundle(id).Warn("app slug persist failed", zap.Error(err))
		}
	}
	return nil
}

// ClearResume drops the durable record, returning the subsystem to a fully
// idle condition on the next restart. The fetch router invokes this for the
// scope-root reset signal.
func (o *Orchestrator) ClearResume() error {
	return o.cache.ClearResume()
}

// AutoResumeFromCache runs once at startup and reconstructs exactly the
// last-active bundle from the durable record. Any failure clears the cache
// and broadcasts needsReinit so clients know to re-initiate a load instead
// of silently seeing empty data.
func (o *Orchestrator) AutoResumeFromCache(ctx context.Context) error {
	defer o.readyOnce.Do(func() { close(o.ready) })

	rec, ok, err := o.cache.LoadResume()
	if err != nil {
		return o.resetAfterResumeFailure(err)
	}
	if !ok {
		o.logger.Info("no resume record, starting idle")
		return nil
	}

	log := o.logger.WithBundle(rec.LastBundleID)
	log.Info("resuming last active bundle")
	if _, err := o.LoadBundle(ctx, rec.BundleBytes, rec.WSURL, rec.LastBundleID, nil); err != nil {
		return o.resetAfterResumeFailure(err)
	}
	if rec.AppSlug != "" {
		if err := o.reg.SetAppSlug(rec.LastBundleID, rec.AppSlug); err != nil {
			log.Warn("app slug restore failed", zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) resetAfterResumeFailure(cause error) error {
	o.logger.Warn("auto-resume failed, resetting to idle", zap.Error(cause))
	if err := o.cache.ClearResume(); err != nil {
		o.logger.Warn("resume record clear failed", zap.Error(err))
	}
	o.events.Broadcast(Event{Type: EventNeedsReinit, Error: cause.Error()})
	return cause
}

// Ready is closed once restart recovery has run, successfully or not. The
// fetch router waits on it, bounded, before failing requests against a
// not-yet-active bundle.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// AwaitReady blocks until recovery completed, the timeout expired, or ctx
// was canceled, reporting whether recovery has completed.
func (o *Orchestrator) AwaitReady(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// resolveEndpoint picks the sync endpoint: explicit override, then the
// manifest-declared websocket URI, then the configured default.
func resolveEndpoint(override string, manifest store.Manifest, fallback string) string {
	if override != "" {
		return override
	}
	for _, uri := range manifest.NetworkURIs {
		if strings.HasPrefix(uri, "ws://") || strings.HasPrefix(uri, "wss://") {
			return uri
		}
	}
	return fallback
}
