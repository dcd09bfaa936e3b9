package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/bundle"
	"github.com/tonk-labs/tonk-sub003/internal/domain/frame"
	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
	"github.com/tonk-labs/tonk-sub003/internal/shared/types"
)

// preActivation lists the operations legal before a bundle is active.
var preActivation = map[string]bool{
	"init":         true,
	"loadBundle":   true,
	"getServerUrl": true,
	"ping":         true,
	"setAppSlug":   true,
}

// Dispatcher routes structured control messages to per-operation handlers.
// Every handler resolves its target bundle from the explicit launcher bundle
// id on the message, performs the store operation, and produces exactly one
// response carrying the request's correlation id.
type Dispatcher struct {
	reg     *bundle.Registry
	orch    *bundle.Orchestrator
	router  *bundle.Router
	clients bundle.ClientDirectory
	metrics *monitoring.Metrics
	logger  *logging.Logger

	framesMu sync.Mutex
	frames   map[string]*frame.Pool // per-client frame admission
}

// NewDispatcher wires the message dispatcher. metrics may be nil.
func NewDispatcher(reg *bundle.Registry, orch *bundle.Orchestrator, router *bundle.Router, clients bundle.ClientDirectory, metrics *monitoring.Metrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		reg:     reg,
		orch:    orch,
		router:  router,
		clients: clients,
		metrics: metrics,
		logger:  logger,
		frames:  make(map[string]*frame.Pool),
	}
}

// Handle dispatches one request and returns its single response.
func (d *Dispatcher) Handle(ctx context.Context, clientID string, req types.Request) types.Response {
	if d.metrics != nil {
		d.metrics.WSMessages.WithLabelValues(req.Type).Inc()
	}
	if !preActivation[req.Type] && req.LauncherBundleID == "" {
		return fail(req, errors.New("launcherBundleId is required"))
	}

	switch req.Type {
	case "ping":
		return ok(req, map[string]any{"pong": true})
	case "init":
		return ok(req, map[string]any{"clientId": clientID})
	case "getServerUrl":
		return ok(req, map[string]any{"serverUrl": d.orch.DefaultServerURL()})
	case "setAppSlug":
		return d.setAppSlug(clientID, req)
	case "loadBundle":
		return d.loadBundle(ctx, clientID, req)
	case "unloadBundle":
		return d.unloadBundle(req)
	case "readFile":
		return d.readFile(req)
	case "writeFile":
		return d.writeFile(req)
	case "deleteFile":
		return d.deleteFile(req)
	case "rename":
		return d.rename(req)
	case "exists":
		return d.exists(req)
	case "updateFile":
		return d.updateFile(req)
	case "patchFile":
		return d.patchFile(req)
	case "listDirectory":
		return d.listDirectory(req)
	case "watchFile":
		return d.watch(clientID, req, false)
	case "watchDirectory":
		return d.watch(clientID, req, true)
	case "unwatchFile", "unwatchDirectory":
		return d.unwatch(req)
	case "toBytes":
		return d.toBytes(req, false)
	case "forkToBytes":
		return d.toBytes(req, true)
	case "getManifest":
		return d.getManifest(req)
	default:
		return fail(req, errors.New("unknown message type: "+req.Type))
	}
}

// ClientGone garbage-collects everything tied to a disconnected client: its
// watchers across every bundle and its frame pool.
func (d *Dispatcher) ClientGone(clientID string) {
	purged := d.reg.RemoveClientWatchers(clientID)
	if purged > 0 {
		d.logger.Info("purged watchers of disconnected client",
			zap.String("client_id", clientID), zap.Int("count", purged))
	}
	d.framesMu.Lock()
	delete(d.frames, clientID)
	d.framesMu.Unlock()
	d.updateWatcherGauge()
}

// resolveStore fetches the store of the target bundle, failing fast with the
// typed not-active error for anything outside the pre-activation allow-list.
func (d *Dispatcher) resolveStore(req types.Request) (store.Store, error) {
	if req.LauncherBundleID == "" {
		return nil, errors.New("launcherBundleId is required")
	}
	return d.reg.GetStore(req.LauncherBundleID)
}

func (d *Dispatcher) setAppSlug(clientID string, req types.Request) types.Response {
	if req.LauncherBundleID == "" {
		return fail(req, errors.New("launcherBundleId is required"))
	}
	if err := d.orch.SetAppSlug(req.LauncherBundleID, req.AppSlug); err != nil {
		return fail(req, err)
	}
	d.touchFrame(clientID, req.LauncherBundleID)
	return ok(req, nil)
}

func (d *Dispatcher) loadBundle(ctx context.Context, clientID string, req types.Request) types.Response {
	if req.LauncherBundleID == "" {
		return fail(req, errors.New("launcherBundleId is required"))
	}
	if len(req.BundleBytes) == 0 {
		return fail(req, errors.New("bundleBytes is required"))
	}
	res, err := d.orch.LoadBundle(ctx, req.BundleBytes, req.ServerURL, req.LauncherBundleID, nil)
	if err != nil {
		return fail(req, err)
	}
	d.touchFrame(clientID, req.LauncherBundleID)
	resp := ok(req, nil)
	resp.Skipped = res.Skipped
	return resp
}

func (d *Dispatcher) unloadBundle(req types.Request) types.Response {
	removed := d.orch.UnloadBundle(req.LauncherBundleID)
	d.updateWatcherGauge()
	return ok(req, map[string]any{"removed": removed})
}

func (d *Dispatcher) readFile(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	content, err := st.ReadFile(req.Path)
	if err != nil {
		return d.storeFail(req, "readFile", err)
	}
	return ok(req, content)
}

func (d *Dispatcher) writeFile(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	if req.Bytes != nil {
		err = st.SetFileWithBytes(req.Path, req.Bytes)
	} else {
		err = st.SetFile(req.Path, req.Content)
	}
	if err != nil {
		return d.storeFail(req, "writeFile", err)
	}
	return ok(req, nil)
}

func (d *Dispatcher) deleteFile(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	if err := st.DeleteFile(req.Path); err != nil {
		return d.storeFail(req, "deleteFile", err)
	}
	return ok(req, nil)
}

func (d *Dispatcher) rename(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	if err := st.Rename(req.OldPath, req.NewPath); err != nil {
		return d.storeFail(req, "rename", err)
	}
	return ok(req, nil)
}

func (d *Dispatcher) exists(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	present, err := st.Exists(req.Path)
	if err != nil {
		return d.storeFail(req, "exists", err)
	}
	return ok(req, map[string]any{"exists": present})
}

func (d *Dispatcher) updateFile(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	changed, err := st.UpdateFile(req.Path, req.Content)
	if err != nil {
		return d.storeFail(req, "updateFile", err)
	}
	return ok(req, map[string]any{"changed": changed})
}

func (d *Dispatcher) patchFile(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	if err := st.PatchFile(req.Path, req.Pointer, req.Value); err != nil {
		return d.storeFail(req, "patchFile", err)
	}
	return ok(req, nil)
}

func (d *Dispatcher) listDirectory(req types.Request) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	entries, err := st.ListDirectory(req.Path)
	if err != nil {
		return d.storeFail(req, "listDirectory", err)
	}
	return ok(req, map[string]any{"entries": entries})
}

func (d *Dispatcher) watch(clientID string, req types.Request, directory bool) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}

	bundleID := req.LauncherBundleID
	watchID := req.WatchID
	if watchID == "" {
		watchID = uuid.New().String()
	}
	noteType := types.NoteFileChanged
	if directory {
		noteType = types.NoteDirectoryChanged
	}

	deliver := func(ch store.Change) {
		if d.metrics != nil {
			d.metrics.Notifications.WithLabelValues("dispatched").Inc()
		}
		d.router.Deliver(bundleID, watchID, types.Notification{
			Type:             noteType,
			LauncherBundleID: bundleID,
			WatchID:          watchID,
			Path:             ch.Path,
			Origin:           string(ch.Origin),
		})
	}

	var handle store.Watch
	if directory {
		handle, err = st.WatchDirectory(req.Path, deliver)
	} else {
		handle, err = st.WatchFile(req.Path, deliver)
	}
	if err != nil {
		return d.storeFail(req, "watch", err)
	}

	if err := d.reg.AddWatcher(bundleID, watchID, handle, clientID); err != nil {
		// The bundle dropped out of active between resolve and register.
		handle.Stop()
		return fail(req, err)
	}
	d.updateWatcherGauge()
	return ok(req, map[string]any{"watchId": watchID})
}

func (d *Dispatcher) unwatch(req types.Request) types.Response {
	removed := d.reg.RemoveWatcher(req.LauncherBundleID, req.WatchID)
	d.updateWatcherGauge()
	return ok(req, map[string]any{"removed": removed})
}

func (d *Dispatcher) toBytes(req types.Request, fork bool) types.Response {
	st, err := d.resolveStore(req)
	if err != nil {
		return fail(req, err)
	}
	var data []byte
	if fork {
		data, err = st.ForkToBytes()
	} else {
		data, err = st.ToBytes()
	}
	if err != nil {
		return d.storeFail(req, "toBytes", err)
	}
	return ok(req, map[string]any{"bytes": data})
}

func (d *Dispatcher) getManifest(req types.Request) types.Response {
	manifest, err := d.reg.GetManifest(req.LauncherBundleID)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, manifest)
}

// touchFrame admits a bundle frame into the client's LRU pool, signaling the
// evicted frame to unload when the pool is full.
func (d *Dispatcher) touchFrame(clientID, bundleID string) {
	d.framesMu.Lock()
	pool, exists := d.frames[clientID]
	if !exists {
		pool = frame.NewPool(frame.DefaultCapacity, func(evicted string) {
			d.clients.Send(clientID, types.Notification{
				Type:    types.NoteUnloadFrame,
				FrameID: evicted,
			})
		})
		d.frames[clientID] = pool
	}
	d.framesMu.Unlock()
	pool.Touch(bundleID)
}

// storeFail logs a store failure with its context and converts it into the
// single typed failure response for the caller. Store errors never escape a
// handler unhandled.
func (d *Dispatcher) storeFail(req types.Request, op string, err error) types.Response {
	wrapped := bundle.WrapStore(op, req.Path, req.LauncherBundleID, err)
	d.logger.WithBundle(req.LauncherBundleID).Warn("store operation failed",
		zap.String("op", op), zap.String("path", req.Path), zap.Error(err))
	return fail(req, wrapped)
}

func (d *Dispatcher) updateWatcherGauge() {
	if d.metrics == nil {
		return
	}
	total := 0
	for _, id := range d.reg.ActiveIDs() {
		if watchers, err := d.reg.GetWatchers(id); err == nil {
			total += len(watchers)
		}
	}
	d.metrics.WatchersActive.Set(float64(total))
}

func ok(req types.Request, data any) types.Response {
	return types.Response{Type: req.Type, ID: req.ID, Success: true, Data: data}
}

func fail(req types.Request, err error) types.Response {
	return types.Response{Type: req.Type, ID: req.ID, Success: false, Error: err.Error()}
}
