package bundle

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
)

// Registry maps launcher bundle ids to their current state. All mutation
// happens under one mutex and replaces the map entry wholesale, so no
// interleaved callback can observe a half-updated state.
type Registry struct {
	mu      sync.Mutex
	bundles map[string]State
	logger  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		bundles: make(map[string]State),
		logger:  logger,
	}
}

// Get returns the current state for a launcher bundle id.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.bundles[id]
	return st, ok
}

// Set replaces the state for id. A prior active state is torn down first:
// its monitor and watchers stop and its store closes before the entry is
// overwritten.
func (r *Registry) Set(id string, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.bundles[id]; ok {
		r.teardownLocked(prior)
	}
	r.bundles[id] = st
}

// Remove deletes the entry for id, tearing down an active state, and reports
// whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.bundles[id]
	if !ok {
		return false
	}
	r.teardownLocked(st)
	delete(r.bundles, id)
	return true
}

// BeginLoad atomically claims a load slot for id. When the bundle is already
// active or loading the existing state is returned with started false;
// otherwise a fresh Loading entry is installed and returned with started
// true. Errored entries are superseded, which is how retries happen.
func (r *Registry) BeginLoad(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch st := r.bundles[id].(type) {
	case *Active:
		return st, false
	case *Loading:
		return st, false
	}
	loading := newLoading(id)
	r.bundles[id] = loading
	return loading, true
}

// FinishLoad resolves a claimed load slot: st is installed only while loading
// is still the current entry for its id. When an unload or a superseding
// claim raced the load, nothing is installed, false is returned, and the
// caller keeps ownership of whatever st holds.
func (r *Registry) FinishLoad(loading *Loading, st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.bundles[loading.LauncherBundleID]
	if !ok || current != loading {
		return false
	}
	r.bundles[loading.LauncherBundleID] = st
	return true
}

// GetStore returns the store of an active bundle.
func (r *Registry) GetStore(id string) (store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return nil, ErrNotInitialized
	}
	return active.Store, nil
}

// GetManifest returns the manifest of an active bundle.
func (r *Registry) GetManifest(id string) (store.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return store.Manifest{}, ErrNotInitialized
	}
	return active.Manifest, nil
}

// GetWatchers returns a snapshot of the watcher entries of an active bundle.
func (r *Registry) GetWatchers(id string) ([]WatcherEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return nil, ErrNotInitialized
	}
	out := make([]WatcherEntry, 0, len(active.watchers))
	for _, entry := range active.watchers {
		out = append(out, *entry)
	}
	return out, nil
}

// AppSlug returns the active app slug for id.
func (r *Registry) AppSlug(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return "", ErrNotInitialized
	}
	return active.AppSlug, nil
}

// SetAppSlug updates the active app slug for id.
func (r *Registry) SetAppSlug(id, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return ErrNotInitialized
	}
	active.AppSlug = slug
	return nil
}

// ActiveCount returns how many bundles are currently active.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.bundles {
		if _, ok := st.(*Active); ok {
			n++
		}
	}
	return n
}

// ActiveIDs returns the launcher bundle ids of every active bundle.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, st := range r.bundles {
		if _, ok := st.(*Active); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkHealthy records the connection health of an active bundle, reporting
// whether the value changed and whether the bundle is still active.
func (r *Registry) MarkHealthy(id string, healthy bool) (changed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, isActive := r.bundles[id].(*Active)
	if !isActive {
		return false, false
	}
	changed = active.Healthy != healthy
	active.Healthy = healthy
	return changed, true
}

// ReconnectAttempt increments and returns the attempt counter.
func (r *Registry) ReconnectAttempt(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return 0, false
	}
	active.ReconnectAttempts++
	return active.ReconnectAttempts, true
}

// ResetReconnectAttempts zeroes the attempt counter after a successful
// reconnect.
func (r *Registry) ResetReconnectAttempts(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active, ok := r.bundles[id].(*Active); ok {
		active.ReconnectAttempts = 0
	}
}

// AttachMonitor hands the monitor stop handle to the active state so
// teardown can stop the health loop. Reports false when the bundle was
// replaced or removed in the meantime; the caller must then stop the monitor
// itself.
func (r *Registry) AttachMonitor(id string, stop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[id].(*Active)
	if !ok {
		return false
	}
	active.stopMonitor = stop
	return true
}

// teardownLocked releases everything an outgoing state owns. Stop-handle
// errors are logged and swallowed, never propagated.
func (r *Registry) teardownLocked(st State) {
	active, ok := st.(*Active)
	if !ok {
		return
	}
	log := r.logger.WithBundle(active.LauncherBundleID)
	if active.stopMonitor != nil {
		active.stopMonitor()
	}
	for watchID, entry := range active.watchers {
		if err := entry.handle.Stop(); err != nil {
			log.Warn("watcher stop failed", zap.String("watch_id", watchID), zap.Error(err))
		}
	}
	active.watchers = make(map[string]*WatcherEntry)
	if err := active.Store.Close(); err != nil {
		log.Warn("store close failed", zap.Error(err))
	}
}
