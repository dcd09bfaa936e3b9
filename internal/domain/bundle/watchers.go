package bundle

import (
	"go.uber.org/zap"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
)

// AddWatcher registers a change subscription on an active bundle, owned by
// ownerClientID. A watch id already in use is replaced, stopping the old
// handle.
func (r *Registry) AddWatcher(bundleID, watchID string, handle store.Watch, ownerClientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[bundleID].(*Active)
	if !ok {
		return ErrNotInitialized
	}
	if prior, exists := active.watchers[watchID]; exists {
		r.stopHandleLocked(bundleID, watchID, prior)
	}
	active.watchers[watchID] = &WatcherEntry{
		WatchID:       watchID,
		OwnerClientID: ownerClientID,
		handle:        handle,
	}
	return nil
}

// RemoveWatcher stops and deletes one subscription, reporting whether it
// existed.
func (r *Registry) RemoveWatcher(bundleID, watchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[bundleID].(*Active)
	if !ok {
		return false
	}
	entry, exists := active.watchers[watchID]
	if !exists {
		return false
	}
	r.stopHandleLocked(bundleID, watchID, entry)
	delete(active.watchers, watchID)
	return true
}

// RemoveWatchersByClient purges every subscription a vanished client owned
// on one bundle, returning how many were removed. A dead client will never
// receive another notification; leaving its engine-side watchers running
// wastes resources indefinitely.
func (r *Registry) RemoveWatchersByClient(bundleID, clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[bundleID].(*Active)
	if !ok {
		return 0
	}
	removed := 0
	for watchID, entry := range active.watchers {
		if entry.OwnerClientID != clientID {
			continue
		}
		r.stopHandleLocked(bundleID, watchID, entry)
		delete(active.watchers, watchID)
		removed++
	}
	return removed
}

// RemoveClientWatchers purges a client's subscriptions across every bundle.
// Used when the client connection itself goes away.
func (r *Registry) RemoveClientWatchers(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for bundleID, st := range r.bundles {
		active, ok := st.(*Active)
		if !ok {
			continue
		}
		for watchID, entry := range active.watchers {
			if entry.OwnerClientID != clientID {
				continue
			}
			r.stopHandleLocked(bundleID, watchID, entry)
			delete(active.watchers, watchID)
			removed++
		}
	}
	return removed
}

// WatcherOwner resolves who owns a watch id on a bundle.
func (r *Registry) WatcherOwner(bundleID, watchID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.bundles[bundleID].(*Active)
	if !ok {
		return "", false
	}
	entry, exists := active.watchers[watchID]
	if !exists {
		return "", false
	}
	return entry.OwnerClientID, true
}

func (r *Registry) stopHandleLocked(bundleID, watchID string, entry *WatcherEntry) {
	if err := entry.handle.Stop(); err != nil {
		r.logger.WithBundle(bundleID).Warn("watcher stop failed",
			zap.String("watch_id", watchID), zap.Error(err))
	}
}

// ClientDirectory is the live client list notifications are delivered
// against. Send reports false when the client no longer exists.
type ClientDirectory interface {
	Send(clientID string, message any) bool
}

// Router fans watch notifications out to exactly the client that registered
// the watch. The owner is resolved against the live directory on every
// delivery, since clients can be destroyed between registration and
// callback.
type Router struct {
	reg     *Registry
	clients ClientDirectory
	logger  *logging.Logger
}

// NewRouter creates a notification router.
func NewRouter(reg *Registry, clients ClientDirectory, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{reg: reg, clients: clients, logger: logger}
}

// Deliver posts one notification to the watch's owner. A missing watcher
// means the subscription was stopped mid-flight; the callback is discarded.
// A missing client garbage-collects every watcher that client owned, not
// just the firing one.
func (ro *Router) Deliver(bundleID, watchID string, message any) {
	owner, ok := ro.reg.WatcherOwner(bundleID, watchID)
	if !ok {
		return
	}
	if ro.clients.Send(owner, message) {
		return
	}
	purged := ro.reg.RemoveWatchersByClient(bundleID, owner)
	ro.logger.WithBundle(bundleID).Info("purged watchers of vanished client",
		zap.String("client_id", owner), zap.Int("count", purged))
}
