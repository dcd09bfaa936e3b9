package bundle

import (
	"context"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

// State is one entry of the registry: a tagged union over the load phases of
// a bundle. Idle is represented by absence from the map.
type State interface {
	isState()
}

// LoadResult is the outcome a load resolves with. Concurrent loads for the
// same bundle await the first load's result instead of starting a second one.
type LoadResult struct {
	Skipped bool
	Err     error
}

// Loading marks an in-flight load. Waiters block on the done channel.
type Loading struct {
	LauncherBundleID string

	done   chan struct{}
	result LoadResult
}

func newLoading(launcherBundleID string) *Loading {
	return &Loading{
		LauncherBundleID: launcherBundleID,
		done:             make(chan struct{}),
	}
}

// Wait blocks until the load resolves or the context is done.
func (l *Loading) Wait(ctx context.Context) (LoadResult, error) {
	select {
	case <-l.done:
		return l.result, nil
	case <-ctx.Done():
		return LoadResult{}, ctx.Err()
	}
}

// finish resolves every waiter. Called exactly once, by the loader.
func (l *Loading) finish(res LoadResult) {
	l.result = res
	close(l.done)
}

func (*Loading) isState() {}

// WatcherEntry is one live change subscription, owned by the client that
// created it. Only that client receives its notifications.
type WatcherEntry struct {
	WatchID       string
	OwnerClientID string

	handle store.Watch
}

// Active is a fully operational bundle. It exclusively owns its store
// instance; all external access is mediated through the registry accessors.
type Active struct {
	BundleID         string // manifest root id
	LauncherBundleID string
	Store            store.Store
	Manifest         store.Manifest
	AppSlug          string
	WSURL            string

	Healthy           bool
	ReconnectAttempts int

	watchers    map[string]*WatcherEntry
	stopMonitor func()
}

// NewActive builds an active state. The monitor stop handle is attached
// after the monitor starts, via Registry.AttachMonitor.
func NewActive(bundleID, launcherBundleID string, st store.Store, manifest store.Manifest, appSlug, wsURL string) *Active {
	return &Active{
		BundleID:         bundleID,
		LauncherBundleID: launcherBundleID,
		Store:            st,
		Manifest:         manifest,
		AppSlug:          appSlug,
		WSURL:            wsURL,
		Healthy:          true,
		watchers:         make(map[string]*WatcherEntry),
	}
}

func (*Active) isState() {}

// Errored is terminal for one load attempt; a new load may retry.
type Errored struct {
	LauncherBundleID string
	Err              error
}

func (*Errored) isState() {}
