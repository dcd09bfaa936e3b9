package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

func addWatch(t *testing.T, reg *Registry, fs *fakeStore, bundleID, watchID, clientID string) {
	t.Helper()
	handle, err := fs.WatchFile("/app1/"+watchID, func(store.Change) {})
	require.NoError(t, err)
	require.NoError(t, reg.AddWatcher(bundleID, watchID, handle, clientID))
}

// TestAddWatcherReplacesDuplicateID tests that reusing a watch id stops the
// prior handle.
func TestAddWatcherReplacesDuplicateID(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs))

	addWatch(t, reg, fs, "b1", "w1", "c1")
	addWatch(t, reg, fs, "b1", "w1", "c2")

	assert.Equal(t, 1, fs.stopped)
	owner, ok := reg.WatcherOwner("b1", "w1")
	require.True(t, ok)
	assert.Equal(t, "c2", owner)
}

// TestRemoveWatchersByClient tests the per-bundle purge of one client.
func TestRemoveWatchersByClient(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs))

	addWatch(t, reg, fs, "b1", "w1", "c1")
	addWatch(t, reg, fs, "b1", "w2", "c1")
	addWatch(t, reg, fs, "b1", "w3", "c2")

	assert.Equal(t, 2, reg.RemoveWatchersByClient("b1", "c1"))
	assert.Equal(t, 2, fs.stopped)

	watchers, err := reg.GetWatchers("b1")
	require.NoError(t, err)
	require.Len(t, watchers, 1)
	assert.Equal(t, "w3", watchers[0].WatchID)
}

// TestRemoveClientWatchersAcrossBundles tests the disconnect-time purge.
func TestRemoveClientWatchersAcrossBundles(t *testing.T) {
	reg := NewRegistry(nil)
	fs1 := newFakeStore(store.Manifest{})
	fs2 := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs1))
	reg.Set("b2", activeWithStore("b2", fs2))

	addWatch(t, reg, fs1, "b1", "w1", "c1")
	addWatch(t, reg, fs2, "b2", "w2", "c1")
	addWatch(t, reg, fs2, "b2", "w3", "c2")

	assert.Equal(t, 2, reg.RemoveClientWatchers("c1"))
	_, ok := reg.WatcherOwner("b1", "w1")
	assert.False(t, ok)
	_, ok = reg.WatcherOwner("b2", "w3")
	assert.True(t, ok)
}

// TestRouterDeliversToOwnerOnly tests normal delivery.
func TestRouterDeliversToOwnerOnly(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs))
	addWatch(t, reg, fs, "b1", "w1", "c1")

	dir := newFakeDirectory("c1")
	router := NewRouter(reg, dir, nil)

	router.Deliver("b1", "w1", "change")
	assert.Equal(t, 1, dir.sent())

	// A stopped subscription's late callback is discarded.
	reg.RemoveWatcher("b1", "w1")
	router.Deliver("b1", "w1", "change")
	assert.Equal(t, 1, dir.sent())
}

// TestRouterPurgesVanishedClient tests that a failed delivery removes every
// watcher the dead client owned, not just the firing one.
func TestRouterPurgesVanishedClient(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs))

	addWatch(t, reg, fs, "b1", "w1", "c1")
	addWatch(t, reg, fs, "b1", "w2", "c1")
	addWatch(t, reg, fs, "b1", "w3", "c2")

	dir := newFakeDirectory("c1", "c2")
	router := NewRouter(reg, dir, nil)
	dir.drop("c1")

	router.Deliver("b1", "w1", "change")

	watchers, err := reg.GetWatchers("b1")
	require.NoError(t, err)
	require.Len(t, watchers, 1)
	assert.Equal(t, "w3", watchers[0].WatchID)
	assert.Equal(t, 0, dir.sent())
}
