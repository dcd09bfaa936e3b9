package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

func activeWithStore(id string, fs *fakeStore) *Active {
	return NewActive("root-"+id, id, fs, fs.manifest, "app1", "")
}

// TestRegistryGetStoreRequiresActive tests the typed not-active error.
func TestRegistryGetStoreRequiresActive(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.GetStore("b1")
	assert.ErrorIs(t, err, ErrNotInitialized)

	fs := newFakeStore(store.Manifest{RootID: "root-b1"})
	reg.Set("b1", activeWithStore("b1", fs))

	st, err := reg.GetStore("b1")
	require.NoError(t, err)
	assert.Equal(t, fs, st)
}

// TestRegistrySetTearsDownPrior tests that replacing an entry stops the old
// monitor, stops its watchers, and closes its store.
func TestRegistrySetTearsDownPrior(t *testing.T) {
	reg := NewRegistry(nil)

	old := newFakeStore(store.Manifest{RootID: "root-old"})
	reg.Set("b1", activeWithStore("b1", old))

	monitorStopped := false
	require.True(t, reg.AttachMonitor("b1", func() { monitorStopped = true }))

	handle, err := old.WatchFile("/app1/notes.txt", func(store.Change) {})
	require.NoError(t, err)
	require.NoError(t, reg.AddWatcher("b1", "w1", handle, "c1"))

	next := newFakeStore(store.Manifest{RootID: "root-new"})
	reg.Set("b1", activeWithStore("b1", next))

	assert.True(t, monitorStopped)
	assert.True(t, old.isClosed())
	assert.Equal(t, 1, old.stopped)
	assert.False(t, next.isClosed())
}

// TestRegistryRemove tests teardown on removal.
func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(nil)
	fs := newFakeStore(store.Manifest{})
	reg.Set("b1", activeWithStore("b1", fs))

	assert.True(t, reg.Remove("b1"))
	assert.True(t, fs.isClosed())
	assert.False(t, reg.Remove("b1"))
	assert.Equal(t, 0, reg.ActiveCount())
}

// TestRegistryBeginLoad tests load-slot claiming.
func TestRegistryBeginLoad(t *testing.T) {
	reg := NewRegistry(nil)

	first, started := reg.BeginLoad("b1")
	require.True(t, started)
	loading, ok := first.(*Loading)
	require.True(t, ok)
	assert.Equal(t, "b1", loading.LauncherBundleID)

	second, started := reg.BeginLoad("b1")
	assert.False(t, started)
	assert.Same(t, first, second)

	// An errored entry is superseded so loads can retry.
	reg.Set("b2", &Errored{LauncherBundleID: "b2", Err: ErrConnection})
	_, started = reg.BeginLoad("b2")
	assert.True(t, started)

	// An active entry short-circuits.
	reg.Set("b3", activeWithStore("b3", newFakeStore(store.Manifest{})))
	claimed, started := reg.BeginLoad("b3")
	assert.False(t, started)
	_, isActive := claimed.(*Active)
	assert.True(t, isActive)
}

// TestRegistryFinishLoadStaleSlot tests that a load slot removed mid-flight
// cannot install its result.
func TestRegistryFinishLoadStaleSlot(t *testing.T) {
	reg := NewRegistry(nil)

	claimed, started := reg.BeginLoad("b1")
	require.True(t, started)
	loading := claimed.(*Loading)

	require.True(t, reg.Remove("b1"))
	fs := newFakeStore(store.Manifest{RootID: "root-b1"})
	assert.False(t, reg.FinishLoad(loading, activeWithStore("b1", fs)))
	_, ok := reg.Get("b1")
	assert.False(t, ok)

	// A fresh claim is not confused with the stale one.
	reclaimed, started := reg.BeginLoad("b1")
	require.True(t, started)
	assert.False(t, reg.FinishLoad(loading, &Errored{LauncherBundleID: "b1", Err: ErrConnection}))
	assert.True(t, reg.FinishLoad(reclaimed.(*Loading), activeWithStore("b1", fs)))
	assert.Equal(t, 1, reg.ActiveCount())
}

// TestRegistryMarkHealthy tests health transitions report change correctly.
func TestRegistryMarkHealthy(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set("b1", activeWithStore("b1", newFakeStore(store.Manifest{})))

	changed, ok := reg.MarkHealthy("b1", true)
	assert.True(t, ok)
	assert.False(t, changed) // active states start healthy

	changed, ok = reg.MarkHealthy("b1", false)
	assert.True(t, ok)
	assert.True(t, changed)

	changed, ok = reg.MarkHealthy("b1", false)
	assert.True(t, ok)
	assert.False(t, changed)

	_, ok = reg.MarkHealthy("missing", true)
	assert.False(t, ok)
}

// TestRegistryReconnectAttempts tests the attempt counter.
func TestRegistryReconnectAttempts(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set("b1", activeWithStore("b1", newFakeStore(store.Manifest{})))

	n, ok := reg.ReconnectAttempt("b1")
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	n, _ = reg.ReconnectAttempt("b1")
	assert.Equal(t, 2, n)

	reg.ResetReconnectAttempts("b1")
	n, _ = reg.ReconnectAttempt("b1")
	assert.Equal(t, 1, n)
}

// TestRegistryAttachMonitorAfterRemoval tests the caller-must-stop contract.
func TestRegistryAttachMonitorAfterRemoval(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set("b1", activeWithStore("b1", newFakeStore(store.Manifest{})))
	reg.Remove("b1")

	assert.False(t, reg.AttachMonitor("b1", func() {}))
}

// TestRegistryAppSlug tests slug accessors against active and absent entries.
func TestRegistryAppSlug(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Set("b1", activeWithStore("b1", newFakeStore(store.Manifest{})))

	slug, err := reg.AppSlug("b1")
	require.NoError(t, err)
	assert.Equal(t, "app1", slug)

	require.NoError(t, reg.SetAppSlug("b1", "app2"))
	slug, _ = reg.AppSlug("b1")
	assert.Equal(t, "app2", slug)

	assert.ErrorIs(t, reg.SetAppSlug("missing", "x"), ErrNotInitialized)
}
