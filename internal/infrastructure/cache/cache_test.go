package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

// TestPutGetDelete tests the basic key/value contract.
func TestPutGetDelete(t *testing.T) {
	c, _ := openTemp(t)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("k", []byte("v1")))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, c.Put("k", []byte("v2")))
	v, _, _ = c.Get("k")
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, c.Delete("k"))
	require.NoError(t, c.Delete("k")) // absent is not an error
	_, ok, _ = c.Get("k")
	assert.False(t, ok)
}

// TestPersistsAcrossReopen tests that state survives a close and reopen, the
// thing the resume path depends on.
func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Put("k", []byte("v")))
	require.NoError(t, c.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	v, ok, err := c2.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

// TestResumeRecordRoundTrip tests SaveResume and LoadResume as a unit.
func TestResumeRecordRoundTrip(t *testing.T) {
	c, _ := openTemp(t)

	rec := Record{
		LastBundleID:     "b1",
		AppSlug:          "app1",
		BundleBytes:      []byte{0x1f, 0x8b, 0x00},
		WSURL:            "wss://peer.example/sync",
		StorageNamespace: "bundle-b1",
	}
	require.NoError(t, c.SaveResume(rec))

	got, ok, err := c.LoadResume()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

// TestLoadResumeAbsent tests that no record reads as a clean idle state.
func TestLoadResumeAbsent(t *testing.T) {
	c, _ := openTemp(t)

	_, ok, err := c.LoadResume()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestLoadResumeWithoutBytes tests that a record missing its bundle bytes is
// an error rather than a silent empty resume.
func TestLoadResumeWithoutBytes(t *testing.T) {
	c, _ := openTemp(t)

	require.NoError(t, c.Put(KeyLastBundleID, []byte("b1")))
	_, _, err := c.LoadResume()
	assert.Error(t, err)
}

// TestClearResumeRemovesWholeRecord tests unit clearing.
func TestClearResumeRemovesWholeRecord(t *testing.T) {
	c, _ := openTemp(t)

	require.NoError(t, c.SaveResume(Record{
		LastBundleID: "b1",
		BundleBytes:  []byte("x"),
	}))
	require.NoError(t, c.ClearResume())

	for _, key := range []string{KeyLastBundleID, KeyAppSlug, KeyBundleBytes, KeyWSURL, KeyStorageNamespace} {
		_, ok, err := c.Get(key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

// TestInMemoryCache tests the :memory: mode used by tests elsewhere.
func TestInMemoryCache(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("k", []byte("v")))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}
