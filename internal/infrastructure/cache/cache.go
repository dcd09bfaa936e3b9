package cache

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Stable keys of the resume record. Each is independently settable to
// absent; ClearResume removes them as a unit.
const (
	KeyLastBundleID     = "lastBundleId"
	KeyAppSlug          = "appSlug"
	KeyBundleBytes      = "bundleBytes"
	KeyWSURL            = "wsUrl"
	KeyStorageNamespace = "storageNamespace"
)

// Cache is durable key/value state surviving process restarts.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path. Use ":memory:" for an
// ephemeral cache in tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	// One connection: sqlite serializes writes anyway, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the value for key and whether it was present.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any prior value.
func (c *Cache) Put(key string, value []byte) error {
	_, err := c.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Delete sets key to absent. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	if _, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every key.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM kv`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Record is the resume state of the last-active bundle.
type Record struct {
	LastBundleID     string
	AppSlug          string
	BundleBytes      []byte
	WSURL            string
	StorageNamespace string
}

// SaveResume persists the record key by key. Callers write it only after the
// corresponding in-memory state change has succeeded.
func (c *Cache) SaveResume(rec Record) error {
	fields := []struct {
		key   string
		value []byte
	}{
		{KeyLastBundleID, []byte(rec.LastBundleID)},
		{KeyAppSlug, []byte(rec.AppSlug)},
		{KeyBundleBytes, rec.BundleBytes},
		{KeyWSURL, []byte(rec.WSURL)},
		{KeyStorageNamespace, []byte(rec.StorageNamespace)},
	}
	for _, f := range fields {
		if err := c.Put(f.key, f.value); err != nil {
			return err
		}
	}
	return nil
}

// LoadResume reads the resume record. ok is false when no last-active bundle
// is recorded; a record without bundle bytes is reported as an error so the
// caller can reset to a clean state.
func (c *Cache) LoadResume() (Record, bool, error) {
	id, present, err := c.Get(KeyLastBundleID)
	if err != nil {
		return Record{}, false, err
	}
	if !present || len(id) == 0 {
		return Record{}, false, nil
	}

	rec := Record{LastBundleID: string(id)}
	if v, ok, err := c.Get(KeyAppSlug); err != nil {
		return Record{}, false, err
	} else if ok {
		rec.AppSlug = string(v)
	}
	if v, ok, err := c.Get(KeyWSURL); err != nil {
		return Record{}, false, err
	} else if ok {
		rec.WSURL = string(v)
	}
	if v, ok, err := c.Get(KeyStorageNamespace); err != nil {
		return Record{}, false, err
	} else if ok {
		rec.StorageNamespace = string(v)
	}

	data, ok, err := c.Get(KeyBundleBytes)
	if err != nil {
		return Record{}, false, err
	}
	if !ok || len(data) == 0 {
		return Record{}, false, fmt.Errorf("resume record for %s has no bundle bytes", rec.LastBundleID)
	}
	rec.BundleBytes = data
	return rec, true, nil
}

// ClearResume removes the whole resume record as a unit.
func (c *Cache) ClearResume() error {
	for _, key := range []string{KeyLastBundleID, KeyAppSlug, KeyBundleBytes, KeyWSURL, KeyStorageNamespace} {
		if err := c.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
