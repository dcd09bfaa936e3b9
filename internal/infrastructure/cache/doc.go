// Package cache is the durable state cache: small independently-keyed values
// persisted in SQLite so a restarted process can resume the previously active
// bundle without a client-initiated reload.
package cache
