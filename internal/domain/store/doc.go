// Package store defines the Document Store contract consumed by the bundle
// subsystem.
//
// A Store is the synchronization/storage engine behind one loaded bundle. It
// exposes file-like read/write/watch operations over a virtual path space and
// maintains an optional websocket connection to a remote sync peer. The
// engine's merge semantics, wire protocol, and on-disk format are behind this
// interface; the rest of the system never assumes anything beyond it.
//
// Components:
//   - Store: the adapter interface (open/connect/read/write/watch/list)
//   - Manifest: immutable bundle metadata (root id, entrypoints, network URIs)
//   - Change: a single change notification with local/remote origin
//   - Watch: a live subscription handle, stoppable exactly once
package store
