// Package memstore is the in-process document engine used by the bundle
// subsystem.
//
// An Engine holds a bundle's virtual filesystem in memory, decoded from the
// bundle's gzip'd tar payload. It satisfies the store.Store contract:
// file CRUD over a virtual path space, file and directory watches with
// local/remote change origins, and a websocket link to a remote sync peer.
// When a manifest declares an HTTP snapshot URI, connecting first pulls the
// snapshot (with retries) so the path index is warm before the socket opens.
//
// The engine is deliberately not a CRDT: remote frames are applied
// last-writer-wins. Conflict resolution belongs to the peer, not this layer.
package memstore
