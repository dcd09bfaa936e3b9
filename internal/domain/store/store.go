package store

import "context"

// Origin identifies where a change came from.
type Origin string

const (
	// OriginLocal marks changes made through this process.
	OriginLocal Origin = "local"
	// OriginRemote marks changes applied from the sync peer.
	OriginRemote Origin = "remote"
)

// EntryType distinguishes directory listing entries.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// Manifest describes a bundle: its content root, the application slugs that
// can be served from it, and optional network URIs used to derive the sync
// endpoint. Treated as immutable once obtained.
type Manifest struct {
	RootID      string   `json:"rootId"`
	Entrypoints []string `json:"entrypoints"`
	NetworkURIs []string `json:"networkUris,omitempty"`
}

// FileContent is the payload of a read. Binary files carry Bytes; text files
// carry Content. Bytes round-trips as base64 on the JSON wire.
type FileContent struct {
	Content string `json:"content,omitempty"`
	Bytes   []byte `json:"bytes,omitempty"`
}

// Entry is one row of a directory listing.
type Entry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
	Size int       `json:"size,omitempty"`
}

// Change is a single change notification delivered to a watcher.
type Change struct {
	Path   string    `json:"path"`
	Kind   EntryType `json:"kind"`
	Origin Origin    `json:"origin"`
}

// WatchFunc receives change notifications. Implementations must tolerate
// being invoked after Stop; such calls are discarded by the engine, never
// errored.
type WatchFunc func(Change)

// Watch is a live subscription handle.
type Watch interface {
	// Stop cancels the subscription. Safe to call more than once.
	Stop() error
}

// StorageConfig namespaces one engine instance's storage so independent
// bundles never share state.
type StorageConfig struct {
	Namespace string
}

// Store is the document-synchronization engine behind one bundle. Instances
// are exclusively owned by the bundle's active state; all access goes through
// the registry accessors.
type Store interface {
	// ConnectWebsocket establishes (or re-establishes) the sync connection.
	ConnectWebsocket(ctx context.Context, url string) error
	// IsConnected reports whether the sync connection is currently up.
	IsConnected() bool

	Exists(path string) (bool, error)
	ReadFile(path string) (*FileContent, error)
	CreateFile(path, content string) error
	SetFile(path, content string) error
	CreateFileWithBytes(path string, data []byte) error
	SetFileWithBytes(path string, data []byte) error
	// UpdateFile writes content only if it differs, reporting whether a
	// write happened.
	UpdateFile(path, content string) (bool, error)
	// PatchFile applies a JSON-pointer style patch to a JSON document.
	PatchFile(path string, pointer []string, value any) error
	DeleteFile(path string) error
	Rename(oldPath, newPath string) error
	ListDirectory(path string) ([]Entry, error)

	WatchFile(path string, fn WatchFunc) (Watch, error)
	WatchDirectory(path string, fn WatchFunc) (Watch, error)

	Manifest() Manifest
	ToBytes() ([]byte, error)
	// ForkToBytes serializes a detached copy: same content, fresh root id,
	// no network URIs.
	ForkToBytes() ([]byte, error)

	Close() error
}

// Factory creates a Store from raw bundle bytes. Injected into the lifecycle
// orchestrator so tests can substitute a fake engine.
type Factory func(data []byte, cfg StorageConfig) (Store, error)
