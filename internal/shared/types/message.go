package types

// Request is a structured control message from a page client. Every
// bundle-scoped operation names its target through LauncherBundleID
// explicitly; there is no implicit "current bundle".
type Request struct {
	Type             string `json:"type"`
	ID               string `json:"id,omitempty"`
	LauncherBundleID string `json:"launcherBundleId,omitempty"`

	Path    string   `json:"path,omitempty"`
	OldPath string   `json:"oldPath,omitempty"`
	NewPath string   `json:"newPath,omitempty"`
	Content string   `json:"content,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty"`
	Pointer []string `json:"pointer,omitempty"`
	Value   any      `json:"value,omitempty"`

	WatchID string `json:"watchId,omitempty"`
	AppSlug string `json:"appSlug,omitempty"`

	ServerURL   string `json:"serverUrl,omitempty"`
	BundleBytes []byte `json:"bundleBytes,omitempty"`
}

// Response answers exactly one Request, echoing its correlation id.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notification is an unsolicited per-client message: a watch event or a
// frame unload signal. It carries no request id.
type Notification struct {
	Type             string `json:"type"`
	LauncherBundleID string `json:"launcherBundleId,omitempty"`
	WatchID          string `json:"watchId,omitempty"`
	Path             string `json:"path,omitempty"`
	Origin           string `json:"origin,omitempty"`
	FrameID          string `json:"frameId,omitempty"`
}

// Notification type names.
const (
	NoteFileChanged      = "fileChanged"
	NoteDirectoryChanged = "directoryChanged"
	NoteUnloadFrame      = "unloadFrame"
)
