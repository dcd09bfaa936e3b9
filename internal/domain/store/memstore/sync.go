package memstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

// wireFrame is one change message on the sync socket, in either direction.
type wireFrame struct {
	Path    string          `json:"path"`
	Kind    store.EntryType `json:"kind"`
	Content string          `json:"content,omitempty"`
	Bytes   []byte          `json:"bytes,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// syncConn wraps one websocket connection to the peer. Writes are serialized;
// gorilla connections allow a single concurrent writer.
type syncConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *syncConn) writeFrame(fr wireFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(fr)
}

func (c *syncConn) close() {
	c.conn.Close()
}

// ConnectWebsocket establishes the sync link. When the manifest declares an
// HTTP snapshot URI the snapshot is pulled first so the path index is current
// before remote frames start flowing.
func (e *Engine) ConnectWebsocket(ctx context.Context, url string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	old := e.conn
	e.conn = nil
	e.mu.Unlock()
	if old != nil {
		old.close()
	}

	if snapshot := snapshotURI(e.manifest); snapshot != "" {
		if err := e.bootstrapSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("snapshot bootstrap: %w", err)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	sc := &syncConn{conn: conn}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sc.close()
		return ErrClosed
	}
	e.conn = sc
	e.mu.Unlock()

	go e.readLoop(sc)
	return nil
}

// readLoop applies remote frames until the socket drops. A drop only clears
// the connection; reconnecting is the connection monitor's job.
func (e *Engine) readLoop(sc *syncConn) {
	for {
		var fr wireFrame
		if err := sc.conn.ReadJSON(&fr); err != nil {
			e.dropConn(sc)
			return
		}
		e.applyRemote(fr)
	}
}

func (e *Engine) dropConn(sc *syncConn) {
	e.mu.Lock()
	if e.conn == sc {
		e.conn = nil
	}
	e.mu.Unlock()
	sc.close()
}

// applyRemote merges one peer frame into the filesystem, last writer wins.
func (e *Engine) applyRemote(fr wireFrame) {
	p := normalize(fr.Path)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if fr.Deleted {
		delete(e.files, p)
	} else if fr.Bytes != nil {
		e.files[p] = &file{bytes: fr.Bytes}
	} else {
		e.files[p] = &file{content: fr.Content}
	}
	e.mu.Unlock()

	kind := fr.Kind
	if kind == "" {
		kind = store.EntryFile
	}
	e.emit(store.Change{Path: p, Kind: kind, Origin: store.OriginRemote})
}

// pushFrame forwards a local mutation to the peer. Send failures drop the
// connection and are otherwise swallowed; the monitor will notice.
func (e *Engine) pushFrame(sc *syncConn, fr wireFrame) {
	if sc == nil {
		return
	}
	if err := sc.writeFrame(fr); err != nil {
		e.dropConn(sc)
	}
}

// bootstrapSnapshot pulls a gzip'd tar snapshot over HTTP and merges it,
// announcing each entry as a remote change.
func (e *Engine) bootstrapSnapshot(ctx context.Context, uri string) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	entries, _, err := decodeArchive(body)
	if err != nil {
		return fmt.Errorf("snapshot decode: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var changed []string
	for name, f := range entries {
		e.files[name] = f
		changed = append(changed, name)
	}
	e.mu.Unlock()

	for _, name := range changed {
		e.emit(store.Change{Path: name, Kind: store.EntryFile, Origin: store.OriginRemote})
	}
	return nil
}

// snapshotURI picks the first HTTP(S) network URI out of a manifest.
func snapshotURI(m store.Manifest) string {
	for _, uri := range m.NetworkURIs {
		if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
			return uri
		}
	}
	return ""
}

// SyncURI picks the first websocket network URI out of a manifest, or empty
// when the bundle declares none.
func SyncURI(m store.Manifest) string {
	for _, uri := range m.NetworkURIs {
		if strings.HasPrefix(uri, "ws://") || strings.HasPrefix(uri, "wss://") {
			return uri
		}
	}
	return ""
}
