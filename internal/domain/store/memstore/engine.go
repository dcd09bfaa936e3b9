package memstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrExists   = errors.New("file already exists")
	ErrClosed   = errors.New("engine is closed")
)

// file is one entry of the virtual filesystem. Text payloads live in
// content, binary payloads in bytes; exactly one side is populated.
type file struct {
	content string
	bytes   []byte
}

func (f *file) size() int {
	if f.bytes != nil {
		return len(f.bytes)
	}
	return len(f.content)
}

// Engine is an in-memory virtual filesystem implementing store.Store.
type Engine struct {
	mu       sync.RWMutex
	ns       string
	manifest store.Manifest
	files    map[string]*file
	watches  *watchSet
	conn     *syncConn
	closed   bool
}

var _ store.Store = (*Engine)(nil)

// normalize cleans a virtual path to its canonical absolute form.
func normalize(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Manifest returns the bundle manifest. Immutable after decode.
func (e *Engine) Manifest() store.Manifest {
	return e.manifest
}

// Namespace returns the storage namespace this engine was opened with.
func (e *Engine) Namespace() string {
	return e.ns
}

// IsConnected reports whether the sync websocket is up.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn != nil
}

func (e *Engine) Exists(p string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false, ErrClosed
	}
	p = normalize(p)
	if _, ok := e.files[p]; ok {
		return true, nil
	}
	return e.hasPrefixLocked(p), nil
}

// hasPrefixLocked reports whether p names a non-empty directory.
func (e *Engine) hasPrefixLocked(p string) bool {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	for name := range e.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (e *Engine) ReadFile(p string) (*store.FileContent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	f, ok := e.files[normalize(p)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, ErrNotFound)
	}
	if f.bytes != nil {
		out := make([]byte, len(f.bytes))
		copy(out, f.bytes)
		return &store.FileContent{Bytes: out}, nil
	}
	return &store.FileContent{Content: f.content}, nil
}

func (e *Engine) CreateFile(p, content string) error {
	return e.write(p, &file{content: content}, true)
}

func (e *Engine) SetFile(p, content string) error {
	return e.write(p, &file{content: content}, false)
}

func (e *Engine) CreateFileWithBytes(p string, data []byte) error {
	return e.write(p, &file{bytes: append([]byte(nil), data...)}, true)
}

func (e *Engine) SetFileWithBytes(p string, data []byte) error {
	return e.write(p, &file{bytes: append([]byte(nil), data...)}, false)
}

func (e *Engine) write(p string, f *file, mustNotExist bool) error {
	p = normalize(p)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.files[p]; ok && mustNotExist {
		e.mu.Unlock()
		return fmt.Errorf("create %s: %w", p, ErrExists)
	}
	e.files[p] = f
	conn := e.conn
	e.mu.Unlock()

	e.emit(store.Change{Path: p, Kind: store.EntryFile, Origin: store.OriginLocal})
	e.pushFrame(conn, wireFrame{Path: p, Kind: store.EntryFile, Content: f.content, Bytes: f.bytes})
	return nil
}

// UpdateFile writes content only when it differs from the stored value.
func (e *Engine) UpdateFile(p, content string) (bool, error) {
	p = normalize(p)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	existing, ok := e.files[p]
	if ok && existing.bytes == nil && existing.content == content {
		e.mu.Unlock()
		return false, nil
	}
	e.files[p] = &file{content: content}
	conn := e.conn
	e.mu.Unlock()

	e.emit(store.Change{Path: p, Kind: store.EntryFile, Origin: store.OriginLocal})
	e.pushFrame(conn, wireFrame{Path: p, Kind: store.EntryFile, Content: content})
	return true, nil
}

// PatchFile applies a JSON-pointer style mutation to a JSON document,
// creating intermediate objects along the pointer as needed.
func (e *Engine) PatchFile(p string, pointer []string, value any) error {
	if len(pointer) == 0 {
		return errors.New("patch requires at least one pointer segment")
	}
	p = normalize(p)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	f, ok := e.files[p]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("patch %s: %w", p, ErrNotFound)
	}
	raw := f.content
	if f.bytes != nil {
		raw = string(f.bytes)
	}
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("patch %s: not a JSON object: %w", p, err)
	}
	cursor := doc
	for _, seg := range pointer[:len(pointer)-1] {
		next, ok := cursor[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cursor[seg] = next
		}
		cursor = next
	}
	cursor[pointer[len(pointer)-1]] = value

	encoded, err := json.Marshal(doc)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("patch %s: %w", p, err)
	}
	e.files[p] = &file{content: string(encoded)}
	conn := e.conn
	e.mu.Unlock()

	e.emit(store.Change{Path: p, Kind: store.EntryFile, Origin: store.OriginLocal})
	e.pushFrame(conn, wireFrame{Path: p, Kind: store.EntryFile, Content: string(encoded)})
	return nil
}

func (e *Engine) DeleteFile(p string) error {
	p = normalize(p)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.files[p]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	delete(e.files, p)
	conn := e.conn
	e.mu.Unlock()

	e.emit(store.Change{Path: p, Kind: store.EntryFile, Origin: store.OriginLocal})
	e.pushFrame(conn, wireFrame{Path: p, Kind: store.EntryFile, Deleted: true})
	return nil
}

// Rename moves a file, or a whole subtree when oldPath names a directory.
func (e *Engine) Rename(oldPath, newPath string) error {
	oldPath = normalize(oldPath)
	newPath = normalize(newPath)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	var moved []store.Change
	var frames []wireFrame
	if f, ok := e.files[oldPath]; ok {
		delete(e.files, oldPath)
		e.files[newPath] = f
		moved = append(moved,
			store.Change{Path: oldPath, Kind: store.EntryFile, Origin: store.OriginLocal},
			store.Change{Path: newPath, Kind: store.EntryFile, Origin: store.OriginLocal},
		)
		frames = append(frames,
			wireFrame{Path: oldPath, Kind: store.EntryFile, Deleted: true},
			wireFrame{Path: newPath, Kind: store.EntryFile, Content: f.content, Bytes: f.bytes},
		)
	} else if e.hasPrefixLocked(oldPath) {
		prefix := oldPath + "/"
		for name, f := range e.files {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			next := newPath + "/" + strings.TrimPrefix(name, prefix)
			delete(e.files, name)
			e.files[next] = f
			moved = append(moved,
				store.Change{Path: name, Kind: store.EntryFile, Origin: store.OriginLocal},
				store.Change{Path: next, Kind: store.EntryFile, Origin: store.OriginLocal},
			)
			frames = append(frames,
				wireFrame{Path: name, Kind: store.EntryFile, Deleted: true},
				wireFrame{Path: next, Kind: store.EntryFile, Content: f.content, Bytes: f.bytes},
			)
		}
	} else {
		e.mu.Unlock()
		return fmt.Errorf("rename %s: %w", oldPath, ErrNotFound)
	}
	conn := e.conn
	e.mu.Unlock()

	for _, ch := range moved {
		e.emit(ch)
	}
	for _, fr := range frames {
		e.pushFrame(conn, fr)
	}
	return nil
}

// ListDirectory returns the immediate children of a directory path.
func (e *Engine) ListDirectory(p string) ([]store.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	p = normalize(p)
	prefix := p
	if prefix != "/" {
		if _, isFile := e.files[p]; isFile {
			return nil, fmt.Errorf("list %s: not a directory", p)
		}
		prefix += "/"
	}

	seen := map[string]store.Entry{}
	for name, f := range e.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			dir := rest[:idx]
			seen[dir] = store.Entry{Name: dir, Type: store.EntryDirectory}
		} else {
			seen[rest] = store.Entry{Name: rest, Type: store.EntryFile, Size: f.size()}
		}
	}
	if len(seen) == 0 && !e.hasPrefixLocked(p) {
		if _, ok := e.files[p]; !ok && p != "/" {
			return nil, fmt.Errorf("list %s: %w", p, ErrNotFound)
		}
	}

	entries := make([]store.Entry, 0, len(seen))
	for _, entry := range seen {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (e *Engine) WatchFile(p string, fn store.WatchFunc) (store.Watch, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return e.watches.add(normalize(p), false, fn), nil
}

func (e *Engine) WatchDirectory(p string, fn store.WatchFunc) (store.Watch, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return e.watches.add(normalize(p), true, fn), nil
}

// Close tears the engine down: the sync connection drops and all watches are
// discarded. In-flight callbacks after Close are silently dropped.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	e.watches.clear()
	return nil
}

// emit fans a change out to matching watchers.
func (e *Engine) emit(ch store.Change) {
	e.watches.notify(ch)
}
