package bundle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

// fakeStore is a controllable store.Store for lifecycle and monitor tests.
type fakeStore struct {
	mu        sync.Mutex
	manifest  store.Manifest
	connected bool
	dialErr   error
	dials     int
	closed    bool
	watches   int
	stopped   int
}

func newFakeStore(manifest store.Manifest) *fakeStore {
	return &fakeStore{manifest: manifest}
}

func (f *fakeStore) ConnectWebsocket(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return f.dialErr
	}
	f.connected = true
	return nil
}

func (f *fakeStore) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStore) setConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	f.mu.Unlock()
}

func (f *fakeStore) setDialErr(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

func (f *fakeStore) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeStore) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStore) Exists(string) (bool, error)                 { return false, nil }
func (f *fakeStore) ReadFile(string) (*store.FileContent, error) { return &store.FileContent{}, nil }
func (f *fakeStore) CreateFile(string, string) error             { return nil }
func (f *fakeStore) SetFile(string, string) error                { return nil }
func (f *fakeStore) CreateFileWithBytes(string, []byte) error    { return nil }
func (f *fakeStore) SetFileWithBytes(string, []byte) error       { return nil }
func (f *fakeStore) UpdateFile(string, string) (bool, error)     { return false, nil }
func (f *fakeStore) PatchFile(string, []string, any) error       { return nil }
func (f *fakeStore) DeleteFile(string) error                     { return nil }
func (f *fakeStore) Rename(string, string) error                 { return nil }
func (f *fakeStore) ListDirectory(string) ([]store.Entry, error) { return nil, nil }
func (f *fakeStore) Manifest() store.Manifest                    { return f.manifest }
func (f *fakeStore) ToBytes() ([]byte, error)                    { return nil, nil }
func (f *fakeStore) ForkToBytes() ([]byte, error)                { return nil, nil }

func (f *fakeStore) WatchFile(string, store.WatchFunc) (store.Watch, error) {
	return f.watch()
}

func (f *fakeStore) WatchDirectory(string, store.WatchFunc) (store.Watch, error) {
	return f.watch()
}

func (f *fakeStore) watch() (store.Watch, error) {
	f.mu.Lock()
	f.watches++
	f.mu.Unlock()
	return &fakeWatch{store: f}, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

type fakeWatch struct {
	store   *fakeStore
	mu      sync.Mutex
	stopped bool
}

func (w *fakeWatch) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		w.store.mu.Lock()
		w.store.stopped++
		w.store.mu.Unlock()
	}
	return nil
}

// eventSink records broadcast lifecycle events for assertion.
type eventSink struct {
	ch chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, 64)}
}

func (s *eventSink) Broadcast(message any) {
	if ev, ok := message.(Event); ok {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// await blocks until an event of the wanted type arrives or the timeout
// expires, discarding other events along the way.
func (s *eventSink) await(t *testing.T, wantType string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.ch:
			if ev.Type == wantType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within %v", wantType, timeout)
			return Event{}
		}
	}
}

// fakeDirectory is a client directory whose Send outcome is scripted.
type fakeDirectory struct {
	mu       sync.Mutex
	alive    map[string]bool
	messages []any
}

func newFakeDirectory(clientIDs ...string) *fakeDirectory {
	alive := make(map[string]bool, len(clientIDs))
	for _, id := range clientIDs {
		alive[id] = true
	}
	return &fakeDirectory{alive: alive}
}

func (d *fakeDirectory) Send(clientID string, message any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.alive[clientID] {
		return false
	}
	d.messages = append(d.messages, message)
	return true
}

func (d *fakeDirectory) drop(clientID string) {
	d.mu.Lock()
	delete(d.alive, clientID)
	d.mu.Unlock()
}

func (d *fakeDirectory) sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}
