package memstore

import (
	"strings"
	"sync"

	"github.com/tonk-labs/tonk-sub003/internal/domain/store"
)

// watchSet tracks live file and directory subscriptions. Directory watches
// are recursive: a watch on "/" observes every change in the bundle, which is
// what the path-index sync wait relies on.
type watchSet struct {
	mu      sync.Mutex
	seq     uint64
	entries map[uint64]*watchEntry
}

type watchEntry struct {
	path string
	dir  bool
	fn   store.WatchFunc
}

func newWatchSet() *watchSet {
	return &watchSet{entries: make(map[uint64]*watchEntry)}
}

func (ws *watchSet) add(path string, dir bool, fn store.WatchFunc) store.Watch {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.seq++
	id := ws.seq
	ws.entries[id] = &watchEntry{path: path, dir: dir, fn: fn}
	return &watchHandle{set: ws, id: id}
}

// notify invokes the callback of every entry matching the change. Callbacks
// run outside the lock so they may stop watches reentrantly.
func (ws *watchSet) notify(ch store.Change) {
	ws.mu.Lock()
	var fns []store.WatchFunc
	for _, entry := range ws.entries {
		if entry.matches(ch.Path) {
			fns = append(fns, entry.fn)
		}
	}
	ws.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func (ws *watchSet) clear() {
	ws.mu.Lock()
	ws.entries = make(map[uint64]*watchEntry)
	ws.mu.Unlock()
}

func (entry *watchEntry) matches(changed string) bool {
	if !entry.dir {
		return entry.path == changed
	}
	if entry.path == "/" {
		return true
	}
	return changed == entry.path || strings.HasPrefix(changed, entry.path+"/")
}

// watchHandle implements store.Watch. Stop is idempotent; a stopped handle's
// callback never fires again.
type watchHandle struct {
	set  *watchSet
	id   uint64
	once sync.Once
}

func (h *watchHandle) Stop() error {
	h.once.Do(func() {
		h.set.mu.Lock()
		delete(h.set.entries, h.id)
		h.set.mu.Unlock()
	})
	return nil
}
