package frame

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the admission bound on client-facing frames.
const DefaultCapacity = 5

// Pool is a fixed-size LRU of client-facing frames. Inserting past capacity
// evicts the least-recently-accessed frame after handing it to the eviction
// callback, which sends the frame an explicit unload signal.
type Pool struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	index    map[string]*list.Element
	onEvict  func(id string)
}

// NewPool creates a pool. capacity <= 0 uses DefaultCapacity; onEvict may be
// nil.
func NewPool(capacity int, onEvict func(id string)) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		onEvict:  onEvict,
	}
}

// Touch marks id as most recently used, admitting it first if needed, and
// returns the id evicted to make room, if any.
func (p *Pool) Touch(id string) (evicted string, didEvict bool) {
	p.mu.Lock()
	if elem, ok := p.index[id]; ok {
		p.order.MoveToFront(elem)
		p.mu.Unlock()
		return "", false
	}
	p.index[id] = p.order.PushFront(id)
	if p.order.Len() <= p.capacity {
		p.mu.Unlock()
		return "", false
	}
	oldest := p.order.Back()
	p.order.Remove(oldest)
	evicted = oldest.Value.(string)
	delete(p.index, evicted)
	onEvict := p.onEvict
	p.mu.Unlock()

	if onEvict != nil {
		onEvict(evicted)
	}
	return evicted, true
}

// Remove drops id without invoking the eviction callback, reporting whether
// it was present. Used when a frame unloads on its own.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	elem, ok := p.index[id]
	if !ok {
		return false
	}
	p.order.Remove(elem)
	delete(p.index, id)
	return true
}

// Contains reports whether id is admitted.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[id]
	return ok
}

// Len returns the number of admitted frames.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// IDs returns admitted frame ids, most recently used first.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, p.order.Len())
	for elem := p.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(string))
	}
	return out
}
