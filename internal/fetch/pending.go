package fetch

import (
	"sync"

	"gigatile/internal/tile"
)

// PendingSet tracks addresses with an outstanding fetch.
type PendingSet struct {
	mu    sync.Mutex
	items map[tile.Address]struct{}
}

func NewPendingSet() *PendingSet {
	return &PendingSet{items: make(map[tile.Address]struct{})}
}

// Add inserts addr and reports whether it was absent.
func (p *PendingSet) Add(addr tile.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[addr]; ok {
		return false
	}
	p.items[addr] = struct{}{}
	return true
}

func (p *PendingSet) Remove(addr tile.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.items, addr)
}

func (p *PendingSet) Has(addr tile.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.items[addr]
	return ok
}

func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.items)
}
