package cache

import (
	"container/list"
	"sort"

	"gigatile/internal/tile"
)

// EvictionPolicy decides which entry leaves the store when it is over
// capacity. Implementations are not safe for concurrent use; the Store
// serializes all calls.
type EvictionPolicy interface {
	// Touch records an insert or a read of addr with the given cost.
	Touch(addr tile.Address, cost int)
	// Remove forgets addr.
	Remove(addr tile.Address)
	// Victim returns the entry to evict next without removing it.
	Victim() (tile.Address, bool)
	Reset()
}

type policyItem struct {
	addr tile.Address
	cost int
}

// LRUPolicy evicts the least recently used entry and ignores cost.
type LRUPolicy struct {
	items   map[tile.Address]*list.Element
	lruList *list.List
}

func NewLRUPolicy() *LRUPolicy {
	return &LRUPolicy{
		items:   make(map[tile.Address]*list.Element),
		lruList: list.New(),
	}
}

func (p *LRUPolicy) Touch(addr tile.Address, cost int) {
	if elem, ok := p.items[addr]; ok {
		elem.Value.(*policyItem).cost = cost
		p.lruList.MoveToFront(elem)
		return
	}
	p.items[addr] = p.lruList.PushFront(&policyItem{addr: addr, cost: cost})
}

func (p *LRUPolicy) Remove(addr tile.Address) {
	if elem, ok := p.items[addr]; ok {
		p.lruList.Remove(elem)
		delete(p.items, addr)
	}
}

func (p *LRUPolicy) Victim() (tile.Address, bool) {
	oldest := p.lruList.Back()
	if oldest == nil {
		return tile.Address{}, false
	}
	return oldest.Value.(*policyItem).addr, true
}

func (p *LRUPolicy) Reset() {
	p.items = make(map[tile.Address]*list.Element)
	p.lruList = list.New()
}

// CostPolicy treats cost as the value of keeping an entry: the victim is
// the least recently used entry among those with the lowest cost. With
// cost set to the zoom level, native-resolution tiles go first and the
// few coarse tiles that serve as fallbacks stay longest.
type CostPolicy struct {
	items   map[tile.Address]*list.Element
	buckets map[int]*list.List
	costs   []int // sorted costs with a non-empty bucket
}

func NewCostPolicy() *CostPolicy {
	return &CostPolicy{
		items:   make(map[tile.Address]*list.Element),
		buckets: make(map[int]*list.List),
	}
}

func (p *CostPolicy) Touch(addr tile.Address, cost int) {
	if elem, ok := p.items[addr]; ok {
		item := elem.Value.(*policyItem)
		if item.cost == cost {
			p.buckets[cost].MoveToFront(elem)
			return
		}
		p.Remove(addr)
	}
	bucket, ok := p.buckets[cost]
	if !ok {
		bucket = list.New()
		p.buckets[cost] = bucket
		p.insertCost(cost)
	}
	p.items[addr] = bucket.PushFront(&policyItem{addr: addr, cost: cost})
}

func (p *CostPolicy) Remove(addr tile.Address) {
	elem, ok := p.items[addr]
	if !ok {
		return
	}
	cost := elem.Value.(*policyItem).cost
	bucket := p.buckets[cost]
	bucket.Remove(elem)
	delete(p.items, addr)
	if bucket.Len() == 0 {
		delete(p.buckets, cost)
		p.removeCost(cost)
	}
}

func (p *CostPolicy) Victim() (tile.Address, bool) {
	if len(p.costs) == 0 {
		return tile.Address{}, false
	}
	oldest := p.buckets[p.costs[0]].Back()
	return oldest.Value.(*policyItem).addr, true
}

func (p *CostPolicy) Reset() {
	p.items = make(map[tile.Address]*list.Element)
	p.buckets = make(map[int]*list.List)
	p.costs = nil
}

func (p *CostPolicy) insertCost(cost int) {
	i := sort.SearchInts(p.costs, cost)
	p.costs = append(p.costs, 0)
	copy(p.costs[i+1:], p.costs[i:])
	p.costs[i] = cost
}

func (p *CostPolicy) removeCost(cost int) {
	i := sort.SearchInts(p.costs, cost)
	if i < len(p.costs) && p.costs[i] == cost {
		p.costs = append(p.costs[:i], p.costs[i+1:]...)
	}
}
