package cache

import (
	"image"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"gigatile/internal/tile"
)

// Stats is a snapshot of store counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Store is a bounded tile cache keyed by tile address.
// A capacity <= 0 disables eviction.
type Store struct {
	mu       sync.Mutex
	capacity int
	items    map[tile.Address]*Entry
	policy   EvictionPolicy
	pinned   map[tile.Address]struct{}
	logger   *zap.Logger

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewStore creates a store holding at most capacity entries.
func NewStore(capacity int, policy EvictionPolicy, logger *zap.Logger) *Store {
	if policy == nil {
		policy = NewCostPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		capacity: capacity,
		items:    make(map[tile.Address]*Entry),
		policy:   policy,
		logger:   logger,
	}
}

func (s *Store) Get(addr tile.Address) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[addr]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	s.policy.Touch(addr, entry.cost)
	return entry, true
}

// Peek returns the entry for addr without counting a hit or touching
// recency.
func (s *Store) Peek(addr tile.Address) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[addr]
	return entry, ok
}

// Image returns the image of a cached entry without touching recency.
func (s *Store) Image(addr tile.Address) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[addr]
	if !ok || !entry.HasImage() {
		return nil, false
	}
	return entry.image, true
}

// Insert stores entry under addr, replacing any previous entry, and evicts
// other entries until the store fits its capacity.
func (s *Store) Insert(addr tile.Address, entry *Entry, cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.cost = cost
	s.items[addr] = entry
	s.policy.Touch(addr, cost)

	if s.capacity > 0 {
		s.evict(addr)
	}
}

// Update sets the image of an existing entry. It reports false and does
// nothing when addr is no longer cached.
func (s *Store) Update(addr tile.Address, img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[addr]
	if !ok {
		return false
	}
	entry.image = img
	return true
}

// Pin marks addrs as in use, replacing the previous pinned set. Pinned
// entries are never evicted, so the store may exceed its capacity while
// they do. Pin(nil) releases them.
func (s *Store) Pin(addrs []tile.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(addrs) == 0 {
		s.pinned = nil
		return
	}
	s.pinned = make(map[tile.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		s.pinned[addr] = struct{}{}
	}
}

func (s *Store) Remove(addr tile.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, addr)
	s.policy.Remove(addr)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[tile.Address]*Entry)
	s.policy.Reset()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	entries := len(s.items)
	s.mu.Unlock()

	return Stats{
		Entries:   entries,
		Capacity:  s.capacity,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// evict must be called with s.mu held. The just inserted entry and pinned
// entries are never chosen, so a full store of valuable tiles still
// accepts a cheap one.
func (s *Store) evict(protect tile.Address) {
	var held []tile.Address
	for len(s.items) > s.capacity {
		victim, ok := s.policy.Victim()
		if !ok {
			break
		}
		if _, pinned := s.pinned[victim]; pinned || victim == protect {
			s.policy.Remove(victim)
			held = append(held, victim)
			continue
		}
		delete(s.items, victim)
		s.policy.Remove(victim)
		s.evictions.Add(1)
		s.logger.Debug("Evicted tile", zap.String("tile", victim.Key()))
	}
	// Re-add in victim order so held entries keep their relative recency.
	for _, addr := range held {
		s.policy.Touch(addr, s.items[addr].cost)
	}
}
