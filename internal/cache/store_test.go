package cache

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gigatile/internal/tile"
)

func placeholder(addr tile.Address) *Entry {
	return NewEntry(addr, tile.R(float64(addr.Column*256), float64(addr.Row*256), 256, 256))
}

func TestStoreGetReturnsSameEntry(t *testing.T) {
	s := NewStore(10, nil, zaptest.NewLogger(t))
	addr := tile.New(0, 1, 2)
	entry := placeholder(addr)
	s.Insert(addr, entry, addr.Level)

	got, ok := s.Get(addr)
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.False(t, got.HasImage())
	assert.Equal(t, tile.R(256, 512, 256, 256), got.Rect())

	_, ok = s.Get(tile.New(0, 2, 1))
	assert.False(t, ok)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore(10, nil, zaptest.NewLogger(t))
	addr := tile.New(1, 0, 0)
	entry := placeholder(addr)
	s.Insert(addr, entry, addr.Level)

	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	require.True(t, s.Update(addr, img))

	assert.True(t, entry.HasImage())
	assert.Equal(t, tile.R(0, 0, 256, 256), entry.Rect())
	got, ok := s.Image(addr)
	require.True(t, ok)
	assert.Same(t, img, got)
}

func TestStoreUpdateAfterEvictionIsNoop(t *testing.T) {
	s := NewStore(1, NewLRUPolicy(), zaptest.NewLogger(t))
	a := tile.New(0, 0, 0)
	b := tile.New(0, 1, 0)
	s.Insert(a, placeholder(a), 0)
	s.Insert(b, placeholder(b), 0)

	_, ok := s.Get(a)
	require.False(t, ok, "a should have been evicted")

	assert.NotPanics(t, func() {
		assert.False(t, s.Update(a, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	})
	_, ok = s.Get(a)
	assert.False(t, ok, "update must not resurrect an evicted entry")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestCostPolicyEvictsShallowLevelsFirst(t *testing.T) {
	s := NewStore(3, NewCostPolicy(), zaptest.NewLogger(t))
	coarse := tile.New(2, 0, 0)
	mid := tile.New(1, 0, 0)
	fine1 := tile.New(0, 0, 0)
	fine2 := tile.New(0, 1, 0)

	s.Insert(coarse, placeholder(coarse), coarse.Level)
	s.Insert(fine1, placeholder(fine1), fine1.Level)
	s.Insert(mid, placeholder(mid), mid.Level)
	s.Insert(fine2, placeholder(fine2), fine2.Level)

	_, ok := s.Get(fine1)
	assert.False(t, ok, "oldest level-0 tile goes first")
	for _, addr := range []tile.Address{coarse, mid, fine2} {
		_, ok := s.Get(addr)
		assert.True(t, ok, "%v should remain", addr)
	}
}

func TestCostPolicyProtectsNewEntry(t *testing.T) {
	s := NewStore(2, NewCostPolicy(), zaptest.NewLogger(t))
	a := tile.New(3, 0, 0)
	b := tile.New(2, 0, 0)
	fine := tile.New(0, 5, 5)

	s.Insert(a, placeholder(a), a.Level)
	s.Insert(b, placeholder(b), b.Level)
	s.Insert(fine, placeholder(fine), fine.Level)

	_, ok := s.Get(fine)
	assert.True(t, ok, "inserted entry must survive its own insert")
	_, ok = s.Get(b)
	assert.False(t, ok, "cheapest other entry is evicted")
	_, ok = s.Get(a)
	assert.True(t, ok)
}

func TestCostPolicyRecencyWithinLevel(t *testing.T) {
	p := NewCostPolicy()
	a := tile.New(0, 0, 0)
	b := tile.New(0, 1, 0)
	c := tile.New(1, 0, 0)
	p.Touch(a, 0)
	p.Touch(b, 0)
	p.Touch(c, 1)

	victim, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, a, victim)

	p.Touch(a, 0)
	victim, _ = p.Victim()
	assert.Equal(t, b, victim)

	p.Remove(a)
	p.Remove(b)
	victim, _ = p.Victim()
	assert.Equal(t, c, victim)

	p.Remove(c)
	_, ok = p.Victim()
	assert.False(t, ok)
}

func TestLRUPolicyIgnoresCost(t *testing.T) {
	s := NewStore(2, NewLRUPolicy(), zaptest.NewLogger(t))
	coarse := tile.New(4, 0, 0)
	fine := tile.New(0, 0, 0)
	other := tile.New(0, 1, 1)

	s.Insert(coarse, placeholder(coarse), coarse.Level)
	s.Insert(fine, placeholder(fine), fine.Level)
	s.Insert(other, placeholder(other), other.Level)

	_, ok := s.Get(coarse)
	assert.False(t, ok)
}

func TestUnboundedStore(t *testing.T) {
	s := NewStore(0, nil, zaptest.NewLogger(t))
	for i := 0; i < 500; i++ {
		addr := tile.New(0, i, 0)
		s.Insert(addr, placeholder(addr), 0)
	}
	assert.Equal(t, 500, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestNewCache(t *testing.T) {
	log := zaptest.NewLogger(t)
	for _, name := range []string{"cost", "lru", "unbounded"} {
		s, err := NewCache(name, 10, log)
		require.NoError(t, err, name)
		require.NotNil(t, s)
	}

	_, err := NewCache("disk", 10, log)
	assert.Error(t, err)
}

func TestPinnedEntriesSurviveEviction(t *testing.T) {
	s := NewStore(2, NewCostPolicy(), zaptest.NewLogger(t))
	view := []tile.Address{tile.New(0, 0, 0), tile.New(0, 1, 0), tile.New(0, 0, 1)}
	s.Pin(view)

	for _, addr := range view {
		s.Insert(addr, placeholder(addr), addr.Level)
	}
	assert.Equal(t, 3, s.Len(), "pinned entries may exceed capacity")
	assert.Zero(t, s.Stats().Evictions)
	for _, addr := range view {
		assert.True(t, s.Update(addr, image.NewRGBA(image.Rect(0, 0, 1, 1))), addr.Key())
	}

	s.Pin(view[:1])
	other := tile.New(1, 0, 0)
	s.Insert(other, placeholder(other), other.Level)
	assert.Equal(t, 2, s.Len())
	_, ok := s.Peek(view[0])
	assert.True(t, ok)
	_, ok = s.Peek(other)
	assert.True(t, ok)

	s.Pin(nil)
	coarse := tile.New(2, 0, 0)
	s.Insert(coarse, placeholder(coarse), coarse.Level)
	_, ok = s.Peek(view[0])
	assert.False(t, ok, "released entries are evictable again")
}
