package viewer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gigatile/internal/cache"
	"gigatile/internal/fetch"
	"gigatile/internal/provider"
)

// Opener resolves an image ID to a tile provider.
type Opener interface {
	Open(id string) (provider.Provider, error)
}

type Options struct {
	CachePolicy string
	CacheTiles  int
	Fetch       fetch.Options
}

// Manager lazily creates one Viewer per image and keeps it for the life
// of the process.
type Manager struct {
	opener Opener
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	viewers map[string]*Viewer
	closed  bool
}

func NewManager(opener Opener, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opener:  opener,
		opts:    opts,
		logger:  logger,
		viewers: make(map[string]*Viewer),
	}
}

// Get returns the viewer for id, creating it on first use.
func (m *Manager) Get(id string) (*Viewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("viewer manager closed")
	}
	if v, ok := m.viewers[id]; ok {
		return v, nil
	}

	p, err := m.opener.Open(id)
	if err != nil {
		return nil, err
	}
	log := m.logger.With(zap.String("image", id))
	store, err := cache.NewCache(m.opts.CachePolicy, m.opts.CacheTiles, log.Named("cache"))
	if err != nil {
		return nil, err
	}
	v := New(id, p, store, m.opts.Fetch, log)
	m.viewers[id] = v

	m.logger.Info("Viewer opened",
		zap.String("image", id),
		zap.Int("width", v.ImageSize().X),
		zap.Int("height", v.ImageSize().Y),
		zap.Int("zoom_levels", v.ZoomLevels()),
	)
	return v, nil
}

// Warmup opens each image and prefetches its coarsest levels.
func (m *Manager) Warmup(ids []string, levels int) {
	if levels <= 0 || len(ids) == 0 {
		return
	}
	m.logger.Info("Starting tile warmup", zap.Int("levels", levels), zap.Int("images", len(ids)))

	total := 0
	for _, id := range ids {
		v, err := m.Get(id)
		if err != nil {
			m.logger.Warn("Warmup skipped image", zap.String("image", id), zap.Error(err))
			continue
		}
		total += v.Warmup(levels)
	}
	m.logger.Info("Tile warmup queued", zap.Int("tiles", total))
}

// Close shuts down every viewer.
func (m *Manager) Close() {
	m.mu.Lock()
	viewers := m.viewers
	m.viewers = map[string]*Viewer{}
	m.closed = true
	m.mu.Unlock()

	for _, v := range viewers {
		v.Close()
	}
}
