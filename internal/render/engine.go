// Package render draws a tile pyramid into a canvas, serving cached tiles
// immediately, standing in coarser crops for missing ones and deferring
// the fetches.
package render

import (
	"context"
	"image"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gigatile/internal/cache"
	"gigatile/internal/fallback"
	"gigatile/internal/fetch"
	"gigatile/internal/provider"
	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

// Surface is the view that owns an engine. It is called on the render
// context.
type Surface interface {
	fetch.Surface
	BackgroundReady(rect tile.Rect)
}

// PassStats summarizes one Draw call.
type PassStats struct {
	Level     int `json:"level"`
	Tiles     int `json:"tiles"`
	Drawn     int `json:"drawn"`
	Fallbacks int `json:"fallbacks"`
	Blank     int `json:"blank"`
	Requested int `json:"requested"`
}

// Complete reports whether every tile of the pass was drawn at full
// resolution.
func (s PassStats) Complete() bool {
	return s.Drawn == s.Tiles
}

type Engine struct {
	provider   provider.Provider
	store      *cache.Store
	coord      *fetch.Coordinator
	resolver   *fallback.Resolver
	scheduler  fetch.Scheduler
	surface    Surface
	logger     *zap.Logger
	imageSize  image.Point
	tileSize   image.Point
	zoomLevels int

	background       image.Image
	backgroundLoaded atomic.Bool
	backgroundGroup  singleflight.Group
}

// NewEngine wires a provider, a tile store and the render context
// (scheduler) together. All Draw calls must run on that context.
func NewEngine(p provider.Provider, store *cache.Store, scheduler fetch.Scheduler, surface Surface, opts fetch.Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	imageSize := p.ImageSize()
	tileSize := visible.NominalTileSize(p.TileSize(), imageSize)

	e := &Engine{
		provider:   p,
		store:      store,
		scheduler:  scheduler,
		surface:    surface,
		logger:     logger,
		imageSize:  imageSize,
		tileSize:   tileSize,
		zoomLevels: p.ZoomLevels(),
	}
	e.resolver = fallback.New(store, tileSize, e.zoomLevels)
	var fs fetch.Surface
	if surface != nil {
		fs = surface
	}
	e.coord = fetch.New(p, store, scheduler, fs, opts, logger.Named("fetch"))
	return e
}

func (e *Engine) ImageSize() image.Point { return e.imageSize }
func (e *Engine) TileSize() image.Point  { return e.tileSize }
func (e *Engine) ZoomLevels() int        { return e.zoomLevels }
func (e *Engine) Store() *cache.Store    { return e.store }

func (e *Engine) Coordinator() *fetch.Coordinator {
	return e.coord
}

// Draw paints rect at the given scale. Cached tiles are drawn directly,
// missing ones get the best coarser crop available and are queued for
// fetching. It never waits for a fetch.
func (e *Engine) Draw(c Canvas, rect tile.Rect, scale visible.Scale) PassStats {
	res := visible.Compute(visible.Params{
		Rect:       rect,
		TileSize:   e.tileSize,
		Scale:      scale,
		Bounds:     e.imageSize,
		ZoomLevels: e.zoomLevels,
	})
	stats := PassStats{Level: res.Level, Tiles: len(res.Placements)}
	if len(res.Placements) == 0 {
		return stats
	}

	// Keep this pass's tiles in the store so their fetch results are not
	// discarded as stale when the view holds more tiles than the capacity.
	addrs := make([]tile.Address, len(res.Placements))
	for i, p := range res.Placements {
		addrs[i] = p.Address
	}
	e.store.Pin(addrs)

	if e.background != nil {
		c.DrawImage(e.background, e.background.Bounds(), tile.FromSize(e.imageSize))
	}

	var missing []visible.Placement
	var queue []tile.Address

	for _, p := range res.Placements {
		entry, ok := e.store.Get(p.Address)
		switch {
		case ok && entry.HasImage():
			e.drawTile(c, entry)
			stats.Drawn++
		case ok:
			missing = append(missing, visible.Placement{Address: p.Address, Rect: entry.Rect()})
			queue = append(queue, p.Address)
		default:
			e.store.Insert(p.Address, cache.NewEntry(p.Address, p.Rect), p.Address.Level)
			missing = append(missing, p)
			queue = append(queue, p.Address)
		}
	}

	for _, p := range missing {
		crop, ok := e.resolver.Resolve(p)
		if !ok {
			stats.Blank++
			continue
		}
		c.DrawImage(crop.Image, crop.Source, crop.Dest)
		stats.Fallbacks++
	}

	if len(queue) > 0 {
		stats.Requested = e.coord.RequestMany(queue)
	}

	e.logger.Debug("Draw pass",
		zap.Int("level", stats.Level),
		zap.Int("tiles", stats.Tiles),
		zap.Int("drawn", stats.Drawn),
		zap.Int("fallbacks", stats.Fallbacks),
		zap.Int("requested", stats.Requested),
	)
	return stats
}

func (e *Engine) drawTile(c Canvas, entry *cache.Entry) {
	img := entry.Image()
	src, ok := visible.SourceRect(e.tileSize, entry.Address(), entry.Rect(), img.Bounds())
	if !ok {
		src = img.Bounds()
	}
	c.DrawImage(img, src, entry.Rect())
}

// Prefetch queues every tile of the given level for fetching, placing
// entries in the store first so results are kept.
func (e *Engine) Prefetch(level int) int {
	if level < 0 || level >= e.zoomLevels {
		return 0
	}
	res := visible.Compute(visible.Params{
		Rect:       tile.FromSize(e.imageSize),
		TileSize:   e.tileSize,
		Scale:      visible.Uniform(1 / float64(int(1)<<uint(level))),
		Bounds:     e.imageSize,
		ZoomLevels: e.zoomLevels,
	})

	var queue []tile.Address
	for _, p := range res.Placements {
		if entry, ok := e.store.Peek(p.Address); ok {
			if !entry.HasImage() {
				queue = append(queue, p.Address)
			}
			continue
		}
		e.store.Insert(p.Address, cache.NewEntry(p.Address, p.Rect), p.Address.Level)
		queue = append(queue, p.Address)
	}
	return e.coord.RequestMany(queue)
}

// LoadBackground fetches the background image once. Concurrent callers
// share one fetch; the result is applied on the render context.
func (e *Engine) LoadBackground(ctx context.Context) {
	if e.backgroundLoaded.Load() {
		return
	}
	go func() {
		_, _, _ = e.backgroundGroup.Do("background", func() (interface{}, error) {
			if e.backgroundLoaded.Load() {
				return nil, nil
			}
			img, err := e.provider.FetchBackground(ctx)
			if err != nil {
				e.logger.Warn("Background fetch failed", zap.Error(err))
				return nil, err
			}
			e.backgroundLoaded.Store(true)
			if img == nil {
				return nil, nil
			}
			e.scheduler.Post(func() {
				e.background = img
				if e.surface != nil {
					e.surface.BackgroundReady(tile.FromSize(e.imageSize))
				}
			})
			return img, nil
		})
	}()
}

// Close stops outstanding fetches.
func (e *Engine) Close() {
	e.coord.Close()
}
