// Package fetch issues asynchronous tile fetches, at most one per tile
// address at a time, and applies their results on the render context.
package fetch

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gigatile/internal/cache"
	"gigatile/internal/tile"
)

// Fetcher obtains tile images. A nil image with a nil error means the
// tile does not exist.
type Fetcher interface {
	FetchTile(ctx context.Context, addr tile.Address) (image.Image, error)
}

// Scheduler runs fn on the surface's render context, serialized with
// draw passes.
type Scheduler interface {
	Post(fn func())
}

// Surface is notified when a fetched tile has been stored and its rect
// needs redrawing.
type Surface interface {
	TileReady(addr tile.Address, img image.Image, rect tile.Rect)
}

// settledObserver is implemented by surfaces that also want to know when
// a fetch finished without producing a drawable tile.
type settledObserver interface {
	TileSettled(addr tile.Address)
}

type Options struct {
	// Workers bounds concurrent fetches within one batch; <= 0 is unbounded.
	Workers int
	// RatePerSecond limits provider calls across all batches; <= 0 disables.
	RatePerSecond float64
	Burst         int
	// Timeout bounds a single fetch; <= 0 disables.
	Timeout time.Duration
}

type Stats struct {
	Requested uint64 `json:"requested"`
	Completed uint64 `json:"completed"`
	Empty     uint64 `json:"empty"`
	Failed    uint64 `json:"failed"`
	Stale     uint64 `json:"stale"`
	Pending   int    `json:"pending"`
}

type Coordinator struct {
	fetcher   Fetcher
	store     *cache.Store
	scheduler Scheduler
	surface   Surface
	opts      Options
	limiter   *rate.Limiter
	pending   *PendingSet
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in RequestMany against Close.
	mu     sync.Mutex
	closed bool

	requested atomic.Uint64
	completed atomic.Uint64
	empty     atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
}

func New(fetcher Fetcher, store *cache.Store, scheduler Scheduler, surface Surface, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		fetcher:   fetcher,
		store:     store,
		scheduler: scheduler,
		surface:   surface,
		opts:      opts,
		limiter:   limiter,
		pending:   NewPendingSet(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetSurface replaces the surface notified about ready tiles. It must be
// called on the render context.
func (c *Coordinator) SetSurface(surface Surface) {
	c.surface = surface
}

// RequestMany starts one fetch for every address that is not already
// pending and returns how many were started. It never blocks on the
// fetches themselves.
func (c *Coordinator) RequestMany(addrs []tile.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	batch := make([]tile.Address, 0, len(addrs))
	for _, addr := range addrs {
		if c.pending.Add(addr) {
			batch = append(batch, addr)
		}
	}
	if len(batch) == 0 {
		return 0
	}

	c.requested.Add(uint64(len(batch)))
	c.logger.Debug("Requesting tiles", zap.Int("count", len(batch)), zap.Int("pending", c.pending.Len()))

	c.wg.Add(1)
	go c.runBatch(batch)

	return len(batch)
}

func (c *Coordinator) Pending(addr tile.Address) bool {
	return c.pending.Has(addr)
}

func (c *Coordinator) PendingCount() int {
	return c.pending.Len()
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Requested: c.requested.Load(),
		Completed: c.completed.Load(),
		Empty:     c.empty.Load(),
		Failed:    c.failed.Load(),
		Stale:     c.stale.Load(),
		Pending:   c.pending.Len(),
	}
}

// Close cancels outstanding fetches and waits for their goroutines.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) runBatch(batch []tile.Address) {
	defer c.wg.Done()

	var g errgroup.Group
	if c.opts.Workers > 0 {
		g.SetLimit(c.opts.Workers)
	}
	for _, addr := range batch {
		g.Go(func() error {
			c.fetchOne(addr)
			return nil
		})
	}
	g.Wait()
}

func (c *Coordinator) fetchOne(addr tile.Address) {
	ctx := c.ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.complete(addr, nil, err)
			return
		}
	}

	img, err := c.fetcher.FetchTile(ctx, addr)
	c.complete(addr, img, err)
}

func (c *Coordinator) complete(addr tile.Address, img image.Image, err error) {
	c.scheduler.Post(func() {
		c.pending.Remove(addr)
		c.apply(addr, img, err)
	})
}

// apply runs on the render context.
func (c *Coordinator) apply(addr tile.Address, img image.Image, err error) {
	switch {
	case err != nil:
		c.failed.Add(1)
		c.logger.Warn("Tile fetch failed", zap.String("tile", addr.Key()), zap.Error(err))
	case img == nil:
		c.empty.Add(1)
		c.logger.Debug("Tile not available", zap.String("tile", addr.Key()))
	default:
		if !c.store.Update(addr, img) {
			c.stale.Add(1)
			c.logger.Debug("Discarding tile evicted while in flight", zap.String("tile", addr.Key()))
			break
		}
		c.completed.Add(1)
		if c.surface != nil {
			entry, ok := c.store.Peek(addr)
			if ok {
				c.surface.TileReady(addr, img, entry.Rect())
			}
		}
		return
	}

	if obs, ok := c.surface.(settledObserver); ok {
		obs.TileSettled(addr)
	}
}
