// Package viewer hosts one render engine per image and produces viewport
// snapshots from it, redrawing while tiles arrive.
package viewer

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"go.uber.org/zap"

	"gigatile/internal/cache"
	"gigatile/internal/fetch"
	"gigatile/internal/provider"
	"gigatile/internal/render"
	"gigatile/internal/tile"
	"gigatile/internal/viewport"
)

// Blank is painted where neither a tile nor a fallback is available.
var Blank = color.RGBA{R: 221, G: 221, B: 221, A: 255} // #ddd

// notifier is the engine's surface. It runs on the loop and wakes
// goroutines waiting for new pixels.
type notifier struct {
	mu      sync.Mutex
	changed chan struct{}
	ready   uint64
}

func newNotifier() *notifier {
	return &notifier{changed: make(chan struct{})}
}

func (n *notifier) signal(ready bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ready {
		n.ready++
	}
	close(n.changed)
	n.changed = make(chan struct{})
}

func (n *notifier) TileReady(tile.Address, image.Image, tile.Rect) { n.signal(true) }
func (n *notifier) TileSettled(tile.Address)                      { n.signal(false) }
func (n *notifier) BackgroundReady(tile.Rect)                     { n.signal(true) }

// watch returns a channel closed on the next event and the number of
// ready events so far.
func (n *notifier) watch() (<-chan struct{}, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed, n.ready
}

// Request describes one snapshot.
type Request struct {
	Width  int
	Height int
	// Zoom is relative to the scale at which the whole image fits.
	Zoom float64
	// Center is in image coordinates; nil centres on the image.
	Center *viewport.Point
	// Wait bounds how long to keep redrawing while tiles load. Zero
	// returns the first pass.
	Wait time.Duration
}

// Snapshot is the result of a Render call.
type Snapshot struct {
	Image   *image.RGBA
	Visible tile.Rect
	Stats   render.PassStats
	Passes  int
}

type Viewer struct {
	id       string
	provider provider.Provider
	engine   *render.Engine
	loop     *render.Loop
	notify   *notifier
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// New starts the render loop for p. Close releases it.
func New(id string, p provider.Provider, store *cache.Store, opts fetch.Options, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := render.NewLoop(256)
	go loop.Run(ctx)

	n := newNotifier()
	v := &Viewer{
		id:       id,
		provider: p,
		loop:     loop,
		notify:   n,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
	v.engine = render.NewEngine(p, store, loop, n, opts, logger)
	v.engine.LoadBackground(ctx)
	return v
}

func (v *Viewer) ID() string              { return v.id }
func (v *Viewer) Engine() *render.Engine  { return v.engine }
func (v *Viewer) ImageSize() image.Point  { return v.engine.ImageSize() }
func (v *Viewer) ZoomLevels() int         { return v.engine.ZoomLevels() }
func (v *Viewer) CacheStats() cache.Stats { return v.engine.Store().Stats() }
func (v *Viewer) FetchStats() fetch.Stats { return v.engine.Coordinator().Stats() }

// Warmup queues the coarsest levels so fallbacks are available early.
func (v *Viewer) Warmup(levels int) int {
	requested := 0
	v.loop.Do(func() {
		last := v.engine.ZoomLevels() - 1
		for l := last; l >= 0 && l > last-levels; l-- {
			requested += v.engine.Prefetch(l)
		}
	})
	return requested
}

// Render draws the requested viewport. While tiles are missing it waits
// for fetches to land and redraws, until the pass is complete, nothing
// more can arrive, req.Wait elapses or ctx ends.
func (v *Viewer) Render(ctx context.Context, req Request) (*Snapshot, error) {
	// A failed background load is retried by the next render.
	v.engine.LoadBackground(v.ctx)

	vp := viewport.New(image.Pt(req.Width, req.Height), v.ImageSize())
	zoom := req.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	center := vp.Center()
	if req.Center != nil {
		center = *req.Center
	}
	vp.ZoomTo(center, zoom)

	snap := &Snapshot{
		Image:   image.NewRGBA(image.Rect(0, 0, req.Width, req.Height)),
		Visible: vp.VisibleRect(),
	}
	canvas := render.NewImageCanvas(snap.Image, snap.Visible)

	var deadline <-chan time.Time
	if req.Wait > 0 {
		timer := time.NewTimer(req.Wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		var changed <-chan struct{}
		var readyBefore uint64
		ok := v.loop.Do(func() {
			changed, readyBefore = v.notify.watch()
			canvas.Fill(Blank)
			snap.Stats = v.engine.Draw(canvas, snap.Visible, canvas.Scale())
		})
		if !ok {
			return nil, context.Canceled
		}
		snap.Passes++

		if snap.Stats.Complete() || deadline == nil {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-deadline:
			return snap, nil
		case <-changed:
		}

		// Only failures or empty tiles settled and nothing is left in
		// flight: another pass would just ask again.
		_, readyNow := v.notify.watch()
		if readyNow == readyBefore && v.engine.Coordinator().PendingCount() == 0 {
			v.logger.Debug("View settled incomplete",
				zap.String("image", v.id),
				zap.Int("blank", snap.Stats.Blank),
				zap.Int("fallbacks", snap.Stats.Fallbacks))
			return snap, nil
		}
	}
}

// Close stops fetches and the render loop.
func (v *Viewer) Close() {
	v.engine.Close()
	v.cancel()
	<-v.loop.Done()
}
