// Package render produces interactive previews of an edit. Each render
// makes a downscaled background of the whole image, and when the view
// is zoomed in, a higher resolution render of the visible region (the
// ROI) to lay over it. Renders are throttled by a Scheduler, and the
// results are delivered on a channel that only ever holds the newest.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

// Update is the result of one render.
type Update struct {
	Generation uint64
	Background *image.RGBA // the whole image, small
	FullSize   image.Point // size of the full resolution image
	ROI        *image.RGBA // nil unless zoomed in; may be smaller than ROIRect
	ROIRect    image.Rectangle
	Stats      tonemap.Stats // from the background
	Elapsed    time.Duration
}

// Downscaled reports whether the ROI was rendered below full resolution,
// and needs scaling back up to fill ROIRect.
func (u *Update) Downscaled() bool {
	return u.ROI != nil && u.ROI.Bounds().Size() != u.ROIRect.Size()
}

func (u *Update) String() string {
	str := fmt.Sprintf("update#%d bg %s of %s", u.Generation, u.Background.Bounds().Size(), u.FullSize)
	if u.ROI != nil {
		str += fmt.Sprintf(", roi %s at %s", u.ROIRect, u.ROI.Bounds().Size())
	}
	return str + fmt.Sprintf(", %s, %s", u.Stats, u.Elapsed)
}

// LatencySummary describes how long renders have been taking.
type LatencySummary struct {
	Count               int64
	Mean, P50, P95, Max time.Duration
}

func (l LatencySummary) String() string {
	return fmt.Sprintf("%d renders, mean %s, p50 %s, p95 %s, max %s", l.Count, l.Mean, l.P50, l.P95, l.Max)
}

type background struct {
	src  *fimage.Image
	edge int
	img  *fimage.Image
}

// Pipeline holds the current image, view and parameters, and renders
// them. Setters may be called from any goroutine.
type Pipeline struct {
	cfg     Config
	filters *detail.Filters
	pool    *tilePool
	sched   *Scheduler

	mu     sync.Mutex
	img    *fimage.Image
	view   View
	params tonemap.Params

	gen atomic.Uint64
	bg  atomic.Pointer[background]

	updates chan Update
	errs    chan error

	latMu   sync.Mutex
	latency *hdrhistogram.Histogram

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// Renders hold this for reading; Close takes it to wait them out
	// before the tile pool goes away.
	lifeMu sync.RWMutex
	closed bool

	onTile func(tileJob) // called by the tile workers before each job; for tests
}

// New builds a pipeline. If filters is nil, the best available detail
// backend is probed for.
func New(cfg Config, filters *detail.Filters) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if filters == nil {
		filters = detail.Probe(detail.DefaultConfig())
	}

	p := &Pipeline{
		cfg:     cfg,
		filters: filters,
		params:  tonemap.Neutral(),
		updates: make(chan Update, 1),
		errs:    make(chan error, 8),
		latency: hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.sched = NewScheduler(cfg.Cadence, p.renderAndDeliver)

	if cfg.Tiled {
		p.pool = newTilePool(cfg.Workers, p.renderTile)
	}

	if cfg.Verbosity > 0 {
		log.Printf("render: %s, detail %s\n", cfg, filters)
	}
	return p, nil
}

// SetImage replaces the full resolution image. The pipeline keeps
// using img without copying it, so it must not be changed afterwards.
// Any render in flight for the old image is discarded.
func (p *Pipeline) SetImage(img *fimage.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.img = img
	p.bg.Store(nil)
	p.gen.Add(1)
}

func (p *Pipeline) SetView(v View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view = v
}

func (p *Pipeline) SetParams(params tonemap.Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
}

// RequestUpdate asks for a render of the current state. It returns at
// once; the result arrives on Updates.
func (p *Pipeline) RequestUpdate() { p.sched.Request() }

// Updates delivers rendered previews. If the consumer falls behind,
// the older undelivered update is dropped in favour of the newer.
func (p *Pipeline) Updates() <-chan Update { return p.updates }

// Errors delivers failures from requested renders. It does not block
// the renderer; if nobody is reading, errors are logged and dropped.
func (p *Pipeline) Errors() <-chan error { return p.errs }

// Close stops the scheduler and the workers, and closes the channels.
// The pipeline can't be used afterwards.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.lifeMu.Lock()
		p.closed = true
		p.lifeMu.Unlock()

		p.sched.Close()
		if p.pool != nil {
			p.pool.close()
		}
		close(p.updates)
		close(p.errs)
	})
}

func (p *Pipeline) renderAndDeliver() {
	u, err := p.Render(p.ctx)
	if err != nil {
		if p.ctx.Err() == nil {
			p.sendErr(err)
		}
		return
	}
	if u != nil {
		p.deliver(*u)
	}
}

func (p *Pipeline) deliver(u Update) {
	for {
		select {
		case p.updates <- u:
			return
		default:
		}
		select {
		case old := <-p.updates:
			if p.cfg.Verbosity > 1 {
				log.Printf("render: update#%d was never collected\n", old.Generation)
			}
		default:
		}
	}
}

func (p *Pipeline) sendErr(err error) {
	select {
	case p.errs <- err:
	default:
		log.Printf("render: dropping error: %v\n", err)
	}
}

// Render does one render of the current state, synchronously. It
// returns nil (and no error) when there is nothing to show, or when the
// render was superseded by a newer one before it finished. Close
// cancels it, and afterwards it returns ErrClosed.
func (p *Pipeline) Render(ctx context.Context) (*Update, error) {
	p.lifeMu.RLock()
	defer p.lifeMu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	gen := p.gen.Add(1)
	tStart := time.Now()

	p.mu.Lock()
	img, view, params := p.img, p.view, p.params
	p.mu.Unlock()

	if img == nil || view == nil {
		return nil, nil
	}
	vw, vh := view.ViewportSize()
	if vw <= 0 || vh <= 0 {
		return nil, nil
	}
	fullW, fullH := img.W(), img.H()
	xform := view.Transform()
	zoomed := p.isZoomedIn(view, xform, fullW, fullH)

	edge := p.cfg.BackgroundEdgeFit
	if zoomed {
		edge = p.cfg.BackgroundEdgeZoomed
	}
	bgTone, stats, err := tonemap.Apply(p.backgroundFor(img, edge), params)
	if err != nil {
		return nil, fmt.Errorf("render background: %w", err)
	}

	// The atmosphere of the whole image is reused for the ROI, so the
	// two tiers dehaze the same way.
	var atm *detail.Atmosphere
	if params.DeHaze > 0 {
		var a detail.Atmosphere
		if bgTone, a, err = detail.Dehaze(bgTone, params.DeHaze, nil); err != nil {
			return nil, fmt.Errorf("render background: %w", err)
		}
		atm = &a
	}

	u := &Update{
		Generation: gen,
		Background: bgTone.ToRGBA(),
		FullSize:   image.Pt(fullW, fullH),
		Stats:      stats,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if zoomed {
		if roi, ok := roiRect(xform, vw, vh, fullW, fullH, p.cfg.MinROIEdge); ok {
			out, err := p.renderROI(ctx, gen, img, roi, params, atm)
			if err != nil {
				return nil, fmt.Errorf("render roi %s: %w", roi, err)
			} else if out == nil {
				return nil, nil
			}
			u.ROI, u.ROIRect = out, roi
		}
	}

	if p.gen.Load() != gen {
		if p.cfg.Verbosity > 1 {
			log.Printf("render: #%d superseded, discarding\n", gen)
		}
		return nil, nil
	}

	u.Elapsed = time.Since(tStart)
	p.recordLatency(u.Elapsed)
	if p.cfg.Verbosity > 0 {
		log.Printf("render: %s\n", u)
	}
	return u, nil
}

// isZoomedIn decides whether an ROI is needed: the view must be out of
// fit mode, and either magnified past the fit scale or near 1:1.
func (p *Pipeline) isZoomedIn(view View, xform emath.Aff3, fullW, fullH int) bool {
	if view.IsFitting() {
		return false
	}
	vw, vh := view.ViewportSize()
	zoom := math.Hypot(xform[0], xform[3])
	fit := FitScale(fullW, fullH, vw, vh)
	return zoom > fit*(1.0+p.cfg.ZoomEpsilon) || zoom > 1.0-p.cfg.ZoomEpsilon
}

func (p *Pipeline) backgroundFor(img *fimage.Image, edge int) *fimage.Image {
	if bg := p.bg.Load(); bg != nil && bg.src == img && bg.edge == edge {
		return bg.img
	}

	small := img
	if w, h := fimage.FitLongEdge(img.W(), img.H(), edge); w < img.W() && h < img.H() {
		small = img.Resize(w, h, p.cfg.Resampler)
	}
	p.bg.Store(&background{src: img, edge: edge, img: small})
	return small
}

// roiRect finds the part of the image visible in the viewport, in full
// resolution pixel coords. Slivers no more than minEdge pixels across
// are not worth rendering.
func roiRect(xform emath.Aff3, vw, vh, fullW, fullH, minEdge int) (image.Rectangle, bool) {
	inv, err := xform.Invert()
	if err != nil {
		return image.Rectangle{}, false
	}
	x0, y0, x1, y1 := inv.MapRect(image.Rect(0, 0, vw, vh))

	// Built by hand, since image.Rect would swap an inverted box round.
	r := image.Rectangle{
		Min: image.Pt(max(0, int(x0)), max(0, int(y0))),
		Max: image.Pt(min(fullW, int(x1)), min(fullH, int(y1))),
	}
	if r.Dx() <= minEdge || r.Dy() <= minEdge {
		return image.Rectangle{}, false
	}
	return r, true
}

// budgetSize scales (w,h) down, keeping the aspect, so that it has no
// more than budget pixels.
func budgetSize(w, h, budget int) (int, int, bool) {
	if w*h <= budget {
		return w, h, false
	}
	s := math.Sqrt(float64(budget) / float64(w*h))
	return max(1, int(float64(w)*s)), max(1, int(float64(h)*s)), true
}

// renderROI renders roi of img, shrunk to fit the pixel budget. Tiles
// take their padding from the image around the ROI, or from the shrunk
// ROI alone once it has been shrunk.
func (p *Pipeline) renderROI(ctx context.Context, gen uint64, img *fimage.Image, roi image.Rectangle, params tonemap.Params, atm *detail.Atmosphere) (*image.RGBA, error) {
	pw, ph, scaled := budgetSize(roi.Dx(), roi.Dy(), p.cfg.ROIPixelBudget)
	if p.pool == nil || scaled {
		src := img.Crop(roi)
		if scaled {
			src = src.Resize(pw, ph, p.cfg.Resampler)
		}
		if p.pool == nil {
			out, _, err := p.processRegion(src, params, atm)
			return out, err
		}
		return p.renderTiles(ctx, gen, src, src.Bounds(), pw, ph, params, atm)
	}

	outer := roi.Inset(-p.cfg.TileBorder).Intersect(img.Bounds())
	return p.renderTiles(ctx, gen, img.Crop(outer), outer.Sub(roi.Min), roi.Dx(), roi.Dy(), params, atm)
}

// renderTiles renders the w x h area at the origin, in parallel tiles.
// src holds the pixels of area, which covers at least the w x h and
// maybe some context around it.
func (p *Pipeline) renderTiles(ctx context.Context, gen uint64, src *fimage.Image, area image.Rectangle, w, h int, params tonemap.Params, atm *detail.Atmosphere) (*image.RGBA, error) {
	inner, padded := planTiles(w, h, p.cfg.TileSize, p.cfg.TileBorder, area)
	results := make(chan tileResult, len(inner))
	for i := range inner {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.pool.submit(tileJob{
			gen:     gen,
			idx:     i,
			src:     src.Crop(padded[i].Sub(area.Min)),
			inner:   inner[i].Sub(padded[i].Min),
			offset:  inner[i].Min,
			params:  params,
			atm:     atm,
			results: results,
		})
	}

	surf := newSurface(gen, w, h, len(inner))
	for !surf.complete() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-results:
			if r.err != nil {
				return nil, r.err
			}
			if !surf.accept(r) && p.cfg.Verbosity > 1 {
				log.Printf("render: dropped tile %d of #%d\n", r.idx, r.gen)
			}
		}
		if p.gen.Load() != gen {
			return nil, nil
		}
	}
	return surf.img, nil
}

func (p *Pipeline) renderTile(job tileJob) tileResult {
	if p.onTile != nil {
		p.onTile(job)
	}
	res := tileResult{gen: job.gen, idx: job.idx, offset: job.offset}
	if p.gen.Load() != job.gen {
		return res // stale; the surface will refuse the empty result
	}

	out, _, err := p.processRegion(job.src, job.params, job.atm)
	if err != nil {
		res.err = err
		return res
	}
	res.img = cropRGBA(out, job.inner)
	return res
}

// processRegion is the ROI processing chain: tone map, dehaze, down to
// 8 bits, then the detail filters.
func (p *Pipeline) processRegion(src *fimage.Image, params tonemap.Params, atm *detail.Atmosphere) (*image.RGBA, tonemap.Stats, error) {
	toned, stats, err := tonemap.Apply(src, params)
	if err != nil {
		return nil, stats, err
	}
	if params.DeHaze > 0 {
		if toned, _, err = detail.Dehaze(toned, params.DeHaze, atm); err != nil {
			return nil, stats, err
		}
	}

	out := toned.ToRGBA()
	if params.SharpenValue > 0 {
		if out, err = p.filters.Sharpen(out, params.SharpenRadius, params.SharpenPercent); err != nil {
			return nil, stats, err
		}
	}
	if params.DeNoise > 0 {
		if out, err = p.filters.Denoise(out, params.DeNoise, params.DenoiseMethod); err != nil {
			return nil, stats, err
		}
	}
	return out, stats, nil
}

func (p *Pipeline) recordLatency(d time.Duration) {
	p.latMu.Lock()
	defer p.latMu.Unlock()
	if err := p.latency.RecordValue(int64(d / time.Microsecond)); err != nil {
		log.Printf("render: latency %s out of range\n", d)
	}
}

// Latency summarises the durations of the renders so far.
func (p *Pipeline) Latency() LatencySummary {
	p.latMu.Lock()
	defer p.latMu.Unlock()
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencySummary{
		Count: p.latency.TotalCount(),
		Mean:  time.Duration(p.latency.Mean() * float64(time.Microsecond)),
		P50:   us(p.latency.ValueAtQuantile(50)),
		P95:   us(p.latency.ValueAtQuantile(95)),
		Max:   us(p.latency.Max()),
	}
}

// ErrClosed is what RenderOnce returns after Close.
var ErrClosed = errors.New("render pipeline closed")

// RenderOnce is Render for callers without a context of their own; it
// is cancelled by Close.
func (p *Pipeline) RenderOnce() (*Update, error) {
	if p.ctx.Err() != nil {
		return nil, ErrClosed
	}
	return p.Render(p.ctx)
}
