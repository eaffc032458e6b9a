package render

import (
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

// A tileJob is one padded piece of the ROI. Inner is the part of the
// padded source that the tile owns, in the padded source's coords; the
// rest is context for the filters, and is thrown away.
type tileJob struct {
	gen     uint64
	idx     int
	src     *fimage.Image
	inner   image.Rectangle
	offset  image.Point // where inner goes in the surface
	params  tonemap.Params
	atm     *detail.Atmosphere
	results chan<- tileResult
}

type tileResult struct {
	gen    uint64
	idx    int
	offset image.Point
	img    *image.RGBA
	err    error
}

// planTiles cuts a w x h area into size x size tiles (smaller at the
// right and bottom edges), each padded by border pixels of context,
// clamped to limit. limit must hold the w x h area, and may run past it
// where there are more pixels to draw context from.
func planTiles(w, h, size, border int, limit image.Rectangle) (inner, padded []image.Rectangle) {
	bounds := image.Rect(0, 0, w, h)
	for y := 0; y < h; y += size {
		for x := 0; x < w; x += size {
			r := image.Rect(x, y, x+size, y+size).Intersect(bounds)
			inner = append(inner, r)
			padded = append(padded, r.Inset(-border).Intersect(limit))
		}
	}
	return
}

// surface collects the tiles of one generation. It is only handed
// over once every tile is in; tiles from any other generation are
// refused.
type surface struct {
	gen       uint64
	img       *image.RGBA
	filled    []bool
	remaining int
}

func newSurface(gen uint64, w, h, nTiles int) *surface {
	return &surface{
		gen:       gen,
		img:       image.NewRGBA(image.Rect(0, 0, w, h)),
		filled:    make([]bool, nTiles),
		remaining: nTiles,
	}
}

func (s *surface) accept(r tileResult) bool {
	if r.gen != s.gen || r.err != nil || r.img == nil {
		return false
	} else if r.idx < 0 || r.idx >= len(s.filled) || s.filled[r.idx] {
		return false
	}

	dr := r.img.Bounds().Sub(r.img.Bounds().Min).Add(r.offset)
	draw.Draw(s.img, dr, r.img, r.img.Bounds().Min, draw.Src)
	s.filled[r.idx] = true
	s.remaining--
	return true
}

func (s *surface) complete() bool { return s.remaining == 0 }

// tilePool is a fixed set of long lived workers. Jobs carry their own
// results channel, so renders of different generations can share it.
type tilePool struct {
	jobs chan tileJob
	wg   sync.WaitGroup
}

func newTilePool(nWorkers int, work func(tileJob) tileResult) *tilePool {
	if nWorkers < 1 {
		nWorkers = 1
	}
	tp := &tilePool{jobs: make(chan tileJob, 4*nWorkers)}

	worker := func() {
		defer tp.wg.Done()
		for job := range tp.jobs {
			job.results <- work(job)
		}
	}

	for i := 0; i < nWorkers; i++ {
		tp.wg.Add(1)
		go worker()
	}
	return tp
}

func (tp *tilePool) submit(job tileJob) { tp.jobs <- job }

func (tp *tilePool) close() {
	close(tp.jobs)
	tp.wg.Wait()
}

// cropRGBA copies out r of img, as a fresh image at the origin.
func cropRGBA(img *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min.Add(img.Bounds().Min), draw.Src)
	return out
}
