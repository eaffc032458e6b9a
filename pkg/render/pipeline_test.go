package render

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

func noisyImage(w, h int, seed int64) *fimage.Image {
	rnd := rand.New(rand.NewSource(seed))
	img := fimage.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := float64(x+y) / float64(w+h)
			img.SetRGB(x, y, base, 0.5*base+0.25*rnd.Float64(), rnd.Float64())
		}
	}
	return img
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Cadence = 5 * time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg, detail.Probe(detail.Config{Preferred: false}))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestRenderNothingToShow(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	u, err := p.Render(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, u, "no image")

	p.SetImage(noisyImage(40, 30, 1))
	u, err = p.Render(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, u, "no view")

	p.SetView(StaticView{W: 0, H: 100, Xform: emath.Identity()})
	u, err = p.Render(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, u, "zero sized viewport")
}

func TestRenderFitted(t *testing.T) {
	cfg := testConfig()
	cfg.BackgroundEdgeFit = 200
	p := newTestPipeline(t, cfg)

	p.SetImage(noisyImage(400, 300, 1))
	p.SetView(FitView(400, 300, 100, 80))
	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)

	assert.Equal(t, image.Pt(200, 150), u.Background.Bounds().Size())
	assert.Equal(t, image.Pt(400, 300), u.FullSize)
	assert.Nil(t, u.ROI)
	assert.False(t, u.Downscaled())
}

func TestBackgroundIsNotUpscaled(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.SetImage(noisyImage(40, 30, 1))
	p.SetView(FitView(40, 30, 100, 80))

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, image.Pt(40, 30), u.Background.Bounds().Size())
}

func TestBackgroundCache(t *testing.T) {
	cfg := testConfig()
	cfg.BackgroundEdgeFit = 100
	cfg.BackgroundEdgeZoomed = 50
	p := newTestPipeline(t, cfg)

	img := noisyImage(400, 300, 1)
	a := p.backgroundFor(img, 100)
	assert.Same(t, a, p.backgroundFor(img, 100))
	assert.Equal(t, 50, p.backgroundFor(img, 50).W())

	p.SetImage(img)
	assert.Nil(t, p.bg.Load(), "new image empties the cache")
}

func TestRenderZoomedROI(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	img := noisyImage(400, 300, 2)
	p.SetImage(img)
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	require.NotNil(t, u.ROI)

	assert.Equal(t, image.Rect(175, 130, 225, 170), u.ROIRect)
	assert.False(t, u.Downscaled())
	assert.Equal(t, img.Crop(u.ROIRect).ToRGBA().Pix, u.ROI.Pix, "neutral params leave the pixels alone")
}

func TestRenderROIBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ROIPixelBudget = 500
	p := newTestPipeline(t, cfg)
	p.SetImage(noisyImage(400, 300, 2))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u.ROI)
	assert.True(t, u.Downscaled())
	assert.Equal(t, image.Pt(25, 20), u.ROI.Bounds().Size())
	assert.Equal(t, 50, u.ROIRect.Dx(), "rect stays in full res coords")
}

func TestRenderSliverROISkipped(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.SetImage(noisyImage(400, 300, 2))
	p.SetView(ZoomedView(200, 8, 1.0, 200, 150))

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Nil(t, u.ROI)
}

func TestIsZoomedIn(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	// fit scale of 400x300 in 100x80 is 0.25
	tests := []struct {
		zoom    float64
		fitting bool
		want    bool
	}{
		{0.25, false, false},
		{0.2520, false, false},
		{0.26, false, true},
		{2.0, true, false},
		{0.995, false, true},
	}
	for _, tc := range tests {
		v := ZoomedView(100, 80, tc.zoom, 200, 150)
		v.Fitting = tc.fitting
		assert.Equal(t, tc.want, p.isZoomedIn(v, v.Transform(), 400, 300), "zoom %.4f fitting %v", tc.zoom, tc.fitting)
	}

	// a small image whose fit scale is >1 still counts as zoomed near 1:1
	v := ZoomedView(1000, 1000, 1.0, 50, 50)
	assert.True(t, p.isZoomedIn(v, v.Transform(), 100, 100))
}

func TestROIRect(t *testing.T) {
	// view hanging off the top left of the image
	xform := emath.Identity().Translate(50, 50)
	r, ok := roiRect(xform, 100, 100, 400, 300, 10)
	assert.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 50, 50), r)

	// entirely off the image
	_, ok = roiRect(emath.Identity().Translate(1000, 0), 100, 100, 400, 300, 10)
	assert.False(t, ok)

	// exactly minEdge wide is still too thin
	_, ok = roiRect(emath.Identity(), 10, 100, 400, 300, 10)
	assert.False(t, ok)
	_, ok = roiRect(emath.Identity(), 11, 100, 400, 300, 10)
	assert.True(t, ok)

	_, ok = roiRect(emath.Aff3{}, 100, 100, 400, 300, 10)
	assert.False(t, ok, "degenerate transform")
}

func TestBudgetSize(t *testing.T) {
	w, h, scaled := budgetSize(100, 100, 10000)
	assert.False(t, scaled)
	assert.Equal(t, 100, w)
	assert.Equal(t, 100, h)

	w, h, scaled = budgetSize(4000, 3000, 1500000)
	assert.True(t, scaled)
	assert.LessOrEqual(t, w*h, 1500000)
	assert.InDelta(t, 4.0/3.0, float64(w)/float64(h), 0.01)
}

func TestTiledMatchesUntiled(t *testing.T) {
	params := tonemap.Neutral()
	params.Exposure = 0.5
	params.Saturation = 1.3
	params.Shadows = 0.2

	render := func(tiled bool) *Update {
		cfg := testConfig()
		cfg.Tiled = tiled
		cfg.TileSize = 16
		cfg.TileBorder = 4
		p := newTestPipeline(t, cfg)
		p.SetImage(noisyImage(400, 300, 3))
		p.SetParams(params)
		p.SetView(ZoomedView(100, 80, 2.0, 200, 150))
		u, err := p.Render(context.Background())
		require.NoError(t, err)
		require.NotNil(t, u)
		require.NotNil(t, u.ROI)
		return u
	}

	plain, tiled := render(false), render(true)
	assert.Equal(t, plain.ROIRect, tiled.ROIRect)
	assert.Equal(t, plain.ROI.Pix, tiled.ROI.Pix)
}

func TestTiledWithFilters(t *testing.T) {
	cfg := testConfig()
	cfg.Tiled = true
	cfg.TileSize = 16
	cfg.TileBorder = 4
	p := newTestPipeline(t, cfg)

	params := tonemap.Neutral()
	params.SharpenValue = 50
	params.SharpenRadius, params.SharpenPercent = detail.SharpenFromValue(50)
	params.DeNoise = 5
	params.DeHaze = 20
	p.SetImage(noisyImage(400, 300, 3))
	p.SetParams(params)
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u.ROI)
	assert.Equal(t, image.Pt(50, 40), u.ROI.Bounds().Size())
}

func TestStaleGenerationDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.Tiled = true
	cfg.TileSize = 16
	p := newTestPipeline(t, cfg)
	p.SetImage(noisyImage(400, 300, 4))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	var first atomic.Uint64
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p.onTile = func(job tileJob) {
		if first.CompareAndSwap(0, job.gen) {
			started <- struct{}{}
		}
		if job.gen == first.Load() {
			<-release
		}
	}

	type result struct {
		u   *Update
		err error
	}
	r1, r2 := make(chan result, 1), make(chan result, 1)
	go func() {
		u, err := p.Render(context.Background())
		r1 <- result{u, err}
	}()
	<-started

	go func() {
		u, err := p.Render(context.Background())
		r2 <- result{u, err}
	}()
	require.Eventually(t, func() bool { return p.gen.Load() > first.Load() }, 2*time.Second, time.Millisecond)
	close(release)

	res1, res2 := <-r1, <-r2
	assert.NoError(t, res1.err)
	assert.Nil(t, res1.u, "superseded render produces nothing")
	require.NoError(t, res2.err)
	require.NotNil(t, res2.u)
	assert.Greater(t, res2.u.Generation, first.Load())
	assert.NotNil(t, res2.u.ROI)
}

func TestSurfaceRefusesOtherGenerations(t *testing.T) {
	s := newSurface(7, 4, 2, 2)
	tile := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range tile.Pix {
		tile.Pix[i] = 200
	}

	assert.False(t, s.accept(tileResult{gen: 6, idx: 0, img: tile}))
	assert.False(t, s.accept(tileResult{gen: 7, idx: 0}), "stale workers send no image")
	assert.True(t, s.accept(tileResult{gen: 7, idx: 0, img: tile}))
	assert.False(t, s.accept(tileResult{gen: 7, idx: 0, img: tile}), "duplicate")
	assert.False(t, s.complete())
	assert.Equal(t, uint8(0), s.img.Pix[s.img.PixOffset(2, 0)])

	assert.True(t, s.accept(tileResult{gen: 7, idx: 1, img: tile, offset: image.Pt(2, 0)}))
	assert.True(t, s.complete())
	assert.Equal(t, uint8(200), s.img.Pix[s.img.PixOffset(3, 1)])
}

func TestPlanTiles(t *testing.T) {
	inner, padded := planTiles(50, 40, 16, 4, image.Rect(0, 0, 50, 40))
	require.Len(t, inner, 4*3)

	covered := map[image.Point]int{}
	for i, r := range inner {
		assert.True(t, r.In(padded[i]))
		assert.True(t, padded[i].In(image.Rect(0, 0, 50, 40)))
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				covered[image.Pt(x, y)]++
			}
		}
	}
	assert.Len(t, covered, 50*40)
	for pt, n := range covered {
		if n != 1 {
			t.Fatalf("%s covered %d times", pt, n)
		}
	}

	assert.Equal(t, image.Rect(12, 0, 36, 20), padded[1])

	// With image around the area, the edge tiles pad into it.
	_, padded = planTiles(50, 40, 16, 4, image.Rect(-4, -2, 54, 40))
	assert.Equal(t, image.Rect(-4, -2, 20, 20), padded[0])
	assert.Equal(t, image.Rect(44, 12, 54, 36), padded[7])
}

func TestEdgeTilesPadFromImage(t *testing.T) {
	cfg := testConfig()
	cfg.Tiled = true
	cfg.TileSize = 16
	cfg.TileBorder = 4
	p := newTestPipeline(t, cfg)
	p.SetImage(noisyImage(400, 300, 6))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	var mu sync.Mutex
	sizes := map[int]image.Point{}
	p.onTile = func(job tileJob) {
		mu.Lock()
		defer mu.Unlock()
		sizes[job.idx] = job.src.Bounds().Size()
	}

	u, err := p.Render(context.Background())
	require.NoError(t, err)
	require.Equal(t, image.Rect(175, 130, 225, 170), u.ROIRect)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, image.Pt(24, 24), sizes[0], "corner tile padded on all sides")
	assert.Equal(t, image.Pt(10, 16), sizes[11], "last tile is 2x8, plus 4 all round")

	// Still in a small image, padding stops at the image edge.
	p.SetImage(noisyImage(60, 40, 6))
	p.SetView(ZoomedView(60, 40, 1.0, 30, 20))
	u, err = p.Render(context.Background())
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 60, 40), u.ROIRect)
	assert.Equal(t, image.Pt(20, 20), sizes[0])
}

func TestDeliverKeepsNewest(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.deliver(Update{Generation: 1})
	p.deliver(Update{Generation: 2})
	p.deliver(Update{Generation: 3})

	u := <-p.Updates()
	assert.Equal(t, uint64(3), u.Generation)
	select {
	case u := <-p.Updates():
		t.Fatalf("unexpected second update %d", u.Generation)
	default:
	}
}

func TestRequestUpdateDelivers(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.SetImage(noisyImage(120, 90, 5))
	p.SetView(FitView(120, 90, 60, 45))

	for i := 0; i < 20; i++ {
		params := tonemap.Neutral()
		params.Exposure = float64(i) / 10.0
		p.SetParams(params)
		p.RequestUpdate()
	}

	select {
	case u := <-p.Updates():
		assert.NotNil(t, u.Background)
	case err := <-p.Errors():
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}

	require.Eventually(t, func() bool { return !p.sched.Busy() }, 5*time.Second, time.Millisecond)
	assert.LessOrEqual(t, p.Latency().Count, int64(20))
	assert.GreaterOrEqual(t, p.Latency().Count, int64(1))
}

func TestRenderErrorsGoToErrorChannel(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.SetImage(noisyImage(400, 300, 7))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	params := tonemap.Neutral()
	params.DeNoise = 5
	params.DenoiseMethod = "bogus"
	p.SetParams(params)
	p.RequestUpdate()

	select {
	case err := <-p.Errors():
		assert.ErrorIs(t, err, detail.ErrUnknownMethod)
		assert.Contains(t, err.Error(), "render roi")
	case u := <-p.Updates():
		t.Fatalf("failed render delivered update#%d", u.Generation)
	case <-time.After(5 * time.Second):
		t.Fatal("no error")
	}

	select {
	case u := <-p.Updates():
		t.Fatalf("failed render delivered update#%d", u.Generation)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseWaitsForDirectRenders(t *testing.T) {
	cfg := testConfig()
	cfg.Tiled = true
	cfg.TileSize = 8
	p, err := New(cfg, detail.Probe(detail.Config{Preferred: false}))
	require.NoError(t, err)
	p.SetImage(noisyImage(400, 300, 8))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := p.RenderOnce(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	p.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrClosed) {
			assert.ErrorIs(t, err, context.Canceled)
		}
	}
	_, err = p.Render(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseCancels(t *testing.T) {
	p, err := New(testConfig(), nil)
	require.NoError(t, err)
	p.Close()
	p.Close()

	_, err = p.RenderOnce()
	assert.ErrorIs(t, err, ErrClosed)
	_, open := <-p.Updates()
	assert.False(t, open)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ROIPixelBudget = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Resampler = "nearest"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestDebugOverlay(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	p.SetImage(noisyImage(400, 300, 2))
	p.SetView(ZoomedView(100, 80, 2.0, 200, 150))
	u, err := p.Render(context.Background())
	require.NoError(t, err)

	img := DebugOverlay(u, 200)
	assert.Equal(t, image.Pt(200, 150), img.Bounds().Size())

	filename := filepath.Join(t.TempDir(), "overlay.png")
	require.NoError(t, WriteDebugOverlay(u, 200, filename))
	assert.FileExists(t, filename)
}
