package detail

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/gift"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/ecolor"
)

const qualityName = "quality"

func init() {
	Register(qualityName, 10, newQuality)
}

// The quality backend is all Go, so it is always available: edge-aware
// sharpening plus real implementations of every de-noise method.
type qualityBackend struct {
	edgeThreshold float64
}

func newQuality(cfg Config) Backend {
	thr := cfg.EdgeThreshold
	if thr <= 0 {
		thr = DefaultConfig().EdgeThreshold
	}
	return &qualityBackend{edgeThreshold: thr}
}

func (q *qualityBackend) Name() string    { return qualityName }
func (q *qualityBackend) Available() bool { return true }

// Sharpen blends two images under an edge mask: near edges it uses the
// unsharp-masked image, in flat areas a lightly bilateral-filtered one,
// so flat areas don't get their noise amplified into halos.
func (q *qualityBackend) Sharpen(img *image.RGBA, radius, percent float64) (*image.RGBA, error) {
	sharp := runGift(img, gift.UnsharpMask(float32(radius), float32(percent/100.0), 0))
	base := bilateral(img, 2, 1.0, 0.02)
	mask := q.edgeMask(img, radius)

	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			m := float64(mask.GrayAt(x, y).Y) / 255.0
			i := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(base.Pix[i+c])*(1.0-m) + float64(sharp.Pix[i+c])*m
				out.Pix[i+c] = uint8(math.Round(v))
			}
			out.Pix[i+3] = img.Pix[img.PixOffset(x+b.Min.X, y+b.Min.Y)+3]
		}
	}
	return out, nil
}

// edgeMask thresholds the Sobel magnitude of the grayscale image, then
// softens the result so the blend has no hard seams.
func (q *qualityBackend) edgeMask(img *image.RGBA, radius float64) *image.Gray {
	edges := runGift(img, gift.Grayscale(), gift.Sobel())

	b := edges.Bounds()
	hard := image.NewGray(b)
	thr := uint8(q.edgeThreshold * 255.0)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if edges.Pix[edges.PixOffset(x, y)] >= thr {
				hard.Pix[hard.PixOffset(x, y)] = 0xFF
			}
		}
	}

	g := gift.New(gift.GaussianBlur(float32(math.Max(1.0, radius))))
	soft := image.NewGray(g.Bounds(b))
	g.Draw(soft, hard)
	return soft
}

func (q *qualityBackend) Denoise(img *image.RGBA, strength float64, m Method) (*image.RGBA, error) {
	switch m {
	case NLMeans:
		return nlMeans(img, 1, 5, 0.005*strength), nil
	case Bilateral:
		sigmaSpace := 1.0 + strength/5.0
		radius := int(math.Min(6, math.Ceil(2.0*sigmaSpace)))
		return bilateral(img, radius, sigmaSpace, 0.01+0.005*strength), nil
	case TotalVariation:
		return tvDenoise(img, 0.005*strength, tvIterations), nil
	}
	return nil, ErrNotSupported
}

// SharpenFromValue maps the single 0..100 "Sharpening" control onto
// the unsharp mask radius and percent.
func SharpenFromValue(v float64) (radius, percent float64) {
	radius = 0.5 + (v/100.0)*0.75
	percent = (v / 100.0) * 150.0
	return
}

// A Preset is a canned pair of sharpening value and de-noise strength.
type Preset struct {
	SharpenValue float64
	DeNoise      float64
}

var Presets = map[string]Preset{
	"low":    {SharpenValue: 30, DeNoise: 5},
	"medium": {SharpenValue: 60, DeNoise: 15},
	"high":   {SharpenValue: 100, DeNoise: 25},
}

// labPlane converts every pixel to Lab once, up front; the filters
// compare each pixel with many neighbours.
func labPlane(img *image.RGBA) []ecolor.Lab {
	b := img.Bounds()
	w := b.Dx()
	lab := make([]ecolor.Lab, w*b.Dy())
	forRowsConcurrently(b.Dy(), func(y int) {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x+b.Min.X, y+b.Min.Y)
			lab[y*w+x] = ecolor.LabU8(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		}
	})
	return lab
}

// forRowsConcurrently hands each row index to a pool of goroutines,
// and waits for them all to finish. fn must only write to its own row.
func forRowsConcurrently(h int, fn func(y int)) {
	var wg sync.WaitGroup
	jobsChan := make(chan int, h)

	nWorkers := runtime.NumCPU()
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range jobsChan {
				fn(y)
			}
		}()
	}

	for y := 0; y < h; y++ {
		jobsChan <- y
	}
	close(jobsChan)
	wg.Wait()
}

func clampU8(v float64) uint8 {
	if v <= 0 {
		return 0
	} else if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
