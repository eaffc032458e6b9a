package detail

import (
	"image"
	"math"

	"github.com/disintegration/gift"
)

const basicName = "basic"

func init() {
	Register(basicName, 0, newBasic)
}

// The basic backend is a plain unsharp mask and a median filter. It
// handles every method, so it is always last in the chain.
type basicBackend struct{}

func newBasic(Config) Backend { return basicBackend{} }

func (basicBackend) Name() string    { return basicName }
func (basicBackend) Available() bool { return true }

func (basicBackend) Sharpen(img *image.RGBA, radius, percent float64) (*image.RGBA, error) {
	return runGift(img, gift.UnsharpMask(float32(radius), float32(percent/100.0), 0)), nil
}

// Every method gets the same median filter.
func (basicBackend) Denoise(img *image.RGBA, strength float64, m Method) (*image.RGBA, error) {
	return runGift(img, gift.Median(MedianKernel(strength), false)), nil
}

// MedianKernel is the odd kernel size used for a given strength:
// max(3, round(strength)), bumped up to the next odd number.
func MedianKernel(strength float64) int {
	k := int(math.Round(strength))
	if k < 3 {
		k = 3
	}
	if k%2 == 0 {
		k++
	}
	return k
}

func runGift(src image.Image, filters ...gift.Filter) *image.RGBA {
	g := gift.New(filters...)
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}
