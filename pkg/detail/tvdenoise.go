package detail

import (
	"image"
	"math"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/ecolor"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
)

const tvIterations = 30

// tvDenoise is Chambolle's projection algorithm for total-variation
// de-noising, run on each channel independently. Larger weights give
// flatter, more cartoon-like results.
func tvDenoise(img *image.RGBA, weight float64, iters int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if weight <= 0 {
		weight = 1e-6
	}

	channels := [3]emath.FloatGrid{}
	for c := 0; c < 3; c++ {
		channels[c] = emath.NewFloatGrid(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				channels[c].Set(x, y, ecolor.FromU8(img.Pix[img.PixOffset(x+b.Min.X, y+b.Min.Y)+c]))
			}
		}
	}

	done := make(chan int, 3)
	for c := 0; c < 3; c++ {
		go func(c int) {
			channels[c] = tvChambolle(&channels[c], weight, iters)
			done <- c
		}(c)
	}
	for i := 0; i < 3; i++ {
		<-done
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				out.Pix[o+c] = ecolor.ToU8(channels[c].Get(x, y) + 0.5/255.0)
			}
			out.Pix[o+3] = img.Pix[img.PixOffset(x+b.Min.X, y+b.Min.Y)+3]
		}
	}
	return out
}

func tvChambolle(f *emath.FloatGrid, weight float64, iters int) emath.FloatGrid {
	w, h := f.Dx(), f.Dy()
	px, py := f.NewFromThis(), f.NewFromThis()
	u := *f.Copy()
	const tau = 0.25

	for i := 0; i < iters; i++ {
		if i > 0 {
			// u = f + div(p)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					d := -px.Get(x, y) - py.Get(x, y)
					if x > 0 {
						d += px.Get(x-1, y)
					}
					if y > 0 {
						d += py.Get(x, y-1)
					}
					u.Set(x, y, f.Get(x, y)+d)
				}
			}
		}

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gx, gy := 0.0, 0.0
				if x < w-1 {
					gx = u.Get(x+1, y) - u.Get(x, y)
				}
				if y < h-1 {
					gy = u.Get(x, y+1) - u.Get(x, y)
				}
				norm := 1.0 + math.Sqrt(gx*gx+gy*gy)*tau/weight
				px.Set(x, y, (px.Get(x, y)-tau*gx)/norm)
				py.Set(x, y, (py.Get(x, y)-tau*gy)/norm)
			}
		}
	}

	return u
}
