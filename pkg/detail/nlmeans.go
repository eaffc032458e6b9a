package detail

import (
	"image"
	"math"
)

// nlMeans is non-local means de-noising. Every pixel becomes a weighted
// mean of the pixels in a search window around it, where the weight
// depends on how alike the small patches around the two pixels look
// (mean squared Lab distance). h sets how alike is "alike".
func nlMeans(img *image.RGBA, patchRadius, searchRadius int, h float64) *image.RGBA {
	b := img.Bounds()
	w, ht := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, ht))
	if h <= 0 {
		h = 1e-6
	}
	lab := labPlane(img)
	h2 := h * h

	at := func(x, y int) int {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= ht {
			y = ht - 1
		}
		return y*w + x
	}

	patchDist := func(x1, y1, x2, y2 int) float64 {
		d, n := 0.0, 0
		for py := -patchRadius; py <= patchRadius; py++ {
			for px := -patchRadius; px <= patchRadius; px++ {
				d += lab[at(x1+px, y1+py)].DistSq(lab[at(x2+px, y2+py)])
				n++
			}
		}
		return d / float64(n)
	}

	forRowsConcurrently(ht, func(y int) {
		for x := 0; x < w; x++ {
			var sum [3]float64
			wsum := 0.0

			for sy := y - searchRadius; sy <= y+searchRadius; sy++ {
				if sy < 0 || sy >= ht {
					continue
				}
				for sx := x - searchRadius; sx <= x+searchRadius; sx++ {
					if sx < 0 || sx >= w {
						continue
					}
					wt := math.Exp(-patchDist(x, y, sx, sy) / h2)
					i := img.PixOffset(sx+b.Min.X, sy+b.Min.Y)
					sum[0] += wt * float64(img.Pix[i])
					sum[1] += wt * float64(img.Pix[i+1])
					sum[2] += wt * float64(img.Pix[i+2])
					wsum += wt
				}
			}

			o := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				out.Pix[o+c] = clampU8(sum[c] / wsum)
			}
			out.Pix[o+3] = img.Pix[img.PixOffset(x+b.Min.X, y+b.Min.Y)+3]
		}
	})

	return out
}
