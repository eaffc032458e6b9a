package detail

import (
	"image"
	"math"
)

// bilateral is an edge-preserving blur: each output pixel is a
// weighted mean over a (2r+1)^2 window, weighted both by distance and
// by how close in Lab colour the neighbour is. sigmaColor is in Lab
// units (L runs 0..1).
func bilateral(img *image.RGBA, radius int, sigmaSpace, sigmaColor float64) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	lab := labPlane(img)

	spatial := make([]float64, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[(dy+radius)*(2*radius+1)+dx+radius] = math.Exp(-d2 / (2 * sigmaSpace * sigmaSpace))
		}
	}
	colorDenom := 2 * sigmaColor * sigmaColor

	forRowsConcurrently(h, func(y int) {
		for x := 0; x < w; x++ {
			center := lab[y*w+x]
			var sum [3]float64
			wsum := 0.0

			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					wt := spatial[(dy+radius)*(2*radius+1)+dx+radius]
					wt *= math.Exp(-center.DistSq(lab[ny*w+nx]) / colorDenom)

					i := img.PixOffset(nx+b.Min.X, ny+b.Min.Y)
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
