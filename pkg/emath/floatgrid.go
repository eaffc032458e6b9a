package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a single-channel grid of floats, with some operations.
// The de-haze and total-variation filters do their work on these.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

// GetClamped reads with coordinates clamped to the grid (edge pixels repeat).
func (fg *FloatGrid) GetClamped(x, y int) float64 {
	return fg.Get(ClampInt(x, 0, fg.Dx()-1), ClampInt(y, 0, fg.Dy()-1))
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// GaussianBlur is a cheap [1 2 1]/4 separable blur.
func (g1 FloatGrid) GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, g1.values)
		return g2
	}

	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			t := 2.0 * g1.Get(x, y)
			t += g1.Get(x-1, y)
			t += g1.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*g1.Get(0, y)+g1.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1, y)+g1.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// MinFilter replaces each value with the minimum over the
// (2r+1)x(2r+1) window around it (a grayscale erosion). Separable.
func (g1 *FloatGrid) MinFilter(r int) FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	T := g1.NewFromThis()
	g2 := g1.NewFromThis()

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m := math.MaxFloat64
			for i := -r; i <= r; i++ {
				m = math.Min(m, g1.GetClamped(x+i, y))
			}
			T.Set(x, y, m)
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m := math.MaxFloat64
			for i := -r; i <= r; i++ {
				m = math.Min(m, T.GetClamped(x, y+i))
			}
			g2.Set(x, y, m)
		}
	}

	return g2
}

// Percentile returns the value at the given fraction [0,1] of the sorted values.
func (I *FloatGrid) Percentile(prct float64) float64 {
	if len(I.values) == 0 {
		return 0.0
	}
	vI := make([]float64, len(I.values))
	copy(vI, I.values)
	sort.Float64s(vI)

	i := int(prct * float64(len(vI)))
	return vI[ClampInt(i, 0, len(vI)-1)]
}

func (fg *FloatGrid) minMax() (float64, float64) {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, v := range fg.values {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return min, max
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.minMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := fg.minMax()
	if max <= min {
		max = min + 1.0
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			gray := GammaExpand_F64((fg.Get(x, y) - min) / (max - min))
			v := uint16(gray * 65535.0)
			img.Set(x, y, color.RGBA64{v, v, v, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
