// Package geometry is the last stage of a develop: flips, a free
// rotation and a normalized crop, applied to the 8-bit display image.
package geometry

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
)

// Rect is a crop in normalized coords: {left, top, right, bottom}, each
// in [0,1] as a fraction of the image width or height. It serializes
// as a plain four element list.
type Rect [4]float64

func (r Rect) Left() float64   { return r[0] }
func (r Rect) Top() float64    { return r[1] }
func (r Rect) Right() float64  { return r[2] }
func (r Rect) Bottom() float64 { return r[3] }

// Clamped clips all four edges into [0,1], and swaps any that are the
// wrong way round.
func (r Rect) Clamped() Rect {
	out := Rect{emath.Clamp01(r[0]), emath.Clamp01(r[1]), emath.Clamp01(r[2]), emath.Clamp01(r[3])}
	if out[0] > out[2] {
		out[0], out[2] = out[2], out[0]
	}
	if out[1] > out[3] {
		out[1], out[3] = out[3], out[1]
	}
	return out
}

// Pixels maps the crop onto an image of the given size.
func (r Rect) Pixels(w, h int) image.Rectangle {
	c := r.Clamped()
	return image.Rect(
		int(math.Round(c[0]*float64(w))),
		int(math.Round(c[1]*float64(h))),
		int(math.Round(c[2]*float64(w))),
		int(math.Round(c[3]*float64(h))),
	)
}

func (r Rect) String() string {
	return fmt.Sprintf("crop[%.3f,%.3f - %.3f,%.3f]", r[0], r[1], r[2], r[3])
}

// Geometry is the set of geometric edits. The zero value is the identity.
type Geometry struct {
	Rotation float64 `yaml:"rotation"` // degrees, positive is counter-clockwise
	FlipH    bool    `yaml:"flip_h"`
	FlipV    bool    `yaml:"flip_v"`
	Crop     *Rect   `yaml:"crop,omitempty"` // nil means no crop
}

func (g Geometry) IsIdentity() bool {
	return g.Rotation == 0 && !g.FlipH && !g.FlipV && g.Crop == nil
}

func (g Geometry) String() string {
	str := fmt.Sprintf("rot%+.1f", g.Rotation)
	if g.FlipH {
		str += " flipH"
	}
	if g.FlipV {
		str += " flipV"
	}
	if g.Crop != nil {
		str += " " + g.Crop.String()
	}
	return str
}

// WithFlip toggles one of the flips, mirroring the crop so that it
// keeps framing the same part of the picture.
func (g Geometry) WithFlip(horizontal bool) Geometry {
	if horizontal {
		g.FlipH = !g.FlipH
	} else {
		g.FlipV = !g.FlipV
	}
	if g.Crop != nil {
		c := *g.Crop
		if horizontal {
			c = Rect{1.0 - c[2], c[1], 1.0 - c[0], c[3]}
		} else {
			c = Rect{c[0], 1.0 - c[3], c[2], 1.0 - c[1]}
		}
		g.Crop = &c
	}
	return g
}

// Apply runs flip, then rotate, then crop. The rotation keeps the
// canvas size; the corners it exposes are left black (see MaxSafeCrop).
// The input is never modified; an identity Geometry returns a copy.
func Apply(src *image.RGBA, g Geometry) *image.RGBA {
	img := cloneRGBA(src)

	if g.FlipH || g.FlipV {
		img = flip(img, g.FlipH, g.FlipV)
	}

	if math.Abs(g.Rotation) > 1e-9 {
		img = rotate(img, g.Rotation)
	}

	if g.Crop != nil {
		r := g.Crop.Pixels(img.Bounds().Dx(), img.Bounds().Dy())
		if r.Dx() > 0 && r.Dy() > 0 {
			img = cropRGBA(img, r)
		}
	}

	return img
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}

func cropRGBA(src *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out
}

func flip(src *image.RGBA, horiz, vert bool) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	out := image.NewRGBA(src.Bounds())
	for y := 0; y < h; y++ {
		sy := y
		if vert {
			sy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			sx := x
			if horiz {
				sx = w - 1 - x
			}
			si, di := src.PixOffset(sx, sy), out.PixOffset(x, y)
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return out
}

// rotate turns the image about its centre. y points down in image
// space, so a visually counter-clockwise turn is a negative angle for
// emath.Rotate.
func rotate(src *image.RGBA, deg float64) *image.RGBA {
	b := src.Bounds()
	cx, cy := float64(b.Dx())/2.0, float64(b.Dy())/2.0

	s2d := emath.RotateAbout(-deg, cx, cy)
	out := image.NewRGBA(b)
	draw.CatmullRom.Transform(out, f64.Aff3(s2d), src, b, draw.Src, nil)
	return out
}

// MaxSafeCrop is the largest centred crop, with the given aspect ratio
// (width/height; 0 keeps the image's own), that contains no pixels
// exposed by rotating a w x h image by deg degrees.
func MaxSafeCrop(w, h int, deg float64, aspect float64) Rect {
	if w <= 0 || h <= 0 {
		return Rect{0, 0, 1, 1}
	}
	fw, fh := float64(w), float64(h)
	if aspect <= 0 {
		aspect = fw / fh
	}

	theta := deg * math.Pi / 180.0
	c, s := math.Abs(math.Cos(theta)), math.Abs(math.Sin(theta))

	// A cw x ch box, cw = aspect*ch, fits inside the rotated frame if
	// its corners rotated back still land inside w x h.
	ch := math.Min(fw/(aspect*c+s), fh/(aspect*s+c))
	ch = math.Min(ch, fh)
	cw := aspect * ch
	if cw > fw {
		cw = fw
		ch = cw / aspect
	}

	mx, my := (fw-cw)/2.0/fw, (fh-ch)/2.0/fh
	return Rect{mx, my, 1.0 - mx, 1.0 - my}
}
