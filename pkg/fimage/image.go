// Package fimage holds the floating point RGB buffer that the whole
// pipeline passes around.
package fimage

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/ecolor"
)

// ErrShape is returned when a buffer doesn't look like an RGB image
// (wrong channel count, wrong length, no pixels).
var ErrShape = errors.New("bad image shape")

// Image is a grid of RGB triples, normalized floats. Values are in
// [0,1] when they come out of a decoder; intermediate stages can push
// them outside that range. Implements image.Image and hdr.Image.
type Image struct {
	Pix    []float64       // R,G,B,R,G,B,... row major
	Stride int             // Pix elements per row (3 * width)
	Rect   image.Rectangle // Min is always (0,0)
}

// Implement image.Image
func (m *Image) ColorModel() color.Model { return hdrcolor.RGBModel }
func (m *Image) Bounds() image.Rectangle { return m.Rect }
func (m *Image) At(x, y int) color.Color { return m.HDRAt(x, y) }

// Implement hdr.Image
func (m *Image) HDRAt(x, y int) hdrcolor.Color {
	r, g, b := m.RGB(x, y)
	return hdrcolor.RGB{R: r, G: g, B: b}
}
func (m *Image) Size() int { return m.Rect.Dx() * m.Rect.Dy() }

func (m *Image) W() int { return m.Rect.Dx() }
func (m *Image) H() int { return m.Rect.Dy() }

func (m *Image) PixOffset(x, y int) int { return y*m.Stride + x*3 }

func (m *Image) RGB(x, y int) (float64, float64, float64) {
	i := m.PixOffset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

func (m *Image) SetRGB(x, y int, r, g, b float64) {
	i := m.PixOffset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

func (m *Image) String() string {
	return fmt.Sprintf("fimage[%dx%d]", m.W(), m.H())
}

// New allocates a black image.
func New(w, h int) *Image {
	return &Image{
		Pix:    make([]float64, w*h*3),
		Stride: w * 3,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// FromSlice wraps a flat, interleaved buffer of `channels` values per
// pixel. Anything other than 3 channels is a contract violation; we
// never guess how to reinterpret it.
func FromSlice(w, h, channels int, pix []float64) (*Image, error) {
	if channels != 3 {
		return nil, fmt.Errorf("%w: want 3 channels per pixel, got %d", ErrShape, channels)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrShape, w, h)
	}
	if len(pix) != w*h*channels {
		return nil, fmt.Errorf("%w: %dx%dx%d needs %d values, got %d", ErrShape, w, h, channels, w*h*channels, len(pix))
	}
	return &Image{Pix: pix, Stride: w * 3, Rect: image.Rect(0, 0, w, h)}, nil
}

// Validate checks the buffer is internally consistent.
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil image", ErrShape)
	}
	if m.Rect.Min != (image.Point{}) || m.W() <= 0 || m.H() <= 0 {
		return fmt.Errorf("%w: bad bounds %v", ErrShape, m.Rect)
	}
	if m.Stride != m.W()*3 {
		return fmt.Errorf("%w: stride %d is not 3*%d; buffer is not RGB", ErrShape, m.Stride, m.W())
	}
	if len(m.Pix) != m.Stride*m.H() {
		return fmt.Errorf("%w: %d values for %dx%d RGB", ErrShape, len(m.Pix), m.W(), m.H())
	}
	return nil
}

func (m *Image) Clone() *Image {
	m2 := &Image{Pix: make([]float64, len(m.Pix)), Stride: m.Stride, Rect: m.Rect}
	copy(m2.Pix, m.Pix)
	return m2
}

// FromImage converts any image.Image into [0,1] floats. 8-bit RGBA
// images map v/255 exactly, so they round-trip through ToRGBA.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	m := New(b.Dx(), b.Dy())

	if rgba, ok := src.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := rgba.PixOffset(x+b.Min.X, y+b.Min.Y)
				m.SetRGB(x, y, ecolor.FromU8(rgba.Pix[i]), ecolor.FromU8(rgba.Pix[i+1]), ecolor.FromU8(rgba.Pix[i+2]))
			}
		}
		return m
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bb, _ := src.At(x+b.Min.X, y+b.Min.Y).RGBA()
			m.SetRGB(x, y, float64(r)/float64(0xFFFF), float64(g)/float64(0xFFFF), float64(bb)/float64(0xFFFF))
		}
	}
	return m
}

// ToRGBA converts to an 8-bit display image (clip, *255, truncate).
func (m *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(m.Rect)
	for y := 0; y < m.H(); y++ {
		for x := 0; x < m.W(); x++ {
			r, g, b := m.RGB(x, y)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = ecolor.ToU8(r)
			out.Pix[i+1] = ecolor.ToU8(g)
			out.Pix[i+2] = ecolor.ToU8(b)
			out.Pix[i+3] = 0xFF
		}
	}
	return out
}

// ToRGBA64 is the 16-bit version of ToRGBA; the resamplers work on this.
func (m *Image) ToRGBA64() *image.RGBA64 {
	out := image.NewRGBA64(m.Rect)
	to16 := func(v float64) uint16 {
		if v <= 0.0 {
			return 0
		} else if v >= 1.0 {
			return 0xFFFF
		}
		return uint16(v*float64(0xFFFF) + 0.5)
	}
	for y := 0; y < m.H(); y++ {
		for x := 0; x < m.W(); x++ {
			r, g, b := m.RGB(x, y)
			out.SetRGBA64(x, y, color.RGBA64{to16(r), to16(g), to16(b), 0xFFFF})
		}
	}
	return out
}

// Crop copies out the part of the image inside r (clipped to the
// image bounds).
func (m *Image) Crop(r image.Rectangle) *Image {
	r = r.Intersect(m.Rect)
	out := New(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		src := m.PixOffset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], m.Pix[src:src+out.Stride])
	}
	return out
}

// Luminance returns the per-pixel BT.709 luminance, unclipped.
func (m *Image) Luminance() []float64 {
	lum := make([]float64, m.W()*m.H())
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+1 {
		lum[j] = ecolor.Luminance(m.Pix[i], m.Pix[i+1], m.Pix[i+2])
	}
	return lum
}

// Bin2x2 returns a half-width, half-height image, each pixel the
// average of a 2x2 block. Used for half-size decodes.
func (m *Image) Bin2x2() *Image {
	w, h := m.W()/2, m.H()/2
	if w == 0 || h == 0 {
		return m.Clone()
	}
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				p := m.Pix[m.PixOffset(2*x, 2*y)+c]
				p += m.Pix[m.PixOffset(2*x+1, 2*y)+c]
				p += m.Pix[m.PixOffset(2*x, 2*y+1)+c]
				p += m.Pix[m.PixOffset(2*x+1, 2*y+1)+c]
				out.Pix[out.PixOffset(x, y)+c] = p / 4.0
			}
		}
	}
	return out
}
