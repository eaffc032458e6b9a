package fimage

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw" // replace by "image/draw" at some point
)

// A Resampler names the interpolation used when resizing.
type Resampler string

const (
	Bilinear Resampler = "bilinear" // golang.org/x/image/draw
	Lanczos  Resampler = "lanczos"  // github.com/nfnt/resize
)

func (rs Resampler) Validate() error {
	switch rs {
	case Bilinear, Lanczos, "":
		return nil
	}
	return fmt.Errorf("no resampler named '%s'", rs)
}

// ResizeImage scales any image to w x h. The result is always a fresh
// image; src is not touched.
func ResizeImage(src image.Image, w, h int, rs Resampler) image.Image {
	switch rs {
	case Lanczos:
		return resize.Resize(uint(w), uint(h), src, resize.Lanczos3)
	default:
		dst := image.NewRGBA64(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		return dst
	}
}

// Resize scales the float image to w x h. Like the preview path it
// derives from, this goes via 16 bits per channel, so values outside
// [0,1] are clipped; callers only resize normalized (pre tone map)
// buffers.
func (m *Image) Resize(w, h int, rs Resampler) *Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == m.W() && h == m.H() {
		return m.Clone()
	}
	return FromImage(ResizeImage(m.ToRGBA64(), w, h, rs))
}

// FitLongEdge returns the size that scales (w,h) so its longer edge is `edge`.
func FitLongEdge(w, h, edge int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if long == 0 {
		return 0, 0
	}
	scale := float64(edge) / float64(long)
	return int(float64(w) * scale), int(float64(h) * scale)
}
