// Package imageio reads images into float buffers, and writes the
// developed results back out.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/tiff"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// A Decoder produces the normalized linear buffer that everything else
// works on. Proper RAW decoding lives behind this; FileDecoder handles
// already developed files.
type Decoder interface {
	OpenRaw(path string, halfSize bool) (*fimage.Image, error)
}

// FileDecoder reads TIFF, PNG and JPEG files, turning them upright per
// their EXIF orientation tag.
type FileDecoder struct {
	IgnoreOrientation bool
}

func (d FileDecoder) OpenRaw(path string, halfSize bool) (*fimage.Image, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	reader, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open+r img '%s': %w", path, err)
	}
	defer reader.Close()

	src, err := decode(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding '%s': %w", path, err)
	}

	img := fimage.FromImage(src)
	if !d.IgnoreOrientation {
		img = Orient(img, readOrientation(path))
	}
	if halfSize {
		img = img.Bin2x2()
	}
	return img, nil
}

func decoderFor(path string) (func(io.Reader) (image.Image, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return tiff.Decode, nil
	case ".png":
		return png.Decode, nil
	case ".jpg", ".jpeg":
		return jpeg.Decode, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, path)
}

// readOrientation returns the EXIF orientation (1-8), or 1 if the file
// doesn't say.
func readOrientation(path string) int {
	reader, err := os.Open(path)
	if err != nil {
		return 1
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return 1
	}
	tag, err := ex.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// Orient applies the transform that makes an image with the given EXIF
// orientation display upright. Orientations 5-8 swap width and height.
func Orient(img *fimage.Image, orientation int) *fimage.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	w, h := img.W(), img.H()
	outW, outH := w, h
	if orientation >= 5 {
		outW, outH = h, w
	}
	out := fimage.New(outW, outH)

	// For each source pixel, where it lands.
	dest := func(x, y int) (int, int) {
		switch orientation {
		case 2:
			return w - 1 - x, y
		case 3:
			return w - 1 - x, h - 1 - y
		case 4:
			return x, h - 1 - y
		case 5:
			return y, x
		case 6:
			return h - 1 - y, x
		case 7:
			return h - 1 - y, w - 1 - x
		default: // 8
			return y, w - 1 - x
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := dest(x, y)
			r, g, b := img.RGB(x, y)
			out.SetRGB(dx, dy, r, g, b)
		}
	}
	return out
}
