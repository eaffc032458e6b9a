package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mdouchement/hdr/codec/rgbe"
	"golang.org/x/image/tiff"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

type Format string

const (
	JPEG Format = "jpeg"
	TIFF Format = "tiff"
	PNG  Format = "png"
	HEIF Format = "heif"
)

// ErrNoEncoder means HEIF was asked for, but no external encoder is
// installed.
var ErrNoEncoder = errors.New("no HEIF encoder found on PATH")

// The libheif command line encoder.
const heifEncoder = "heif-enc"

// Overridden by tests.
var lookPath = exec.LookPath

// ParseFormat accepts the names the export dialog uses, in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "tiff", "tif":
		return TIFF, nil
	case "png":
		return PNG, nil
	case "heif", "heic":
		return HEIF, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, s)
}

func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

func (f Format) Ext() string {
	switch f {
	case JPEG:
		return ".jpg"
	case TIFF:
		return ".tif"
	}
	return "." + string(f)
}

// SaveImage writes img to path. quality is used by JPEG and HEIF, and
// is clamped to [1,100].
func SaveImage(img image.Image, path string, f Format, quality int) error {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	if f == HEIF {
		return saveHEIF(img, path, quality)
	}

	var encode func(io.Writer) error
	switch f {
	case JPEG:
		encode = func(w io.Writer) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: quality}) }
	case TIFF:
		encode = func(w io.Writer) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	case PNG:
		encode = func(w io.Writer) error { return png.Encode(w, img) }
	default:
		return fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, f)
	}

	writer, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", path, err)
	}
	if err := encode(writer); err != nil {
		writer.Close()
		return fmt.Errorf("encoding %s '%s': %w", f, path, err)
	}
	return writer.Close()
}

// WritePNG is for debug output.
func WritePNG(img image.Image, path string) error {
	return SaveImage(img, path, PNG, 100)
}

func findHEIFEncoder() (string, error) {
	p, err := lookPath(heifEncoder)
	if err != nil {
		return "", ErrNoEncoder
	}
	return p, nil
}

// saveHEIF goes via a temporary PNG, which the external encoder reads.
func saveHEIF(img image.Image, path string, quality int) error {
	encoder, err := findHEIFEncoder()
	if err != nil {
		return fmt.Errorf("heif '%s': %w", path, err)
	}

	tmp, err := os.CreateTemp("", "rawroom-*.png")
	if err != nil {
		return fmt.Errorf("heif tempfile: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	if err := WritePNG(img, tmpName); err != nil {
		return err
	}

	cmd := exec.Command(encoder, "-q", fmt.Sprintf("%d", quality), "-o", path, tmpName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("heif encode '%s': %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SaveHDR writes the float buffer, unclipped, as a Radiance RGBE file.
func SaveHDR(img *fimage.Image, path string) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("save hdr '%s': %w", path, err)
	}

	writer, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", path, err)
	}
	if err := rgbe.Encode(writer, img); err != nil {
		writer.Close()
		return fmt.Errorf("encoding RGBE '%s': %w", path, err)
	}
	return writer.Close()
}
