package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// ExtractThumbnail returns the JPEG thumbnail embedded in the file's
// EXIF data, or failing that, a half size decode via d. It returns nil
// if neither works; the failure is logged.
func ExtractThumbnail(path string, d Decoder) image.Image {
	if thumb, err := embeddedThumbnail(path); err == nil {
		return thumb
	}

	if d == nil {
		d = FileDecoder{}
	}
	img, err := d.OpenRaw(path, true)
	if err != nil {
		log.Printf("thumbnail '%s': %v\n", path, err)
		return nil
	}
	return img.ToRGBA()
}

func embeddedThumbnail(path string) (image.Image, error) {
	reader, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open+r exif '%s': %w", path, err)
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("exif parsing '%s': %w", path, err)
	}
	b, err := ex.JpegThumbnail()
	if err != nil {
		return nil, fmt.Errorf("exif thumbnail '%s': %w", path, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("thumbnail decode '%s': %w", path, err)
	}
	return img, nil
}
