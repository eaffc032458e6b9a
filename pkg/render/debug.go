package render

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

// DebugOverlay composites an update the way a viewer would: the
// background stretched to cover the image, the ROI scaled into place
// over it, and the ROI outlined and labelled. The result has maxEdge
// pixels along its long edge.
func DebugOverlay(u *Update, maxEdge int) image.Image {
	w, h := fimage.FitLongEdge(u.FullSize.X, u.FullSize.Y, maxEdge)
	s := float64(w) / float64(u.FullSize.X)

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(canvas, canvas.Bounds(), u.Background, u.Background.Bounds(), draw.Src, nil)

	dc := gg.NewContextForRGBA(canvas)
	if u.ROI != nil {
		r := u.ROIRect
		dr := image.Rect(int(float64(r.Min.X)*s), int(float64(r.Min.Y)*s), int(float64(r.Max.X)*s), int(float64(r.Max.Y)*s))
		draw.BiLinear.Scale(canvas, dr, u.ROI, u.ROI.Bounds(), draw.Src, nil)

		dc.SetRGB(1, 0, 0)
		dc.SetLineWidth(2)
		dc.DrawRectangle(float64(dr.Min.X), float64(dr.Min.Y), float64(dr.Dx()), float64(dr.Dy()))
		dc.Stroke()

		label := fmt.Sprintf("roi %dx%d", r.Dx(), r.Dy())
		if u.Downscaled() {
			label += fmt.Sprintf(" @%dx%d", u.ROI.Bounds().Dx(), u.ROI.Bounds().Dy())
		}
		dc.DrawString(label, float64(dr.Min.X)+4, float64(dr.Min.Y)+16)
	}

	dc.SetRGB(1, 1, 0)
	dc.DrawString(fmt.Sprintf("#%d %s %s", u.Generation, u.Elapsed, u.Stats), 4, float64(h)-6)
	return dc.Image()
}

// WriteDebugOverlay saves DebugOverlay as a PNG.
func WriteDebugOverlay(u *Update, maxEdge int, filename string) error {
	dc := gg.NewContextForImage(DebugOverlay(u, maxEdge))
	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("debug overlay '%s': %w", filename, err)
	}
	return nil
}
