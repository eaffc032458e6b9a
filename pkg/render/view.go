package render

import (
	"math"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
)

// View is what the renderer needs to know about the widget showing the
// image. The renderer reads it once at the start of each render.
type View interface {
	ViewportSize() (w, h int)
	Transform() emath.Aff3 // image pixel coords -> viewport coords
	IsFitting() bool       // the view is in fit-to-window mode
}

// StaticView is a View that never changes.
type StaticView struct {
	W, H    int
	Xform   emath.Aff3
	Fitting bool
}

func (v StaticView) ViewportSize() (int, int) { return v.W, v.H }
func (v StaticView) Transform() emath.Aff3    { return v.Xform }
func (v StaticView) IsFitting() bool          { return v.Fitting }

// FitScale is the zoom at which the whole image just fits the viewport.
func FitScale(imgW, imgH, vpW, vpH int) float64 {
	if imgW <= 0 || imgH <= 0 || vpW <= 0 || vpH <= 0 {
		return 1.0
	}
	return math.Min(float64(vpW)/float64(imgW), float64(vpH)/float64(imgH))
}

// FitView shows the whole image, centred, in fit-to-window mode.
func FitView(imgW, imgH, vpW, vpH int) StaticView {
	s := FitScale(imgW, imgH, vpW, vpH)
	tx := (float64(vpW) - s*float64(imgW)) / 2.0
	ty := (float64(vpH) - s*float64(imgH)) / 2.0
	return StaticView{
		W:       vpW,
		H:       vpH,
		Xform:   emath.Identity().Translate(tx, ty).Scale(s, s),
		Fitting: true,
	}
}

// ZoomedView shows the image at the given zoom, with image point
// (cx,cy) in the middle of the viewport.
func ZoomedView(vpW, vpH int, zoom, cx, cy float64) StaticView {
	xform := emath.Identity().
		Translate(float64(vpW)/2.0, float64(vpH)/2.0).
		Scale(zoom, zoom).
		Translate(-cx, -cy)
	return StaticView{W: vpW, H: vpH, Xform: xform}
}
