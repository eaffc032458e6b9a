//go:build gocv

package detail

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Build with `-tags gocv` (and OpenCV installed) to get the native
// backend; it is then preferred over the pure Go one.

const gocvName = "gocv"

func init() {
	Register(gocvName, 20, newGocv)
}

type gocvBackend struct {
	edgeThreshold float64
}

func newGocv(cfg Config) Backend {
	thr := cfg.EdgeThreshold
	if thr <= 0 {
		thr = DefaultConfig().EdgeThreshold
	}
	return &gocvBackend{edgeThreshold: thr}
}

func (g *gocvBackend) Name() string { return gocvName }

// Available checks the OpenCV library actually loads and works, by
// making and closing a tiny Mat.
func (g *gocvBackend) Available() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	m := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer m.Close()
	return !m.Empty()
}

func toBGR(img *image.RGBA) (gocv.Mat, error) {
	b := img.Bounds()
	rgba := img
	if b.Min != (image.Point{}) || img.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(rgba.Pix[y*rgba.Stride:(y+1)*rgba.Stride], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	}

	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("gocv mat: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

func fromBGR(bgr gocv.Mat) (*image.RGBA, error) {
	rgbaMat := gocv.NewMat()
	defer rgbaMat.Close()
	gocv.CvtColor(bgr, &rgbaMat, gocv.ColorBGRToRGBA)

	img, err := rgbaMat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("gocv image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	return runGift(img), nil
}

// Sharpen is an unsharp mask, but only applied where Canny finds edges.
func (g *gocvBackend) Sharpen(img *image.RGBA, radius, percent float64) (*image.RGBA, error) {
	src, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(src, &blur, image.Point{}, radius, radius, gocv.BorderReflect101)

	amount := percent / 100.0
	sharp := gocv.NewMat()
	defer sharp.Close()
	gocv.AddWeighted(src, 1.0+amount, blur, -amount, 0, &sharp)

	base := gocv.NewMat()
	defer base.Close()
	gocv.BilateralFilter(src, &base, 5, 20, 2)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	edges := gocv.NewMat()
	defer edges.Close()
	t := float32(g.edgeThreshold * 255.0)
	gocv.Canny(gray, &edges, t, 3*t)

	ksize := 2*int(math.Ceil(radius)) + 1
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: ksize, Y: ksize})
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)

	sharp.CopyToWithMask(&base, edges)
	return fromBGR(base)
}

// TV de-noising isn't in the gocv bindings, so it falls through.
func (g *gocvBackend) Denoise(img *image.RGBA, strength float64, m Method) (*image.RGBA, error) {
	if m == TotalVariation {
		return nil, ErrNotSupported
	}

	src, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	switch m {
	case NLMeans:
		h := float32(strength)
		gocv.FastNlMeansDenoisingColoredWithParams(src, &dst, h, h, 7, 21)
	case Bilateral:
		sigma := 10.0 + 5.0*strength
		gocv.BilateralFilter(src, &dst, 9, sigma, sigma)
	default:
		return nil, ErrNotSupported
	}

	return fromBGR(dst)
}
