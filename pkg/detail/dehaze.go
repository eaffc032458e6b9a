package detail

import (
	"fmt"
	"log"
	"math"
	"path/filepath"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

// Atmosphere is the estimated colour of the haze (the "atmospheric
// light"), one value per channel.
type Atmosphere [3]float64

func (a Atmosphere) String() string { return fmt.Sprintf("atm[%.3f,%.3f,%.3f]", a[0], a[1], a[2]) }

// Dehazer implements He et al. '09, "Single Image Haze Removal Using
// Dark Channel Prior", on float buffers, after tone mapping.
type Dehazer struct {
	// Algo parameters
	Strength        float64 // the de-haze control, 0..50; 0 is the identity
	PatchRadius     int     // the dark channel is the min over a (2r+1)^2 patch
	MinTransmission float64 // t0 in the paper; stops the division blowing up
	TopFraction     float64 // brightest fraction of the dark channel used to find the atmosphere

	// If set, use this atmosphere rather than estimating one. The render
	// pipeline estimates on the background image, and passes it along to
	// the ROI and tiles so they all agree.
	Atmosphere *Atmosphere

	DumpGrids bool   // whether to write greyscale image files for the intermediate grids
	DumpDir   string // where they go

	Input  *fimage.Image
	Output *fimage.Image

	// intermediate data, calculated in this order.
	dark         emath.FloatGrid // per-pixel min over channels, then min over the patch
	atm          Atmosphere
	transmission emath.FloatGrid // t(x), smoothed
}

func NewDefaultDehazer(img *fimage.Image, strength float64) *Dehazer {
	return &Dehazer{
		Strength:        strength,
		PatchRadius:     7,
		MinTransmission: 0.1,
		TopFraction:     0.001,
		Input:           img,
	}
}

// omega is how much haze to remove; the paper uses a fixed 0.95.
func (d *Dehazer) omega() float64 {
	return 0.95 * math.Min(1.0, d.Strength/50.0)
}

// Perform runs the whole thing, and returns the output and the
// atmosphere it used.
func (d *Dehazer) Perform() (*fimage.Image, Atmosphere, error) {
	if err := d.Input.Validate(); err != nil {
		return nil, Atmosphere{}, fmt.Errorf("dehaze: %w", err)
	}
	if d.Strength <= 0 {
		d.Output = d.Input.Clone()
		if d.Atmosphere != nil {
			return d.Output, *d.Atmosphere, nil
		}
		return d.Output, Atmosphere{1, 1, 1}, nil
	}

	d.CreateDarkChannel()
	d.EstimateAtmosphere()
	d.CalculateTransmission()
	d.Recover()

	return d.Output, d.atm, nil
}

func (d *Dehazer) MaybeDumpGrid(f emath.FloatGrid, comment, filename string) {
	if !d.DumpGrids {
		return
	}
	log.Printf("dehaze: %s %s\n", filename, f.Stats())
	if err := f.ToImg(comment, filepath.Join(d.DumpDir, filename)); err != nil {
		log.Printf("dehaze: dump %s: %v\n", filename, err)
	}
}

func (d *Dehazer) CreateDarkChannel() {
	w, h := d.Input.W(), d.Input.H()
	minRGB := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := d.Input.RGB(x, y)
			minRGB.Set(x, y, math.Min(r, math.Min(g, b)))
		}
	}
	d.dark = minRGB.MinFilter(d.PatchRadius)
	d.MaybeDumpGrid(d.dark, "001-dark-channel", "001-dark-channel.png")
}

// EstimateAtmosphere averages the colour of the pixels in the haziest
// (brightest dark channel) fraction of the image.
func (d *Dehazer) EstimateAtmosphere() {
	if d.Atmosphere != nil {
		d.atm = *d.Atmosphere
		return
	}

	thresh := d.dark.Percentile(1.0 - d.TopFraction)
	var sum Atmosphere
	n := 0
	for y := 0; y < d.dark.Dy(); y++ {
		for x := 0; x < d.dark.Dx(); x++ {
			if d.dark.Get(x, y) >= thresh {
				r, g, b := d.Input.RGB(x, y)
				sum[0], sum[1], sum[2] = sum[0]+r, sum[1]+g, sum[2]+b
				n++
			}
		}
	}
	for c := range sum {
		d.atm[c] = math.Max(sum[c]/float64(n), 1e-3)
	}
}

// CalculateTransmission is t = 1 - omega * darkchannel(I/A), then a
// couple of blur passes to soften the blockiness of the patch minimum.
func (d *Dehazer) CalculateTransmission() {
	w, h := d.Input.W(), d.Input.H()
	norm := emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := d.Input.RGB(x, y)
			norm.Set(x, y, math.Min(r/d.atm[0], math.Min(g/d.atm[1], b/d.atm[2])))
		}
	}
	darkNorm := norm.MinFilter(d.PatchRadius)

	t := darkNorm.NewFromThis()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t.Set(x, y, 1.0-d.omega()*darkNorm.Get(x, y))
		}
	}
	for i := 0; i < 3; i++ {
		t = t.GaussianBlur()
	}

	d.transmission = t
	d.MaybeDumpGrid(d.transmission, "002-transmission", "002-transmission.png")
}

// Recover solves the haze model for the scene radiance, and clips.
func (d *Dehazer) Recover() {
	out := fimage.New(d.Input.W(), d.Input.H())
	for y := 0; y < out.H(); y++ {
		for x := 0; x < out.W(); x++ {
			t := math.Max(d.transmission.Get(x, y), d.MinTransmission)
			i := d.Input.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				j := (d.Input.Pix[i+c]-d.atm[c])/t + d.atm[c]
				out.Pix[i+c] = emath.Clamp01(j)
			}
		}
	}
	d.Output = out
}

// Dehaze is the one-call version. atm may be nil, to estimate it.
func Dehaze(img *fimage.Image, strength float64, atm *Atmosphere) (*fimage.Image, Atmosphere, error) {
	d := NewDefaultDehazer(img, strength)
	d.Atmosphere = atm
	return d.Perform()
}
