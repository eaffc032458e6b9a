package tonemap

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

// The auto-exposure policy. These are empirical numbers, kept exactly
// as they were tuned; they are policy, not physics.
const (
	autoBaseBoost     = 1.25 // most cameras underexpose RAW ~1 stop to protect highlights
	autoMidBoost      = 1.0
	autoHighKeyBoost  = 0.5
	autoMidThreshold  = 0.3
	autoHighThreshold = 0.6
	autoBlacks        = 0.08
	autoWhites        = 0.92
	autoSaturation    = 1.10
)

// MeanLuminance is the mean BT.709 luminance over all pixels.
func MeanLuminance(img *fimage.Image) (float64, error) {
	if err := img.Validate(); err != nil {
		return 0, fmt.Errorf("mean luminance: %w", err)
	}
	return stat.Mean(img.Luminance(), nil), nil
}

// AutoExposure suggests starting parameters for an image that has no
// saved settings. It only looks at the mean luminance: bright images
// get less of a boost. Levels are pulled in to 0.08/0.92 for a fixed
// bit of punch. Fields not decided here are neutral.
func AutoExposure(img *fimage.Image) (Params, error) {
	avgLum, err := MeanLuminance(img)
	if err != nil {
		return Params{}, fmt.Errorf("auto exposure: %w", err)
	}

	p := Neutral()
	p.Exposure = ExposureBoostFor(avgLum)
	p.Blacks = autoBlacks
	p.Whites = autoWhites
	p.Highlights = 0.0
	p.Shadows = 0.0
	p.Saturation = autoSaturation

	return p, nil
}

// ExposureBoostFor maps a mean luminance onto the exposure boost, in stops.
func ExposureBoostFor(meanLum float64) float64 {
	if meanLum > autoHighThreshold {
		return autoHighKeyBoost
	} else if meanLum > autoMidThreshold {
		return autoMidBoost
	}
	return autoBaseBoost
}
