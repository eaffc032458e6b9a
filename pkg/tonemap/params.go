package tonemap

import (
	"fmt"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/geometry"
)

// Params is the full set of knobs the editor exposes. The tone
// fields drive Apply; the detail fields are consumed by the detail
// filters after the 8-bit conversion; Geometry is a separate stage
// after everything else.
type Params struct {
	Exposure   float64 `yaml:"exposure"`   // stops; 2^Exposure multiplier
	Contrast   float64 `yaml:"contrast"`   // multiplier about 0.5 gray
	Blacks     float64 `yaml:"blacks"`     // levels black point
	Whites     float64 `yaml:"whites"`     // levels white point
	Shadows    float64 `yaml:"shadows"`    // tone EQ lift, [-1,1]
	Highlights float64 `yaml:"highlights"` // tone EQ recovery, [-1,1]
	Saturation float64 `yaml:"saturation"` // 0 = gray, 1 = identity

	SharpenValue   float64 `yaml:"sharpen_value"` // >0 enables sharpening
	SharpenRadius  float64 `yaml:"sharpen_radius"`
	SharpenPercent float64 `yaml:"sharpen_percent"`
	DeNoise        float64 `yaml:"de_noise"`
	DenoiseMethod  string  `yaml:"denoise_method"`
	DeHaze         float64 `yaml:"de_haze"`

	Geometry geometry.Geometry `yaml:"geometry"`
}

// Neutral returns the identity parameters: running the pipeline with
// these gives back the input (up to float rounding).
func Neutral() Params {
	return Params{
		Exposure:      0.0,
		Contrast:      1.0,
		Blacks:        0.0,
		Whites:        1.0,
		Shadows:       0.0,
		Highlights:    0.0,
		Saturation:    1.0,
		SharpenRadius: 0.5,
	}
}

func (p Params) IsNeutralTone() bool {
	return p.Exposure == 0 && p.Contrast == 1 && p.Blacks == 0 && p.Whites == 1 &&
		p.Shadows == 0 && p.Highlights == 0 && p.Saturation == 1
}

func (p Params) String() string {
	return fmt.Sprintf("ev%+.2f con%.2f lv[%.2f,%.2f] sh%+.2f hi%+.2f sat%.2f sharp%.0f/%.1f/%.0f%% dn%.1f(%s) dh%.1f %s",
		p.Exposure, p.Contrast, p.Blacks, p.Whites, p.Shadows, p.Highlights, p.Saturation,
		p.SharpenValue, p.SharpenRadius, p.SharpenPercent, p.DeNoise, p.DenoiseMethod, p.DeHaze, p.Geometry)
}
