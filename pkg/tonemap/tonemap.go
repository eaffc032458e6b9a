// Package tonemap is the deterministic per-pixel transform chain
// (exposure -> contrast -> levels -> tone EQ -> saturation) plus the
// auto-exposure heuristic that seeds it.
package tonemap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/ecolor"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/emath"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

// LevelsEpsilon is substituted for (whites-blacks) when the two points
// are closer than this, so the levels stage never divides by ~zero.
const LevelsEpsilon = 1e-6

// Stats summarise one Apply call, for UI feedback only.
type Stats struct {
	PctShadowsClipped    float64 // % of channel values < 0 before the final clamp
	PctHighlightsClipped float64 // % of channel values >= 1 before the final clamp
	Mean                 float64 // mean of the clamped output, over all channel values
}

func (s Stats) String() string {
	return fmt.Sprintf("clip[lo %.2f%%, hi %.2f%%] mean %.4f", s.PctShadowsClipped, s.PctHighlightsClipped, s.Mean)
}

// A stage mutates the working buffer in place. The order of the
// stages list is the order of the algorithm and must not change; each
// stage sees the previous stage's output.
type stage struct {
	name string
	skip func(Params) bool
	run  func(*fimage.Image, Params)
}

var stages = []stage{
	{"exposure", func(p Params) bool { return p.Exposure == 0.0 }, applyExposure},
	{"contrast", func(p Params) bool { return p.Contrast == 1.0 }, applyContrast},
	{"levels", func(p Params) bool { return p.Blacks == 0.0 && p.Whites == 1.0 }, applyLevels},
	{"toneeq", func(p Params) bool { return p.Shadows == 0.0 && p.Highlights == 0.0 }, applyToneEQ},
	{"saturation", func(p Params) bool { return p.Saturation == 1.0 }, applySaturation},
}

// Apply runs the tone map over img and returns a new buffer, clamped
// to [0,1], with the clipping stats. img is not modified.
func Apply(img *fimage.Image, p Params) (*fimage.Image, Stats, error) {
	if err := img.Validate(); err != nil {
		return nil, Stats{}, fmt.Errorf("tonemap: %w", err)
	}

	out := img.Clone()
	for _, s := range stages {
		if s.skip(p) {
			continue
		}
		s.run(out, p)
	}

	return out, clampAndCollectStats(out), nil
}

func applyExposure(m *fimage.Image, p Params) {
	mult := math.Pow(2.0, p.Exposure)
	for i := range m.Pix {
		m.Pix[i] *= mult
	}
}

func applyContrast(m *fimage.Image, p Params) {
	for i := range m.Pix {
		m.Pix[i] = (m.Pix[i]-0.5)*p.Contrast + 0.5
	}
}

func applyLevels(m *fimage.Image, p Params) {
	denom := p.Whites - p.Blacks
	if math.Abs(denom) < LevelsEpsilon {
		denom = LevelsEpsilon
	}
	for i := range m.Pix {
		m.Pix[i] = (m.Pix[i] - p.Blacks) / denom
	}
}

// Both halves of the tone EQ use the same luminance mask, computed
// once from the buffer as it enters this stage.
func applyToneEQ(m *fimage.Image, p Params) {
	for i := 0; i < len(m.Pix); i += 3 {
		lum := emath.Clamp01(ecolor.Luminance(m.Pix[i], m.Pix[i+1], m.Pix[i+2]))

		if p.Shadows != 0.0 {
			sMask := (1.0 - lum) * (1.0 - lum)
			for c := i; c < i+3; c++ {
				m.Pix[c] += p.Shadows * sMask * m.Pix[c]
			}
		}

		if p.Highlights != 0.0 {
			hMask := lum * lum
			for c := i; c < i+3; c++ {
				m.Pix[c] += p.Highlights * hMask * (1.0 - m.Pix[c])
			}
		}
	}
}

func applySaturation(m *fimage.Image, p Params) {
	for i := 0; i < len(m.Pix); i += 3 {
		lum := ecolor.Luminance(m.Pix[i], m.Pix[i+1], m.Pix[i+2])
		for c := i; c < i+3; c++ {
			m.Pix[c] = lum + (m.Pix[c]-lum)*p.Saturation
		}
	}
}

// THIS IS THE ONLY PLACE WE DO CLIPPING IN THE TONE MAP
func clampAndCollectStats(m *fimage.Image) Stats {
	nLow, nHigh := 0, 0
	for i, v := range m.Pix {
		switch {
		case v < 0.0:
			nLow++
			m.Pix[i] = 0.0
		case v >= 1.0:
			// Full white counts as clipped, so a pushed mid gray that
			// lands exactly on 1.0 is reported.
			nHigh++
			m.Pix[i] = 1.0
		case math.IsNaN(v):
			m.Pix[i] = 0.0
		}
	}

	total := float64(len(m.Pix))
	return Stats{
		PctShadowsClipped:    float64(nLow) / total * 100.0,
		PctHighlightsClipped: float64(nHigh) / total * 100.0,
		Mean:                 stat.Mean(m.Pix, nil),
	}
}
