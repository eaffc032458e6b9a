// Package develop renders edits at full resolution, and exports them.
package develop

import (
	"fmt"
	"image"
	"log"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/geometry"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/sidecar"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

// Develop runs the whole chain over a full resolution image: tone map,
// dehaze, down to 8 bits, geometry, then the detail filters.
func Develop(img *fimage.Image, p tonemap.Params, filters *detail.Filters) (*image.RGBA, tonemap.Stats, error) {
	toned, stats, err := tonemap.Apply(img, p)
	if err != nil {
		return nil, stats, fmt.Errorf("develop: %w", err)
	}

	if p.DeHaze > 0 {
		if toned, _, err = detail.Dehaze(toned, p.DeHaze, nil); err != nil {
			return nil, stats, fmt.Errorf("develop: %w", err)
		}
	}

	out := toned.ToRGBA()
	if !p.Geometry.IsIdentity() {
		out = geometry.Apply(out, p.Geometry)
	}

	if p.SharpenValue > 0 {
		if out, err = filters.Sharpen(out, p.SharpenRadius, p.SharpenPercent); err != nil {
			return nil, stats, fmt.Errorf("develop: %w", err)
		}
	}
	if p.DeNoise > 0 {
		if out, err = filters.Denoise(out, p.DeNoise, p.DenoiseMethod); err != nil {
			return nil, stats, fmt.Errorf("develop: %w", err)
		}
	}
	return out, stats, nil
}

// SeedParams finds the starting parameters for an image: its saved
// settings if it has any, else an auto-exposure guess. The bool says
// which.
func SeedParams(path string, img *fimage.Image) (tonemap.Params, bool, error) {
	if s := sidecar.Load(path); s != nil {
		return s.ToneParams(), true, nil
	}

	p, err := tonemap.AutoExposure(img)
	if err != nil {
		return p, false, fmt.Errorf("seed '%s': %w", path, err)
	}
	log.Printf("%s: no saved settings, auto exposure %+.2f\n", path, p.Exposure)
	return p, false, nil
}
