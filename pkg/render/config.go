package render

import (
	"fmt"
	"runtime"
	"time"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

// Config holds the performance knobs of the preview renderer. The best
// values depend on the machine; the defaults suit a typical laptop.
type Config struct {
	BackgroundEdgeFit    int              `yaml:"background_edge_fit"`    // long edge of the whole-image proxy
	BackgroundEdgeZoomed int              `yaml:"background_edge_zoomed"` // ... when an ROI is also being rendered
	ROIPixelBudget       int              `yaml:"roi_pixel_budget"`       // bigger ROIs get downscaled to this many pixels
	MinROIEdge           int              `yaml:"min_roi_edge"`           // ROIs this thin or thinner are skipped
	ZoomEpsilon          float64          `yaml:"zoom_epsilon"`           // fraction past fit-to-window that counts as zoomed
	Tiled                bool             `yaml:"tiled"`                  // split the ROI into tiles, and run them in parallel
	TileSize             int              `yaml:"tile_size"`
	TileBorder           int              `yaml:"tile_border"` // context pixels around each tile, for the filters
	Workers              int              `yaml:"workers"`
	Cadence              time.Duration    `yaml:"cadence"` // minimum time between renders
	Resampler            fimage.Resampler `yaml:"resampler"`

	Verbosity int `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		BackgroundEdgeFit:    1500,
		BackgroundEdgeZoomed: 1000,
		ROIPixelBudget:       1500000,
		MinROIEdge:           10,
		ZoomEpsilon:          0.01,
		Tiled:                false,
		TileSize:             256,
		TileBorder:           32,
		Workers:              runtime.NumCPU(),
		Cadence:              33 * time.Millisecond,
		Resampler:            fimage.Bilinear,
	}
}

func (c Config) Validate() error {
	if c.BackgroundEdgeFit <= 0 || c.BackgroundEdgeZoomed <= 0 {
		return fmt.Errorf("render config: background edges must be > 0 (%d, %d)", c.BackgroundEdgeFit, c.BackgroundEdgeZoomed)
	}
	if c.ROIPixelBudget <= 0 {
		return fmt.Errorf("render config: roi_pixel_budget must be > 0, not %d", c.ROIPixelBudget)
	}
	if c.Tiled && (c.TileSize <= 0 || c.TileBorder < 0) {
		return fmt.Errorf("render config: bad tiling %d+%d", c.TileSize, c.TileBorder)
	}
	if c.Cadence < 0 {
		return fmt.Errorf("render config: negative cadence %s", c.Cadence)
	}
	return c.Resampler.Validate()
}

func (c Config) String() string {
	str := fmt.Sprintf("bg %d/%dpx, roi budget %d, cadence %s, %s", c.BackgroundEdgeFit, c.BackgroundEdgeZoomed,
		c.ROIPixelBudget, c.Cadence, c.Resampler)
	if c.Tiled {
		str += fmt.Sprintf(", tiles %d+%d x%d workers", c.TileSize, c.TileBorder, c.Workers)
	}
	return str
}
