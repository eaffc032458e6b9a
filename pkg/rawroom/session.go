package rawroom

import (
	"fmt"
	"log"
	"sync"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/develop"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/imageio"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/render"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/sidecar"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

// A Session is the editor's state for the image being worked on. Every
// change of parameters re-renders the preview and (after a pause) is
// saved to the image's sidecar.
type Session struct {
	cfg      Config
	decoder  imageio.Decoder
	filters  *detail.Filters
	pipeline *render.Pipeline
	saver    *sidecar.AutoSaver

	mu     sync.Mutex
	path   string
	params tonemap.Params
	rating int
}

func NewSession(cfg Config, d imageio.Decoder) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		d = imageio.FileDecoder{}
	}

	filters := cfg.Filters()
	p, err := cfg.NewPipeline(filters)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		decoder:  d,
		filters:  filters,
		pipeline: p,
		saver:    sidecar.NewAutoSaver(cfg.AutoSaveDelay),
		params:   tonemap.Neutral(),
	}, nil
}

// Open loads an image, with its saved settings or an auto-exposure
// guess, and asks for a preview. Saves pending for the previous image
// are written first.
func (s *Session) Open(path string) error {
	if err := s.saver.Flush(); err != nil {
		log.Printf("session: %v\n", err)
	}

	img, err := s.decoder.OpenRaw(path, false)
	if err != nil {
		return fmt.Errorf("session open: %w", err)
	}
	params, _, err := develop.SeedParams(path, img)
	if err != nil {
		return fmt.Errorf("session open: %w", err)
	}

	s.mu.Lock()
	s.path = path
	s.params = params
	s.rating = sidecar.Load(path).RatingOr0()
	s.mu.Unlock()

	s.pipeline.SetImage(img)
	s.pipeline.SetParams(params)
	s.pipeline.RequestUpdate()

	if s.cfg.Verbosity > 0 {
		log.Printf("session: opened %s (%dx%d), %s\n", path, img.W(), img.H(), params)
	}
	return nil
}

func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) Params() tonemap.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) Rating() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rating
}

// SetParams is called for every slider movement.
func (s *Session) SetParams(p tonemap.Params) {
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()

	s.pipeline.SetParams(p)
	s.pipeline.RequestUpdate()
	s.scheduleSave()
}

func (s *Session) SetRating(r int) {
	s.mu.Lock()
	s.rating = r
	s.mu.Unlock()
	s.scheduleSave()
}

// ApplyPreset sets the detail sliders to one of the named presets.
func (s *Session) ApplyPreset(name string) error {
	preset, exists := detail.Presets[name]
	if !exists {
		return fmt.Errorf("no detail preset named '%s'", name)
	}
	p := s.Params()
	p.SharpenValue = preset.SharpenValue
	p.SharpenRadius, p.SharpenPercent = detail.SharpenFromValue(preset.SharpenValue)
	p.DeNoise = preset.DeNoise
	s.SetParams(p)
	return nil
}

func (s *Session) SetView(v render.View) {
	s.pipeline.SetView(v)
	s.pipeline.RequestUpdate()
}

func (s *Session) scheduleSave() {
	s.mu.Lock()
	path, settings := s.path, sidecar.FromParams(s.params, s.rating)
	s.mu.Unlock()
	if path == "" {
		return
	}
	s.saver.Schedule(path, settings)
}

// Updates and Errors come straight from the preview pipeline.
func (s *Session) Updates() <-chan render.Update { return s.pipeline.Updates() }
func (s *Session) Errors() <-chan error          { return s.pipeline.Errors() }

func (s *Session) Latency() render.LatencySummary { return s.pipeline.Latency() }

// Close writes any pending settings, and stops the renderer.
func (s *Session) Close() error {
	err := s.saver.Close()
	s.pipeline.Close()
	if s.cfg.Verbosity > 0 {
		log.Printf("session: %s\n", s.pipeline.Latency())
	}
	return err
}
