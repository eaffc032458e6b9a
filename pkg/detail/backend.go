// Package detail has the sharpen and de-noise filters that run on the
// 8-bit display image, plus de-haze, which runs on the float buffer.
//
// Sharpen and de-noise are provided by pluggable backends. At startup
// Probe picks the best backend that says it is Available; whenever it
// can't do something, the next one down the chain is used instead, and
// the "basic" backend can always do everything.
package detail

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
)

var (
	ErrUnknownMethod = errors.New("unknown de-noise method")

	// A backend returns ErrNotSupported to hand the work to the next
	// backend in the chain. It is never returned to callers.
	ErrNotSupported = errors.New("not supported by this backend")
)

// Method names a de-noise strategy.
type Method string

const (
	NLMeans        Method = "nlm" // non-local means, the default
	Bilateral      Method = "bilateral"
	TotalVariation Method = "tv"
)

// ParseMethod accepts the names the UI and old sidecars use. An empty
// string is the default method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nlm", "nlmeans", "non-local means", "high quality":
		return NLMeans, nil
	case "bilateral":
		return Bilateral, nil
	case "tv", "total variation", "total-variation":
		return TotalVariation, nil
	}
	return "", fmt.Errorf("%w '%s'", ErrUnknownMethod, s)
}

// Backend is one implementation of the 8-bit filters. Both calls must
// return an image of the same size as the input, and never modify it.
type Backend interface {
	Name() string
	Available() bool
	Sharpen(img *image.RGBA, radius, percent float64) (*image.RGBA, error)
	Denoise(img *image.RGBA, strength float64, m Method) (*image.RGBA, error)
}

// Config selects and tunes the backends.
type Config struct {
	Preferred     bool    `yaml:"preferred"`      // false: only ever use the basic backend
	Backend       string  `yaml:"backend"`        // force a named backend; "" probes
	EdgeThreshold float64 `yaml:"edge_threshold"` // Sobel magnitude, [0,1], above which sharpening is applied
}

func DefaultConfig() Config {
	return Config{
		Preferred:     true,
		EdgeThreshold: 0.08,
	}
}

// A Factory builds a backend from the config.
type Factory func(Config) Backend

type registration struct {
	name     string
	priority int
	factory  Factory
}

var (
	registryMu sync.Mutex
	registry   []registration
)

// Register adds a backend factory. Higher priority backends are
// preferred when probing.
func Register(name string, priority int, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, registration{name, priority, f})
	sort.SliceStable(registry, func(i, j int) bool { return registry[i].priority > registry[j].priority })
}

// Names lists the registered backends, most preferred first.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := []string{}
	for _, r := range registry {
		names = append(names, r.name)
	}
	return names
}

// Filters is what the rest of the program uses: a chain of backends,
// the preferred one first and "basic" last. Safe for concurrent use.
type Filters struct {
	chain []Backend

	mu     sync.Mutex
	warned map[string]bool
}

// Probe builds the chain. Backends that report !Available are left out
// of it, with a log line.
func Probe(cfg Config) *Filters {
	registryMu.Lock()
	regs := append([]registration{}, registry...)
	registryMu.Unlock()

	f := &Filters{warned: map[string]bool{}}
	for _, r := range regs {
		if r.name == basicName {
			continue
		}
		if !cfg.Preferred || (cfg.Backend != "" && cfg.Backend != r.name) {
			continue
		}
		b := r.factory(cfg)
		if !b.Available() {
			log.Printf("detail: backend %s not available, skipping\n", r.name)
			continue
		}
		f.chain = append(f.chain, b)
	}
	f.chain = append(f.chain, newBasic(cfg))

	return f
}

// WithBackends builds a chain directly, for tests. "basic" is always
// appended at the end.
func WithBackends(cfg Config, backends ...Backend) *Filters {
	f := &Filters{warned: map[string]bool{}}
	f.chain = append(f.chain, backends...)
	f.chain = append(f.chain, newBasic(cfg))
	return f
}

// Backend is the name of the preferred backend.
func (f *Filters) Backend() string { return f.chain[0].Name() }

func (f *Filters) String() string {
	names := []string{}
	for _, b := range f.chain {
		names = append(names, b.Name())
	}
	return "detail[" + strings.Join(names, ">") + "]"
}

// The first time a backend hands off a given operation, say so.
func (f *Filters) noteFallback(from, op string) {
	key := from + "/" + op
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.warned[key] {
		return
	}
	f.warned[key] = true
	log.Printf("detail: backend %s can't do %s, falling back\n", from, op)
}

func checkRGBA(img *image.RGBA) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", fimage.ErrShape)
	}
	if img.Bounds().Empty() {
		return fmt.Errorf("%w: empty image %v", fimage.ErrShape, img.Bounds())
	}
	return nil
}

func checkSameSize(name string, in, out *image.RGBA) error {
	if out == nil || in.Bounds().Size() != out.Bounds().Size() {
		return fmt.Errorf("detail: backend %s changed the image size", name)
	}
	return nil
}

// Sharpen runs an unsharp mask. radius is the blur sigma in pixels,
// percent how much of the detail to add back. percent <= 0 returns img.
func (f *Filters) Sharpen(img *image.RGBA, radius, percent float64) (*image.RGBA, error) {
	if err := checkRGBA(img); err != nil {
		return nil, fmt.Errorf("sharpen: %w", err)
	}
	if percent <= 0 || radius <= 0 {
		return img, nil
	}

	for _, b := range f.chain {
		out, err := b.Sharpen(img, radius, percent)
		if errors.Is(err, ErrNotSupported) {
			f.noteFallback(b.Name(), "sharpen")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("sharpen [%s]: %w", b.Name(), err)
		}
		return out, checkSameSize(b.Name(), img, out)
	}
	return nil, fmt.Errorf("sharpen: no backend could run")
}

// Denoise smooths noise with the named method. strength <= 0 returns img.
func (f *Filters) Denoise(img *image.RGBA, strength float64, method string) (*image.RGBA, error) {
	if err := checkRGBA(img); err != nil {
		return nil, fmt.Errorf("denoise: %w", err)
	}
	if strength <= 0 {
		return img, nil
	}
	m, err := ParseMethod(method)
	if err != nil {
		return nil, fmt.Errorf("denoise: %w", err)
	}

	for _, b := range f.chain {
		out, err := b.Denoise(img, strength, m)
		if errors.Is(err, ErrNotSupported) {
			f.noteFallback(b.Name(), "denoise/"+string(m))
			continue
		} else if err != nil {
			return nil, fmt.Errorf("denoise [%s,%s]: %w", b.Name(), m, err)
		}
		return out, checkSameSize(b.Name(), img, out)
	}
	return nil, fmt.Errorf("denoise: no backend could run %s", m)
}
