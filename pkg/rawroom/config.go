// Package rawroom ties the pieces together: one config for the whole
// app, and an editing session over one image at a time.
package rawroom

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/develop"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/render"
)

type Config struct {
	Verbosity     int           `yaml:"verbosity"`
	AutoSaveDelay time.Duration `yaml:"autosave_delay"` // sidecar writes wait this long for edits to settle

	Render render.Config          `yaml:"render"`
	Detail detail.Config          `yaml:"detail"`
	Export develop.ExportSettings `yaml:"export"`
}

func NewConfig() Config {
	return Config{
		AutoSaveDelay: 500 * time.Millisecond,
		Render:        render.DefaultConfig(),
		Detail:        detail.DefaultConfig(),
		Export:        develop.DefaultExportSettings(),
	}
}

// Fields missing from the YAML keep their defaults.
func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("config yaml: %w", err)
	}
	return c, c.Validate()
}

func LoadConfig(filename string) (Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read %s: %w", filename, err)
	}
	c, err := newConfigFromYaml(contents)
	if err != nil {
		return c, fmt.Errorf("config %s: %w", filename, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.AutoSaveDelay < 0 {
		return fmt.Errorf("negative autosave_delay %s", c.AutoSaveDelay)
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Export.Validate()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Filters probes for the detail backend the config asks for.
func (c Config) Filters() *detail.Filters {
	f := detail.Probe(c.Detail)
	if c.Verbosity > 0 {
		log.Printf("detail filters: %s\n", f)
	}
	return f
}

// NewPipeline builds a preview renderer from the config.
func (c Config) NewPipeline(filters *detail.Filters) (*render.Pipeline, error) {
	rc := c.Render
	rc.Verbosity = c.Verbosity
	return render.New(rc, filters)
}
