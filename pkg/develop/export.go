package develop

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nfnt/resize"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/imageio"
)

// ExportSettings is what the export dialog asks for. A zero MaxWidth or
// MaxHeight means no size limit.
type ExportSettings struct {
	Format    imageio.Format `yaml:"format"`
	Quality   int            `yaml:"quality"`
	MaxWidth  int            `yaml:"max_width"`
	MaxHeight int            `yaml:"max_height"`
	Workers   int            `yaml:"workers"` // for ExportBatch
}

func DefaultExportSettings() ExportSettings {
	return ExportSettings{
		Format:  imageio.JPEG,
		Quality: 90,
		Workers: 4,
	}
}

func (es ExportSettings) Validate() error {
	if _, err := imageio.ParseFormat(string(es.Format)); err != nil {
		return fmt.Errorf("export settings: %w", err)
	}
	if es.Quality < 1 || es.Quality > 100 {
		return fmt.Errorf("export settings: quality %d not in [1,100]", es.Quality)
	}
	if es.MaxWidth < 0 || es.MaxHeight < 0 {
		return fmt.Errorf("export settings: negative max size %dx%d", es.MaxWidth, es.MaxHeight)
	}
	return nil
}

func (es ExportSettings) String() string {
	str := fmt.Sprintf("%s q%d", es.Format, es.Quality)
	if es.MaxWidth > 0 && es.MaxHeight > 0 {
		str += fmt.Sprintf(" fit %dx%d", es.MaxWidth, es.MaxHeight)
	}
	return str
}

// DestPath is where src gets exported to, in destDir.
func (es ExportSettings) DestPath(src, destDir string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	f, _ := imageio.ParseFormat(string(es.Format))
	return filepath.Join(destDir, base+f.Ext())
}

// fit shrinks img to fit the max size, keeping its aspect. Images that
// already fit are left alone.
func (es ExportSettings) fit(img image.Image) image.Image {
	if es.MaxWidth <= 0 || es.MaxHeight <= 0 {
		return img
	}
	return resize.Thumbnail(uint(es.MaxWidth), uint(es.MaxHeight), img, resize.Lanczos3)
}

// An Exporter holds what every export needs.
type Exporter struct {
	Settings ExportSettings
	Decoder  imageio.Decoder
	Filters  *detail.Filters
}

func NewExporter(es ExportSettings, d imageio.Decoder, f *detail.Filters) (*Exporter, error) {
	if err := es.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		d = imageio.FileDecoder{}
	}
	if f == nil {
		f = detail.Probe(detail.DefaultConfig())
	}
	es.Format, _ = imageio.ParseFormat(string(es.Format))
	return &Exporter{Settings: es, Decoder: d, Filters: f}, nil
}

// Export develops src with its saved settings (or auto exposure), and
// writes it into destDir. It returns the path written.
func (e *Exporter) Export(src, destDir string) (string, error) {
	img, err := e.Decoder.OpenRaw(src, false)
	if err != nil {
		return "", fmt.Errorf("export '%s': %w", src, err)
	}

	params, _, err := SeedParams(src, img)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	out, _, err := Develop(img, params, e.Filters)
	if err != nil {
		return "", fmt.Errorf("export '%s': %w", src, err)
	}

	dest := e.Settings.DestPath(src, destDir)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("export dir '%s': %w", destDir, err)
	}
	if err := imageio.SaveImage(e.Settings.fit(out), dest, e.Settings.Format, e.Settings.Quality); err != nil {
		return "", fmt.Errorf("export '%s': %w", src, err)
	}
	return dest, nil
}

// A Result is the outcome of exporting one file in a batch.
type Result struct {
	Src, Dest string
	Err       error
}

// ExportBatch exports all the files, on Settings.Workers goroutines.
// One failure doesn't stop the others. Results come back in the order
// of srcs.
func (e *Exporter) ExportBatch(srcs []string, destDir string) []Result {
	results := make([]Result, len(srcs))
	jobs := make(chan int, len(srcs))
	for i := range srcs {
		jobs <- i
	}
	close(jobs)

	nWorkers := e.Settings.Workers
	if nWorkers < 1 {
		nWorkers = 1
	}

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for i := range jobs {
			dest, err := e.Export(srcs[i], destDir)
			results[i] = Result{Src: srcs[i], Dest: dest, Err: err}
		}
	}

	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go worker()
	}
	wg.Wait()

	for i, r := range results {
		if r.Err != nil {
			log.Printf("[%d/%d] %s -> Error: %v\n", i+1, len(results), filepath.Base(r.Src), r.Err)
		} else {
			log.Printf("[%d/%d] %s -> Done\n", i+1, len(results), filepath.Base(r.Src))
		}
	}
	return results
}

// FindImages lists the files in dir that the decoder can read, sorted.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".tif", ".tiff", ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
