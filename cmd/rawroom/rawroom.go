package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/detail"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/develop"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/fimage"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/imageio"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/rawroom"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/render"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

var (
	fVerbosity   int
	fConfigFile  string
	fOutDir      string
	fFormat      string
	fQuality     int
	fMaxSize     string
	fJobs        int
	fBatch       bool
	fPreview     bool
	fAuto        bool
	fZoom        float64
	fViewport    string
	fTiled       bool
	fBackend     string
	fHazeDumpDir string
	fHDR         bool
	fThumb       bool
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fConfigFile, "config", "", "YAML config file")
	flag.StringVar(&fOutDir, "out", "", "output directory (default: <input dir>/converted)")
	flag.StringVar(&fFormat, "format", "", "export format: jpeg, heif, tiff, png")
	flag.IntVar(&fQuality, "q", 0, "export quality, 1-100")
	flag.StringVar(&fMaxSize, "max", "", "fit exports into WxH, e.g. 2048x2048")
	flag.IntVar(&fJobs, "j", 0, "number of parallel exports")
	flag.BoolVar(&fBatch, "batch", false, "args are directories; export every image in them")

	flag.BoolVar(&fPreview, "preview", false, "render one preview of each image, and write it out as PNGs")
	flag.BoolVar(&fAuto, "auto", false, "preview with auto exposure, ignoring any saved settings")
	flag.Float64Var(&fZoom, "zoom", 0, "preview zoom (0 = fit to window)")
	flag.StringVar(&fViewport, "viewport", "1200x800", "preview viewport size")
	flag.BoolVar(&fTiled, "tiled", false, "render the preview ROI in parallel tiles")
	flag.StringVar(&fBackend, "backend", "", "force a detail filter backend: "+strings.Join(detail.Names(), ", "))
	flag.StringVar(&fHazeDumpDir, "dumphaze", "", "write the de-haze intermediate grids into this dir")
	flag.BoolVar(&fHDR, "hdr", false, "also write the decoded linear image as Radiance .hdr")
	flag.BoolVar(&fThumb, "thumb", false, "write out each image's thumbnail")
	flag.Parse()

	log.Printf("rawroom starting\n")
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("size '%s' should look like 1200x800: %v", s, err)
	}
	return w, h, nil
}

func loadConfig() rawroom.Config {
	cfg := rawroom.NewConfig()
	if fConfigFile != "" {
		var err error
		if cfg, err = rawroom.LoadConfig(fConfigFile); err != nil {
			log.Fatal(err)
		}
		log.Printf("Loaded base configuration from %s\n", fConfigFile)
	}

	// Override the config file with command line args, if relevant
	if fVerbosity > 0 {
		cfg.Verbosity = fVerbosity
	}
	if fFormat != "" {
		cfg.Export.Format = imageio.Format(fFormat)
	}
	if fQuality > 0 {
		cfg.Export.Quality = fQuality
	}
	if fJobs > 0 {
		cfg.Export.Workers = fJobs
	}
	if fBackend != "" {
		cfg.Detail.Backend = fBackend
	}
	if fTiled {
		cfg.Render.Tiled = true
	}
	if fMaxSize != "" {
		w, h, err := parseSize(fMaxSize)
		if err != nil {
			log.Fatal(err)
		}
		cfg.Export.MaxWidth, cfg.Export.MaxHeight = w, h
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("bad configuration: %v\n", err)
	}
	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}
	return cfg
}

func outDirFor(src string) string {
	if fOutDir != "" {
		return fOutDir
	}
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		return filepath.Join(src, "converted")
	}
	return filepath.Join(filepath.Dir(src), "converted")
}

func main() {
	cfg := loadConfig()
	if flag.NArg() == 0 {
		log.Fatal("no images given")
	}

	switch {
	case fPreview:
		for _, path := range flag.Args() {
			if err := preview(cfg, path); err != nil {
				log.Fatal(err)
			}
		}
	case fThumb:
		for _, path := range flag.Args() {
			thumb(path)
		}
	default:
		export(cfg)
	}
}

func export(cfg rawroom.Config) {
	e, err := develop.NewExporter(cfg.Export, imageio.FileDecoder{}, cfg.Filters())
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("exporting as %s\n", cfg.Export)

	failed := 0
	for _, arg := range flag.Args() {
		srcs := []string{arg}
		if fBatch {
			if srcs, err = develop.FindImages(arg); err != nil {
				log.Fatal(err)
			}
			log.Printf("Converting %d files from %s\n", len(srcs), arg)
		}
		for _, r := range e.ExportBatch(srcs, outDirFor(arg)) {
			if r.Err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		log.Fatalf("%d exports failed\n", failed)
	}
}

func preview(cfg rawroom.Config, path string) error {
	img, err := imageio.FileDecoder{}.OpenRaw(path, false)
	if err != nil {
		return err
	}

	var params tonemap.Params
	if fAuto {
		params, err = tonemap.AutoExposure(img)
	} else {
		params, _, err = develop.SeedParams(path, img)
	}
	if err != nil {
		return err
	}
	log.Printf("%s: %s\n", path, params)

	vw, vh, err := parseSize(fViewport)
	if err != nil {
		return err
	}
	var view render.StaticView
	if fZoom > 0 {
		view = render.ZoomedView(vw, vh, fZoom, float64(img.W())/2, float64(img.H())/2)
	} else {
		view = render.FitView(img.W(), img.H(), vw, vh)
	}

	p, err := cfg.NewPipeline(cfg.Filters())
	if err != nil {
		return err
	}
	defer p.Close()
	p.SetImage(img)
	p.SetView(view)
	p.SetParams(params)

	u, err := p.Render(context.Background())
	if err != nil {
		return err
	} else if u == nil {
		return fmt.Errorf("%s: nothing to render", path)
	}
	log.Printf("%s\n", u)

	outDir := outDirFor(path)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	base := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	if err := imageio.WritePNG(u.Background, base+"-bg.png"); err != nil {
		return err
	}
	if u.ROI != nil {
		if err := imageio.WritePNG(u.ROI, base+"-roi.png"); err != nil {
			return err
		}
	}
	if err := render.WriteDebugOverlay(u, 1200, base+"-overlay.png"); err != nil {
		return err
	}
	log.Printf("preview written to %s-*.png\n", base)

	if fHDR {
		if err := imageio.SaveHDR(img, base+".hdr"); err != nil {
			return err
		}
	}
	if fHazeDumpDir != "" {
		return dumpHaze(img, params)
	}
	return nil
}

// dumpHaze reruns the de-haze on the tone mapped image, keeping the
// intermediate grids.
func dumpHaze(img *fimage.Image, params tonemap.Params) error {
	toned, _, err := tonemap.Apply(img, params)
	if err != nil {
		return err
	}
	strength := params.DeHaze
	if strength <= 0 {
		strength = 25
	}

	if err := os.MkdirAll(fHazeDumpDir, 0755); err != nil {
		return err
	}
	d := detail.NewDefaultDehazer(toned, strength)
	d.DumpGrids = true
	d.DumpDir = fHazeDumpDir
	_, atm, err := d.Perform()
	if err != nil {
		return err
	}
	log.Printf("de-haze grids written to %s, %s\n", fHazeDumpDir, atm)
	return nil
}

func thumb(path string) {
	t := imageio.ExtractThumbnail(path, imageio.FileDecoder{})
	if t == nil {
		return
	}
	outDir := outDirFor(path)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatal(err)
	}
	dest := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"-thumb.png")
	if err := imageio.WritePNG(t, dest); err != nil {
		log.Fatal(err)
	}
	log.Printf("%s: thumbnail %s written to %s\n", path, t.Bounds().Size(), dest)
}
