package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/encode"
	"github.com/pspoerri/rasterwarp/internal/warp"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		targetCRS      string
		sourceCRS      string
		resolution     float64
		resolutionY    float64
		kernelName     string
		noDataStr      string
		densify        int
		compression    string
		predictor      string
		tileSize       int
		bigTIFF        bool
		concurrency    int
		rowConcurrency int
		cacheMB        int
		memLimitMB     int
		previewPath    string
		previewFormat  string
		previewSize    int
		quality        int
		progress       bool
		verbose        bool
		showVersion    bool
		cpuProfile     string
		memProfile     string
	)

	flag.StringVar(&targetCRS, "t-srs", "EPSG:3857", "Target CRS (EPSG:3857, EPSG:4326, EPSG:2056)")
	flag.StringVar(&sourceCRS, "s-srs", "", "Override the source CRS read from the file")
	flag.Float64Var(&resolution, "res", 1, "Output pixel size in target CRS units")
	flag.Float64Var(&resolutionY, "res-y", 0, "Output pixel height (default: same as -res)")
	flag.StringVar(&kernelName, "kernel", "bilinear", "Resampling kernel: nearest, bilinear, bicubic, lanczos")
	flag.StringVar(&noDataStr, "nodata", "", "Output no-data value (default: source no-data, else NaN)")
	flag.IntVar(&densify, "densify", 0, "Extra sample points per source edge when computing the extent")
	flag.StringVar(&compression, "compression", "deflate", "Output compression: none, lzw, deflate")
	flag.StringVar(&predictor, "predictor", "", "Predictor applied before compression: none, horizontal, float")
	flag.IntVar(&tileSize, "tile-size", 0, "Write tiles of this size instead of strips (0 = strips)")
	flag.BoolVar(&bigTIFF, "bigtiff", false, "Force BigTIFF output")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Bands resampled in parallel")
	flag.IntVar(&rowConcurrency, "row-concurrency", runtime.NumCPU(), "Row workers per band")
	flag.IntVar(&cacheMB, "cache-mb", 256, "Decoded chunk cache size in MB")
	flag.IntVar(&memLimitMB, "mem-limit", 0, "Refuse plans needing more than this many MB (0 = auto ~75% of RAM, -1 = off)")
	flag.StringVar(&previewPath, "preview", "", "Also write a preview image of band 1 (.png, .jpg, .webp)")
	flag.StringVar(&previewFormat, "preview-format", "", "Preview format: png, jpeg, webp, terrarium (default: from extension)")
	flag.IntVar(&previewSize, "preview-size", encode.DefaultPreviewSize, "Longest preview side in pixels")
	flag.IntVar(&quality, "quality", 85, "JPEG/WebP preview quality 1-100")
	flag.BoolVar(&progress, "progress", false, "Show a progress bar")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterwarp [flags] <input.tif> <output.tif>\n\n")
		fmt.Fprintf(os.Stderr, "Reproject a GeoTIFF to another CRS and resolution.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("rasterwarp %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// CPU profiling.
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("Creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
		if verbose {
			log.Printf("CPU profiling enabled → %s", cpuProfile)
		}
	}

	// Memory profile (written at exit).
	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				log.Fatalf("Creating memory profile: %v", err)
			}
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatalf("Writing memory profile: %v", err)
			}
			if verbose {
				log.Printf("Memory profile written → %s", memProfile)
			}
		}()
	}

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath, outputPath := args[0], args[1]
	if !isTIFF(outputPath) {
		log.Fatal("Output file must have .tif or .tiff extension")
	}

	target, err := coord.Lookup(targetCRS)
	if err != nil {
		log.Fatalf("Target CRS: %v", err)
	}
	kernel, err := warp.ParseKernel(kernelName)
	if err != nil {
		log.Fatalf("Kernel: %v", err)
	}
	comp, err := cog.ParseCompression(compression)
	if err != nil {
		log.Fatalf("Compression: %v", err)
	}
	pred, err := parsePredictor(predictor)
	if err != nil {
		log.Fatalf("Predictor: %v", err)
	}
	noData, hasNoData, err := parseNoData(noDataStr)
	if err != nil {
		log.Fatalf("No-data: %v", err)
	}
	if resolutionY == 0 {
		resolutionY = resolution
	}
	res := warp.Resolution{DX: resolution, DY: resolutionY}

	var previewEnc encode.Encoder
	if previewPath != "" {
		if previewFormat == "" {
			if previewFormat, err = encode.FormatForPath(previewPath); err != nil {
				log.Fatalf("Preview: %v", err)
			}
		}
		if previewEnc, err = encode.NewEncoder(previewFormat, quality); err != nil {
			log.Fatalf("Preview: %v", err)
		}
		previewPath = previewFile(previewPath, previewEnc)
	}

	start := time.Now()
	cache := cog.NewChunkCache(int64(cacheMB) << 20)
	defer cache.Close()

	opts := []cog.Option{cog.WithCache(cache)}
	if sourceCRS != "" {
		opts = append(opts, cog.WithCRS(sourceCRS))
	}
	src, err := cog.Open(inputPath, opts...)
	if err != nil {
		log.Fatalf("Opening source: %v", err)
	}
	defer src.Close()

	grid := src.Grid()
	source, err := coord.Lookup(grid.CRS)
	if err != nil {
		log.Fatalf("Source CRS: %v (use -s-srs to set it)", err)
	}
	if verbose {
		log.Printf("Opened %s: %s", inputPath, grid)
	}

	var memoryLimit int64
	switch {
	case memLimitMB > 0:
		memoryLimit = int64(memLimitMB) << 20
	case memLimitMB == 0:
		memoryLimit = warp.ComputeMemoryLimit(warp.DefaultMemoryFraction, verbose)
	}

	// Print settings summary.
	fmt.Printf("rasterwarp %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s (%s, %dx%d, %d band(s))\n", "Input:", inputPath, source.Code(), grid.Width, grid.Height, grid.Bands)
	fmt.Printf("  %-14s %s\n", "Target CRS:", target.Code())
	fmt.Printf("  %-14s %gx%g\n", "Resolution:", res.DX, res.DY)
	fmt.Printf("  %-14s %s\n", "Kernel:", kernel)
	if hasNoData {
		fmt.Printf("  %-14s %g\n", "No-data:", noData)
	}
	fmt.Printf("  %-14s %s\n", "Compression:", comp)
	fmt.Printf("  %-14s %d band(s) × %d row worker(s)\n", "Concurrency:", concurrency, rowConcurrency)
	if memoryLimit > 0 {
		fmt.Printf("  %-14s %s\n", "Mem limit:", humanSize(memoryLimit))
	} else {
		fmt.Printf("  %-14s off\n", "Mem limit:")
	}
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	writer := cog.NewWriter(outputPath, cog.WriterOptions{
		Compression: comp,
		Predictor:   pred,
		TileSize:    tileSize,
		BigTIFF:     bigTIFF,
	})
	result, err := warp.Reproject(ctx, src, writer, source, target, warp.Config{
		Resolution:     res,
		Kernel:         kernel,
		NoData:         noData,
		HasNoData:      hasNoData,
		Densify:        densify,
		Concurrency:    concurrency,
		RowConcurrency: rowConcurrency,
		MemoryLimit:    memoryLimit,
		Verbose:        verbose,
		Progress:       progress,
	})
	if err != nil {
		log.Fatalf("Reprojecting: %v", err)
	}

	if verbose {
		hits, misses := cache.Stats()
		log.Printf("Resampled %d pixels (%d no-data, %d projection failures) in %v; chunk cache %d hits / %d misses",
			result.Counts.Pixels, result.Counts.NoData, result.Counts.ProjectionFailures,
			result.Elapsed.Round(time.Millisecond), hits, misses)
	}

	if previewEnc != nil && len(result.Bands) > 0 {
		mode := encode.PreviewStretch
		if previewEnc.Format() == "terrarium" {
			mode = encode.PreviewTerrarium
		}
		img, err := encode.RenderPreview(result.Bands[0], encode.PreviewOptions{MaxSize: previewSize, Mode: mode})
		if err != nil {
			log.Fatalf("Preview: %v", err)
		}
		if err := encode.WriteFile(previewPath, img, previewEnc); err != nil {
			log.Fatalf("Preview: %v", err)
		}
		if verbose {
			log.Printf("Preview written → %s", previewPath)
		}
	}

	if fi, err := os.Stat(outputPath); err == nil && verbose {
		log.Printf("Wrote %s (%s) in %v", outputPath, humanSize(fi.Size()), time.Since(start).Round(time.Millisecond))
	}
	if len(result.Bands) == 0 {
		fmt.Printf("Source has no bands; planned %s, nothing written.\n", result.Grid)
		return
	}
	fmt.Printf("Raster saved to %s with %gx%g resolution in CRS %s.\n", outputPath, res.DX, res.DY, target.Code())
}

// parseNoData parses the -nodata flag. An empty string means unset.
func parseNoData(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid value %q", s)
	}
	if math.IsInf(v, 0) {
		return 0, false, fmt.Errorf("infinite value %q", s)
	}
	return v, true, nil
}

// parsePredictor maps the -predictor flag. An empty string picks horizontal
// differencing.
func parsePredictor(s string) (cog.Predictor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "horizontal", "2":
		return cog.PredictorHorizontal, nil
	case "none", "1":
		return cog.PredictorNone, nil
	case "float", "floatingpoint", "3":
		return cog.PredictorFloatingPoint, nil
	}
	return 0, fmt.Errorf("unknown predictor %q", s)
}

// previewFile adds the encoder's extension to a preview path that has none.
func previewFile(path string, enc encode.Encoder) string {
	if filepath.Ext(path) == "" {
		return path + enc.FileExtension()
	}
	return path
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
