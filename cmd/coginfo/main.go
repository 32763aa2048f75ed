package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/raster"
)

func main() {
	var (
		crs   string
		stats bool
	)
	flag.StringVar(&crs, "s-srs", "", "Override the CRS found in the file, e.g. EPSG:2056")
	flag.BoolVar(&stats, "stats", true, "Decode every band and print statistics")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: coginfo [flags] <file.tif>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	var opts []cog.Option
	if crs != "" {
		opts = append(opts, cog.WithCRS(crs))
	}
	r, err := cog.Open(flag.Arg(0), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	grid := r.Grid()
	profile := r.Profile()
	layout := r.Layout()
	geo := r.GeoInfo()

	fmt.Printf("File: %s\n", r.Path())
	fmt.Printf("Size: %d x %d, %d band(s)\n", grid.Width, grid.Height, grid.Bands)
	fmt.Printf("CRS: %s", grid.CRS)
	if r.EPSG() == 0 {
		fmt.Printf(" (not in GeoKeys)")
	}
	fmt.Println()
	fmt.Printf("Georeferencing: %s\n", geo.Source)
	fmt.Printf("Transform: %v\n", grid.Transform)
	fmt.Printf("GeoTransform (GDAL): %v\n", grid.Transform.ToGDAL())
	dx, dy := grid.Resolution()
	fmt.Printf("Pixel size (CRS units): %g x %g\n", dx, dy)

	b := grid.Bounds()
	fmt.Printf("Bounds (CRS): X=[%f, %f], Y=[%f, %f]\n", b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	if p, err := coord.Lookup(grid.CRS); err == nil {
		printGeographicBounds(p, grid)
	}

	fmt.Printf("Sample format: %s\n", profile.Format)
	if profile.HasNoData {
		fmt.Printf("NoData: %g\n", profile.NoData)
	} else {
		fmt.Printf("NoData: none\n")
	}

	kind := "strips"
	if layout.Tiled {
		kind = "tiles"
	}
	fmt.Printf("Layout: %s %dx%d, %s interleave, %s byte order", kind, layout.ChunkWidth, layout.ChunkHeight, layout.Interleave, layout.ByteOrder)
	if layout.BigTIFF {
		fmt.Printf(", BigTIFF")
	}
	fmt.Println()
	fmt.Printf("Compression: %s (predictor %d)\n", layout.Compression, layout.Predictor)
	fmt.Printf("IFD count: %d (1 full-res + %d overviews)\n", r.IFDCount(), layout.Overviews)

	if !stats {
		return
	}
	ctx := context.Background()
	for i := 0; i < grid.Bands; i++ {
		band, err := r.ReadBand(ctx, i)
		if err != nil {
			fmt.Printf("\n  Band %d: ERROR: %v\n", i+1, err)
			continue
		}
		s := raster.ComputeStats(band)
		fmt.Printf("\n  Band %d: %d valid, %d nodata\n", i+1, s.Count, s.NoData)
		if s.Count > 0 {
			fmt.Printf("    min=%g max=%g mean=%g stddev=%g\n", s.Min, s.Max, s.Mean, s.StdDev)
		}
	}
	if hits, misses := r.Cache().Stats(); hits+misses > 0 {
		fmt.Printf("\nChunk cache: %d hits, %d misses\n", hits, misses)
	}
}

// printGeographicBounds reports the corner coordinates in WGS84.
func printGeographicBounds(p coord.Projection, grid raster.Grid) {
	fmt.Printf("Corners (WGS84):\n")
	names := [4]string{"upper left", "upper right", "lower left", "lower right"}
	for i, c := range grid.Corners() {
		lon, lat, err := p.ToWGS84(c[0], c[1])
		if err != nil {
			fmt.Printf("  %-12s outside projection domain\n", names[i])
			continue
		}
		fmt.Printf("  %-12s %11.6f, %10.6f\n", names[i], lon, lat)
	}
}
