// Package batch reprojects many rasters from a YAML job description and
// records every outcome in a SQLite ledger.
package batch

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/warp"
)

// ErrInvalidJob is wrapped by job file parsing and validation failures.
var ErrInvalidJob = errors.New("invalid batch job")

// Default settings, matching the rasterwarp command.
const (
	DefaultTargetCRS  = "EPSG:3857"
	DefaultResolution = 1.0
)

// Settings are the per-raster parameters. Zero values inherit from the
// job defaults.
type Settings struct {
	TargetCRS   string   `yaml:"target_crs"`
	SourceCRS   string   `yaml:"source_crs"` // overrides the file's own CRS
	Resolution  float64  `yaml:"resolution"`
	ResolutionY float64  `yaml:"resolution_y"` // defaults to Resolution
	Kernel      string   `yaml:"kernel"`
	NoData      *float64 `yaml:"nodata"`
	Densify     int      `yaml:"densify"`
	Compression string   `yaml:"compression"`
}

// Item is one raster to reproject.
type Item struct {
	Input    string `yaml:"input"`
	Output   string `yaml:"output"`
	Settings `yaml:",inline"`
}

// Job is a parsed batch job file.
type Job struct {
	OutputDir string   `yaml:"output_dir"`
	Ledger    string   `yaml:"ledger"`
	Defaults  Settings `yaml:"defaults"`
	Items     []Item   `yaml:"items"`

	path string
}

// Task is an Item with all settings resolved and parsed.
type Task struct {
	Input       string
	Output      string
	Target      coord.Projection
	SourceCRS   string
	Resolution  warp.Resolution
	Kernel      warp.Kernel
	NoData      float64
	HasNoData   bool
	Densify     int
	Compression cog.Compression
}

// LoadJob reads and validates a job file. Relative paths in the file are
// resolved against the job file's directory.
func LoadJob(path string) (*Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", path, err)
	}
	job, err := ParseJob(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	job.path = path
	job.resolvePaths(filepath.Dir(path))
	return job, nil
}

// ParseJob decodes and validates job YAML. Unknown keys are rejected.
func ParseJob(raw []byte) (*Job, error) {
	var job Job
	if err := yaml.UnmarshalStrict(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if job.Defaults.TargetCRS == "" {
		job.Defaults.TargetCRS = DefaultTargetCRS
	}
	if job.Defaults.Resolution == 0 {
		job.Defaults.Resolution = DefaultResolution
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Path returns the file the job was loaded from, if any.
func (j *Job) Path() string {
	return j.path
}

func (j *Job) validate() error {
	if len(j.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidJob)
	}
	outputs := make(map[string]int, len(j.Items))
	for i, it := range j.Items {
		if strings.TrimSpace(it.Input) == "" {
			return fmt.Errorf("%w: item %d: missing input", ErrInvalidJob, i+1)
		}
		if _, err := j.Resolve(i); err != nil {
			return fmt.Errorf("%w: item %d (%s): %w", ErrInvalidJob, i+1, it.Input, err)
		}
		out := j.outputPath(it)
		if prev, dup := outputs[out]; dup {
			return fmt.Errorf("%w: items %d and %d both write %s", ErrInvalidJob, prev+1, i+1, out)
		}
		outputs[out] = i
	}
	return nil
}

func (j *Job) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	j.OutputDir = abs(j.OutputDir)
	j.Ledger = abs(j.Ledger)
	for i := range j.Items {
		j.Items[i].Input = abs(j.Items[i].Input)
		j.Items[i].Output = abs(j.Items[i].Output)
	}
}

// outputPath is the item's explicit output, else <output_dir>/<name>_warped.tif
// next to the input when no output_dir is set.
func (j *Job) outputPath(it Item) string {
	if it.Output != "" {
		return it.Output
	}
	dir := j.OutputDir
	if dir == "" {
		dir = filepath.Dir(it.Input)
	}
	name := strings.TrimSuffix(filepath.Base(it.Input), filepath.Ext(it.Input))
	return filepath.Join(dir, name+"_warped.tif")
}

// Resolve merges item i with the job defaults. Resolution values are passed
// through unchecked so that the warp engine reports them per item.
func (j *Job) Resolve(i int) (Task, error) {
	it := j.Items[i]
	s := merge(j.Defaults, it.Settings)

	target, err := coord.Lookup(s.TargetCRS)
	if err != nil {
		return Task{}, err
	}
	if s.SourceCRS != "" {
		if _, err := coord.Lookup(s.SourceCRS); err != nil {
			return Task{}, err
		}
	}
	kernel, err := warp.ParseKernel(s.Kernel)
	if err != nil {
		return Task{}, err
	}
	comp, err := cog.ParseCompression(s.Compression)
	if err != nil {
		return Task{}, err
	}

	t := Task{
		Input:       it.Input,
		Output:      j.outputPath(it),
		Target:      target,
		SourceCRS:   s.SourceCRS,
		Resolution:  warp.Resolution{DX: s.Resolution, DY: s.ResolutionY},
		Kernel:      kernel,
		Densify:     s.Densify,
		Compression: comp,
	}
	if t.Resolution.DY == 0 {
		t.Resolution.DY = t.Resolution.DX
	}
	if s.NoData != nil {
		t.NoData, t.HasNoData = *s.NoData, true
	}
	return t, nil
}

func merge(def, over Settings) Settings {
	out := def
	if over.TargetCRS != "" {
		out.TargetCRS = over.TargetCRS
	}
	if over.SourceCRS != "" {
		out.SourceCRS = over.SourceCRS
	}
	if over.Resolution != 0 {
		out.Resolution = over.Resolution
		out.ResolutionY = over.ResolutionY
	}
	if over.ResolutionY != 0 {
		out.ResolutionY = over.ResolutionY
	}
	if over.Kernel != "" {
		out.Kernel = over.Kernel
	}
	if over.NoData != nil {
		out.NoData = over.NoData
	}
	if over.Densify != 0 {
		out.Densify = over.Densify
	}
	if over.Compression != "" {
		out.Compression = over.Compression
	}
	return out
}

// formatNoData renders an optional no-data value for the ledger.
func formatNoData(v float64, ok bool) string {
	switch {
	case !ok:
		return ""
	case math.IsNaN(v):
		return "nan"
	default:
		return fmt.Sprint(v)
	}
}
