package batch

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/coord"
	"github.com/pspoerri/rasterwarp/internal/warp"
)

// Runner executes jobs one raster at a time. Bands within a raster are
// resampled in parallel by the warp engine.
type Runner struct {
	Ledger      *Ledger         // optional
	Cache       *cog.ChunkCache // shared by all readers; nil allocates one per file
	Concurrency int             // bands in parallel per raster
	MemoryLimit int64           // see warp.Config
	Resume      bool            // skip items whose output the ledger records as done
	Verbose     bool
	Progress    bool
}

// Summary is the outcome of Run.
type Summary struct {
	RunID     string
	Succeeded int
	Failed    int
	Skipped   int
	Results   []Result
}

// Run processes every item in order. A failing item is recorded and the
// batch continues; only cancellation of ctx stops the run early.
func (r *Runner) Run(ctx context.Context, job *Job) (Summary, error) {
	var sum Summary
	var run *Run
	if r.Ledger != nil {
		var err error
		if run, err = r.Ledger.StartRun(job.Path()); err != nil {
			return sum, err
		}
		sum.RunID = run.ID
	}

	for i := range job.Items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		task, err := job.Resolve(i)
		if err != nil {
			// LoadJob validated every item already.
			return sum, fmt.Errorf("item %d: %w", i+1, err)
		}
		if r.Resume && r.done(task) {
			if r.Verbose {
				log.Printf("Skipping %s: already reprojected to %s", task.Input, task.Output)
			}
			sum.Skipped++
			continue
		}

		res := r.process(ctx, task)
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if res.Status == StatusOK {
			sum.Succeeded++
		} else {
			sum.Failed++
			log.Printf("Item %d (%s) failed: %s", i+1, task.Input, res.Error)
		}
		if run != nil {
			if err := r.Ledger.Record(run, &res); err != nil {
				return sum, err
			}
		}
		sum.Results = append(sum.Results, res)
	}

	if run != nil {
		if err := r.Ledger.FinishRun(run); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (r *Runner) done(t Task) bool {
	if r.Ledger == nil {
		return false
	}
	prev, err := r.Ledger.LastSuccess(t.Input)
	if err != nil || prev.Output != t.Output {
		return false
	}
	_, err = os.Stat(t.Output)
	return err == nil
}

// process reprojects one raster and never returns an error: failures are
// captured in the Result.
func (r *Runner) process(ctx context.Context, t Task) Result {
	start := time.Now()
	res := Result{
		Input:       t.Input,
		Output:      t.Output,
		TargetCRS:   t.Target.Code(),
		Kernel:      t.Kernel.String(),
		NoData:      formatNoData(t.NoData, t.HasNoData),
		ResolutionX: t.Resolution.DX,
		ResolutionY: t.Resolution.DY,
	}
	fail := func(err error) Result {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	var opts []cog.Option
	if r.Cache != nil {
		opts = append(opts, cog.WithCache(r.Cache))
	}
	if t.SourceCRS != "" {
		opts = append(opts, cog.WithCRS(t.SourceCRS))
	}
	src, err := cog.Open(t.Input, opts...)
	if err != nil {
		return fail(err)
	}
	defer src.Close()

	grid := src.Grid()
	res.SourceCRS = grid.CRS
	srcProj, err := coord.Lookup(grid.CRS)
	if err != nil {
		return fail(fmt.Errorf("%s: source CRS: %w", t.Input, err))
	}

	enc := cog.NewWriter(t.Output, cog.WriterOptions{Compression: t.Compression})
	out, err := warp.Reproject(ctx, src, enc, srcProj, t.Target, warp.Config{
		Resolution:  t.Resolution,
		Kernel:      t.Kernel,
		NoData:      t.NoData,
		HasNoData:   t.HasNoData,
		Densify:     t.Densify,
		Concurrency: r.Concurrency,
		MemoryLimit: r.MemoryLimit,
		Verbose:     r.Verbose,
		Progress:    r.Progress,
	})
	if err != nil {
		return fail(fmt.Errorf("%s: %w", t.Input, err))
	}

	res.Status = StatusOK
	res.Width = out.Grid.Width
	res.Height = out.Grid.Height
	res.Bands = out.Grid.Bands
	res.Footprint = wkt.MarshalString(out.Footprint)
	res.Pixels = out.Counts.Pixels
	res.NoDataPixels = out.Counts.NoData
	res.ProjectionFailures = out.Counts.ProjectionFailures
	res.DurationMS = time.Since(start).Milliseconds()
	if r.Verbose {
		log.Printf("%s -> %s: %dx%d in %s", t.Input, t.Output, res.Width, res.Height, warp.FormatDuration(time.Since(start)))
	}
	return res
}
