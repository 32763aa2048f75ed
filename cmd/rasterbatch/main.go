package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/pspoerri/rasterwarp/internal/batch"
	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/warp"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 2 // the batch ran but some items failed
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes the command and returns the process exit code. Cleanup is
// deferred here so that it happens before main exits.
func run(args []string, stdout io.Writer) int {
	var (
		ledgerPath  string
		concurrency int
		cacheMB     int
		memLimitMB  int
		resume      bool
		listRuns    bool
		progress    bool
		verbose     bool
		showVersion bool
	)

	fs := flag.NewFlagSet("rasterbatch", flag.ContinueOnError)
	fs.StringVar(&ledgerPath, "ledger", "", "SQLite ledger file (default: the job's ledger setting)")
	fs.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Bands resampled in parallel per raster")
	fs.IntVar(&cacheMB, "cache-mb", 256, "Decoded chunk cache size in MB, shared by all rasters")
	fs.IntVar(&memLimitMB, "mem-limit", 0, "Skip rasters needing more than this many MB (0 = auto ~75% of RAM, -1 = off)")
	fs.BoolVar(&resume, "resume", false, "Skip items the ledger already records as done")
	fs.BoolVar(&listRuns, "runs", false, "List recorded runs in the ledger and exit")
	fs.BoolVar(&progress, "progress", false, "Show a progress bar per raster")
	fs.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: rasterbatch [flags] <job.yaml>\n\n")
		fmt.Fprintf(fs.Output(), "Reproject every raster listed in a YAML job file.\n\n")
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitError
	}

	if showVersion {
		fmt.Fprintf(stdout, "rasterbatch %s (commit %s, built %s)\n", version, commit, buildDate)
		return exitOK
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return exitError
	}
	jobPath := fs.Arg(0)

	job, err := batch.LoadJob(jobPath)
	if err != nil {
		log.Printf("Loading job: %v", err)
		return exitError
	}
	if ledgerPath == "" {
		ledgerPath = job.Ledger
	}

	var ledger *batch.Ledger
	if ledgerPath != "" {
		if ledger, err = batch.OpenLedger(ledgerPath); err != nil {
			log.Printf("Ledger: %v", err)
			return exitError
		}
		defer ledger.Close()
	}
	if listRuns {
		if ledger == nil {
			log.Print("-runs needs a ledger")
			return exitError
		}
		if err := printRuns(stdout, ledger); err != nil {
			log.Printf("Listing runs: %v", err)
			return exitError
		}
		return exitOK
	}
	if resume && ledger == nil {
		log.Print("-resume needs a ledger")
		return exitError
	}

	var memoryLimit int64
	switch {
	case memLimitMB > 0:
		memoryLimit = int64(memLimitMB) << 20
	case memLimitMB == 0:
		memoryLimit = warp.ComputeMemoryLimit(warp.DefaultMemoryFraction, verbose)
	}

	cache := cog.NewChunkCache(int64(cacheMB) << 20)
	defer cache.Close()

	fmt.Fprintf(stdout, "rasterbatch %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Fprintf(stdout, "  %-14s %s\n", "Job:", jobPath)
	fmt.Fprintf(stdout, "  %-14s %d raster(s)\n", "Items:", len(job.Items))
	if ledgerPath != "" {
		fmt.Fprintf(stdout, "  %-14s %s\n", "Ledger:", ledgerPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	runner := &batch.Runner{
		Ledger:      ledger,
		Cache:       cache,
		Concurrency: concurrency,
		MemoryLimit: memoryLimit,
		Resume:      resume,
		Verbose:     verbose,
		Progress:    progress,
	}
	sum, err := runner.Run(ctx, job)
	if err != nil {
		log.Printf("Batch: %v", err)
		return exitError
	}

	for _, r := range sum.Results {
		if r.Status == batch.StatusOK {
			fmt.Fprintf(stdout, "Raster saved to %s with %gx%g resolution in CRS %s.\n", r.Output, r.ResolutionX, r.ResolutionY, r.TargetCRS)
		}
	}
	fmt.Fprintf(stdout, "Done: %d succeeded, %d failed, %d skipped in %s", sum.Succeeded, sum.Failed, sum.Skipped,
		warp.FormatDuration(time.Since(start)))
	if sum.RunID != "" {
		fmt.Fprintf(stdout, " (run %s)", sum.RunID)
	}
	fmt.Fprintln(stdout)
	if sum.Failed > 0 {
		return exitFailed
	}
	return exitOK
}

func printRuns(w io.Writer, l *batch.Ledger) error {
	runs, err := l.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %s  ok=%d failed=%d  %s  %s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Succeeded, r.Failed, finished, r.JobFile)
	}
	return nil
}
