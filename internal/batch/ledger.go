package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Outcome of one raster in a run.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one execution of a job file.
type Run struct {
	ID         string `gorm:"primaryKey;size:36"`
	JobFile    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Succeeded  int
	Failed     int
}

// Result records the outcome of one raster.
type Result struct {
	ID                 uint   `gorm:"primaryKey"`
	RunID              string `gorm:"index;size:36"`
	Input              string
	Output             string
	Status             string `gorm:"index"`
	SourceCRS          string
	TargetCRS          string
	Kernel             string
	NoData             string
	Width              int
	Height             int
	Bands              int
	ResolutionX        float64
	ResolutionY        float64
	Footprint          string // WKT polygon in the target CRS
	Pixels             int64
	NoDataPixels       int64
	ProjectionFailures int64
	Error              string
	DurationMS         int64
	CreatedAt          time.Time
}

// Ledger persists runs and results in a SQLite database.
type Ledger struct {
	db *gorm.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}, &Result{}); err != nil {
		return nil, fmt.Errorf("migrating ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun inserts a new run with a fresh id.
func (l *Ledger) StartRun(jobFile string) (*Run, error) {
	run := &Run{ID: uuid.New().String(), JobFile: jobFile, StartedAt: time.Now().UTC()}
	if err := l.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

// Record stores one result and updates the run's counters.
func (l *Ledger) Record(run *Run, res *Result) error {
	res.RunID = run.ID
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(res).Error; err != nil {
			return fmt.Errorf("recording result for %s: %w", res.Input, err)
		}
		col := "succeeded"
		if res.Status != StatusOK {
			col = "failed"
		}
		if err := tx.Model(run).UpdateColumn(col, gorm.Expr(col+" + ?", 1)).Error; err != nil {
			return fmt.Errorf("updating run %s: %w", run.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if res.Status == StatusOK {
		run.Succeeded++
	} else {
		run.Failed++
	}
	return nil
}

// FinishRun stamps the run's end time.
func (l *Ledger) FinishRun(run *Run) error {
	now := time.Now().UTC()
	if err := l.db.Model(run).Update("finished_at", now).Error; err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	return l.db.First(run, "id = ?", run.ID).Error
}

// Runs lists all runs, newest first.
func (l *Ledger) Runs() ([]Run, error) {
	var runs []Run
	err := l.db.Order("started_at desc").Find(&runs).Error
	return runs, err
}

// Results lists the results of one run in processing order.
func (l *Ledger) Results(runID string) ([]Result, error) {
	var results []Result
	err := l.db.Where("run_id = ?", runID).Order("id").Find(&results).Error
	return results, err
}

// LastSuccess returns the most recent successful result for input, or
// gorm.ErrRecordNotFound.
func (l *Ledger) LastSuccess(input string) (*Result, error) {
	var res Result
	err := l.db.Where("input = ? AND status = ?", input, StatusOK).Order("id desc").First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}
