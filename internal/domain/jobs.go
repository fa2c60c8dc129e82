package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ImportJobStatus tracks a bulk import through its lifecycle.
type ImportJobStatus string

const (
	ImportPending   ImportJobStatus = "pending"
	ImportRunning   ImportJobStatus = "running"
	ImportCompleted ImportJobStatus = "completed"
	ImportFailed    ImportJobStatus = "failed"
)

// ImportJob is one bulk ingest run over a URL list.
type ImportJob struct {
	ID              int64           `json:"id" db:"id"`
	SourcePath      string          `json:"source_path" db:"source_path"`
	Status          ImportJobStatus `json:"status" db:"status"`
	TotalURLs       int             `json:"total_urls" db:"total_urls"`
	ListingsCreated int             `json:"listings_created" db:"listings_created"`
	ListingsUpdated int             `json:"listings_updated" db:"listings_updated"`
	Failed          int             `json:"failed" db:"failed"`
	Error           *string         `json:"error,omitempty" db:"error"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// TaskRunStatus is the terminal state of one background task.
type TaskRunStatus string

const (
	TaskSucceeded TaskRunStatus = "succeeded"
	TaskFailed    TaskRunStatus = "failed"
	TaskSkipped   TaskRunStatus = "skipped"
)

// TaskRun records one unit of background work: a single URL inside an import
// job, or one listing recalculation.
type TaskRun struct {
	ID           int64         `json:"id" db:"id"`
	ImportJobID  *int64        `json:"import_job_id,omitempty" db:"import_job_id"`
	TaskType     string        `json:"task_type" db:"task_type"`
	Reference    string        `json:"reference" db:"reference"`
	Status       TaskRunStatus `json:"status" db:"status"`
	ListingID    *int64        `json:"listing_id,omitempty" db:"listing_id"`
	ErrorKind    *string       `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage *string       `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time     `json:"started_at" db:"started_at"`
	FinishedAt   time.Time     `json:"finished_at" db:"finished_at"`
}

// Task type names.
const (
	TaskIngestURL = "ingest_url"
	TaskRecalc    = "recalc"
)

// ScoreSnapshot is one historical metrics row, written on every metrics apply.
type ScoreSnapshot struct {
	ID                     int64            `json:"id" db:"id"`
	ListingID              int64            `json:"listing_id" db:"listing_id"`
	PriceUSD               *decimal.Decimal `json:"price_usd,omitempty" db:"price_usd"`
	AdjustedPriceUSD       *decimal.Decimal `json:"adjusted_price_usd,omitempty" db:"adjusted_price_usd"`
	ScoreComposite         *float64         `json:"score_composite,omitempty" db:"score_composite"`
	DollarPerCPUMarkSingle *float64         `json:"dollar_per_cpu_mark_single,omitempty" db:"dollar_per_cpu_mark_single"`
	DollarPerCPUMarkMulti  *float64         `json:"dollar_per_cpu_mark_multi,omitempty" db:"dollar_per_cpu_mark_multi"`
	PerfPerWatt            *float64         `json:"perf_per_watt,omitempty" db:"perf_per_watt"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
}
