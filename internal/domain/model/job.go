package model

import "time"

// JobStatus represents the lifecycle state of a daily analysis job.
type JobStatus string

const (
	// JobStatusRunning indicates the job is in progress. An unfinished row
	// for a trading date blocks new invocations for that date.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished without a fatal error.
	// Individual symbol or delivery failures do not prevent completion.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates an orchestrator-fatal condition.
	JobStatusFailed JobStatus = "failed"
	// JobStatusSuperseded marks an unfinished job displaced by a forced re-run.
	JobStatusSuperseded JobStatus = "superseded"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	return s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusSuperseded
}

// Terminal reports whether the status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSuperseded
}

// AnalysisJob is the record of one daily batch run: what was scheduled,
// what was processed, and how delivery went. Mutated only by the owning
// orchestrator; workers report outcomes and never touch this row.
type AnalysisJob struct {
	ID                string     `json:"id"                 db:"id"`
	TradingDate       time.Time  `json:"trading_date"       db:"trading_date"`
	Status            JobStatus  `json:"status"             db:"status"`
	StocksScheduled   int        `json:"stocks_scheduled"   db:"stocks_scheduled"`
	StocksProcessed   int        `json:"stocks_processed"   db:"stocks_processed"`
	SuccessCount      int        `json:"success_count"      db:"success_count"`
	FailureCount      int        `json:"failure_count"      db:"failure_count"`
	InsightsDelivered int        `json:"insights_delivered" db:"insights_delivered"`
	Errors            []string   `json:"errors,omitempty"   db:"errors"`
	StartedAt         time.Time  `json:"started_at"         db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS        int64      `json:"duration_ms"        db:"duration_ms"`
}

// Duration returns the recorded wall-clock time of the job.
func (j *AnalysisJob) Duration() time.Duration {
	return time.Duration(j.DurationMS) * time.Millisecond
}

// RunOptions controls a single invocation of the daily job.
type RunOptions struct {
	// DryRun resolves and logs the scheduling set without calling any
	// provider or persisting anything beyond a preview.
	DryRun bool
	// Force supersedes an unfinished job record for the same trading date
	// instead of refusing to start.
	Force bool
	// Parallelism overrides the configured analysis worker count when > 0.
	Parallelism int
}

// FinalizeJobParams carries the aggregate counters written exactly once
// when a job reaches a terminal state.
type FinalizeJobParams struct {
	ID                string
	Status            JobStatus
	StocksProcessed   int
	SuccessCount      int
	FailureCount      int
	InsightsDelivered int
	Errors            []string
}
