package run

import "time"

// TableStatus is the final state of one table within a run.
type TableStatus string

const (
	TableCompleted TableStatus = "completed"
	TableFailed    TableStatus = "failed"
	TableSkipped   TableStatus = "skipped"
)

// Skip reasons.
const (
	ReasonDependencyFailed = "dependency_failed"
	ReasonRunTimeout       = "run_timeout"
)

// RunStatus is the aggregate state of a run.
type RunStatus string

const (
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// TableOutcome is the per-table entry of a run report.
type TableOutcome struct {
	Table    string      `json:"table"`
	Status   TableStatus `json:"status"`
	Strategy string      `json:"strategy,omitempty"`

	Extracted int   `json:"extracted"`
	Rejected  int   `json:"rejected"`
	Warnings  int   `json:"warnings"`
	Loaded    int64 `json:"loaded"`

	// RowCount is the target table's size after the load, for verification.
	// Negative when not measured (dry runs, failures).
	RowCount int64 `json:"row_count"`

	// ResumePage carries the extraction checkpoint of a failed paginated
	// table, so a follow-up attempt can pick up where this one stopped.
	ResumePage int `json:"resume_page,omitempty"`

	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the finalized account of one sync run, persisted to the
// baseline store's run history.
type Report struct {
	RunID    string         `json:"run_id"`
	Job      string         `json:"job"`
	DryRun   bool           `json:"dry_run,omitempty"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Status   RunStatus      `json:"status"`
	Tables   []TableOutcome `json:"tables"`
}

// Counts tallies table outcomes by status.
func (r Report) Counts() (completed, failed, skipped int) {
	for _, t := range r.Tables {
		switch t.Status {
		case TableCompleted:
			completed++
		case TableFailed:
			failed++
		case TableSkipped:
			skipped++
		}
	}
	return
}

// aggregate derives the run status from the table outcomes.
func aggregate(tables []TableOutcome) RunStatus {
	completed, failed, skipped := Report{Tables: tables}.Counts()
	switch {
	case failed == 0 && skipped == 0:
		return RunCompleted
	case completed == 0 && failed > 0:
		return RunFailed
	default:
		return RunPartiallyFailed
	}
}
