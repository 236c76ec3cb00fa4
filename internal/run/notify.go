package run

import (
	"context"
	"log"
	"time"
)

// Notifier receives the finalized report of every run. Implementations
// deliver it wherever operators watch: the default writes to the process
// log.
type Notifier interface {
	Notify(ctx context.Context, rep Report)
}

// LogNotifier logs a one-line run summary plus a line per failed or skipped
// table.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, rep Report) {
	completed, failed, skipped := rep.Counts()
	log.Printf("run %s: job=%s status=%s completed=%d failed=%d skipped=%d elapsed=%s",
		rep.RunID, rep.Job, rep.Status, completed, failed, skipped,
		rep.Finished.Sub(rep.Started).Round(10*time.Millisecond))
	for _, t := range rep.Tables {
		switch t.Status {
		case TableFailed:
			log.Printf("run %s: table=%s FAILED: %s", rep.RunID, t.Table, t.Error)
		case TableSkipped:
			log.Printf("run %s: table=%s skipped: %s", rep.RunID, t.Table, t.Reason)
		}
	}
}
