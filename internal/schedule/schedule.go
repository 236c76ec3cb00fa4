// Package schedule repeats a job on a cron expression. Parsing uses the
// standard five-field cron format; the job also runs once immediately at
// startup so a freshly deployed process does not wait for the first tick.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// timeNow is a test hook.
var timeNow = time.Now

// Loop runs job now and then at every cron tick until ctx is cancelled.
// The job's panics are not recovered; a scheduler wrapping a whole sync run
// should not outlive a corrupted process.
func Loop(ctx context.Context, spec string, job func(context.Context)) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("schedule: parse %q: %w", spec, err)
	}

	job(ctx)

	for {
		next := sched.Next(timeNow())
		wait := time.Until(next)
		log.Printf("schedule: next run at %s (in %s)", next.Format(time.RFC3339), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		job(ctx)
	}
}
