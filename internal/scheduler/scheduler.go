// Package scheduler runs the time-driven trigger scan on a cron cadence
// inside the serve command. One-shot hosts keep calling the scan directly.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"taskpilot/internal/engine"
)

type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// cron expressions use the standard five-field form plus @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a parseable cron expression.
func ValidateSchedule(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// Start schedules the engine's scan on the config cron expression and begins
// running it. Overlapping runs are skipped rather than stacked.
func Start(ctx context.Context, eng engine.Engine, expr string, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		summary, err := eng.RunScheduledScan(ctx)
		if err != nil {
			log.Error("scheduled scan", "error", err)
			return
		}
		log.Info("scheduled scan", "users", summary.UsersScanned, "tasks", summary.TasksScanned, "records", summary.RecordsWritten)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Scheduler{cron: c, log: log}, nil
}

// Stop halts scheduling and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
