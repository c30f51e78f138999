package calls

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJanitorSchedule runs Reap twice a minute.
const DefaultJanitorSchedule = "@every 30s"

// Janitor periodically reaps stale sessions.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor schedules o.Reap. The schedule is a standard five-field cron
// expression or a descriptor such as "@every 30s".
func NewJanitor(o *Orchestrator, schedule string, logger *slog.Logger) (*Janitor, error) {
	if o == nil {
		return nil, fmt.Errorf("calls: janitor needs an orchestrator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		start := time.Now()
		if n := o.Reap(o.now()); n > 0 {
			logger.Info("reaped call sessions", "count", n, "duration_ms", time.Since(start).Milliseconds())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("calls: janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{cron: c, logger: logger}, nil
}

// Run starts the schedule and blocks until ctx is done. Jobs in flight are
// allowed to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}
