// Package janitor periodically removes finished tasks so the record store
// does not grow without bound.
package janitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger removes terminal tasks that completed before a cutoff.
type Purger interface {
	PurgeTerminal(before time.Time) int
}

type Janitor struct {
	purger    Purger
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// New creates a janitor that runs on a cron schedule (standard five-field
// syntax or descriptors such as "@every 1m") and keeps finished tasks for
// retention.
func New(p Purger, schedule string, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		purger:    p,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
		now:       time.Now,
	}
}

func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.schedule, "retention", j.retention.String())
	return nil
}

// Stop prevents further sweeps and waits for a running one to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep purges once and returns the number of removed tasks.
func (j *Janitor) Sweep() int {
	n := j.purger.PurgeTerminal(j.now().Add(-j.retention))
	if n > 0 {
		j.logger.Info("purged finished tasks", "count", n)
	}
	return n
}
