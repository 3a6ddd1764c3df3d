// Package scheduler runs bubble's periodic background work — the only
// job registered is the base image refresh — on robfig/cron/v3. The teacher's go.mod already carries robfig/cron/v3
// but never imports it anywhere in pkg/devclaw or pkg/goclaw; this is
// the home that dependency never got, wired to the cadence
// config.ImagesConfig.Refresh already names ("weekly"/"daily"/"never").
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Spec maps bubble's human cadence names to cron expressions. "never"
// has no entry, so RegisterCadence registers nothing for it.
var Spec = map[string]string{
	"daily":  "0 4 * * *",
	"weekly": "0 4 * * 0",
}

// Scheduler wraps a cron.Cron with bubble's slog-based logging; each
// job's name appears only in its start/finish log lines.
type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger
}

// New creates a Scheduler. It does not start running until Start is
// called.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		c:      cron.New(),
		logger: logger,
	}
}

// RegisterCadence adds fn as a job running on cadence ("daily",
// "weekly"); "never" or an unrecognized cadence registers nothing and
// returns false. name is used only for log lines.
func (s *Scheduler) RegisterCadence(name, cadence string, fn func(context.Context)) bool {
	expr, ok := Spec[cadence]
	if !ok {
		return false
	}
	_, err := s.c.AddFunc(expr, func() {
		s.logger.Info("scheduled job starting", "job", name)
		fn(context.Background())
		s.logger.Info("scheduled job finished", "job", name)
	})
	if err != nil {
		s.logger.Warn("failed to register scheduled job", "job", name, "error", err)
		return false
	}
	return true
}

// Start runs the scheduler's jobs in the background.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the scheduler, blocking until any in-flight job returns.
func (s *Scheduler) Stop() { <-s.c.Stop().Done() }
