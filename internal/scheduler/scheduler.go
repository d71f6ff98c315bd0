// Package scheduler runs periodic housekeeping jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/crucial707/equipment-manager/internal/metrics"
	"github.com/crucial707/equipment-manager/internal/session"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled function. Spec is a cron expression or a descriptor such as "@every 1m".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context)
}

// Start registers jobs and starts the scheduler. It stops, waiting for running
// jobs, when ctx is cancelled. An invalid spec fails before anything starts.
func Start(ctx context.Context, log *zap.Logger, jobs ...Job) (*cron.Cron, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	for _, j := range jobs {
		job := j
		if _, err := c.AddFunc(job.Spec, func() {
			start := time.Now()
			job.Run(ctx)
			log.Debug("scheduler: job finished",
				zap.String("job", job.Name),
				zap.Duration("took", time.Since(start)))
		}); err != nil {
			return nil, fmt.Errorf("scheduler: invalid spec %q for job %s: %w", job.Spec, job.Name, err)
		}
		log.Info("scheduler: added job", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Info("scheduler: stopped")
	}()
	return c, nil
}

// SessionSweeper removes expired sessions from an in-memory store every minute
// and reports the number still active.
func SessionSweeper(store *session.MemoryStore, log *zap.Logger) Job {
	return Job{
		Name: "session-sweeper",
		Spec: "@every 1m",
		Run: func(context.Context) {
			before := store.Len()
			remaining := store.Sweep(time.Now())
			metrics.SetActiveSessions(remaining)
			if removed := before - remaining; removed > 0 && log != nil {
				log.Info("scheduler: expired sessions removed", zap.Int("removed", removed))
			}
		},
	}
}
