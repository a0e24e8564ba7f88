package usecase

import (
	"context"
	"fmt"
	"time"

	applogger "QuorumFeed/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the periodic work: price sweeps, pair refresh, registry
// snapshots, health passes and staking scans. Each job is independent; one
// job's panic or overrun never stalls the others.
type Scheduler struct {
	cron *cron.Cron
	l    *applogger.Logger
	ctx  context.Context
}

func NewScheduler(l *applogger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		l:    l,
	}
}

// Every registers a job to run at a fixed interval. Jobs receive the root
// context passed to Start.
func (s *Scheduler) Every(interval time.Duration, name string, job func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: non-positive interval for %s", name)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		start := time.Now()
		job(s.ctx)
		s.l.Debug("scheduled job done",
			applogger.String("job", name),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}
	return nil
}

// Start begins running jobs on their intervals.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.l.Info("scheduler started", applogger.Int("jobs", len(s.cron.Entries())))
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.l.Info("scheduler stopped")
}
