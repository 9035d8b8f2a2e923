package collector

import (
	"context"
	"log/slog"
	"time"
)

// Cycle is one schedulable collection job.
type Cycle interface {
	Run(ctx context.Context) Result
}

type Scheduler struct {
	logger   *slog.Logger
	job      Cycle
	interval time.Duration
	timeout  time.Duration
	observe  func(Result)
}

// NewScheduler runs job every interval, each run bounded by timeout. observe,
// if non-nil, receives every Result.
func NewScheduler(logger *slog.Logger, job Cycle, interval, timeout time.Duration, observe func(Result)) *Scheduler {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Scheduler{
		logger:   logger,
		job:      job,
		interval: interval,
		timeout:  timeout,
		observe:  observe,
	}
}

// Run blocks until ctx is canceled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.job.Run(cycleCtx)
	if !res.DaemonOK {
		s.logger.Warn("collection cycle finished without libvirt metrics", "cycle_id", res.CycleID)
	}
	if s.observe != nil {
		s.observe(res)
	}
}
