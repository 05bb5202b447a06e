package task

import (
	"context"
	"time"

	"feedloop-engagement/pkg/config"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	clock   clockwork.Clock

	hour   int
	minute int
}

func NewScheduler(svc *Service, clock clockwork.Clock, cfg *config.Config) *Scheduler {
	return &Scheduler{
		service: svc,
		clock:   clock,
		hour:    cfg.Referral.SweepHour,
		minute:  cfg.Referral.SweepMinute,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

// run sleeps until the configured time of day, fires, and repeats.
func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started referral expiry scheduler")

	for {
		now := s.clock.Now()
		next := nextRunTime(now, s.hour, s.minute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-s.clock.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := s.clock.Now()
	zap.L().Info("[Scheduler] running daily expiry enqueue job")

	if err := s.service.EnqueueAllExpiryJobs(ctx); err != nil {
		zap.L().Error("[Scheduler] failed enqueue all businesses", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished enqueue all businesses",
		zap.Duration("duration", s.clock.Since(start)),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
