package achievement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/bizday"
	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the top scorer job once per business day.
type Scheduler struct {
	enqueuer     task.Enqueuer
	cal          bizday.Calendar
	hour, minute int
	now          func() time.Time
}

func NewScheduler(cfg *config.Config, enqueuer task.Enqueuer) (*Scheduler, error) {
	runAt := cfg.Achievement.WithDefaults().TopScorerRunAt
	at, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, fmt.Errorf("invalid ACHIEVEMENT.TOP_SCORER_RUN_AT %q: %w", runAt, err)
	}
	return &Scheduler{
		enqueuer: enqueuer,
		cal:      bizday.New(cfg.Scoring.WithDefaults().BusinessOffset),
		hour:     at.Hour(),
		minute:   at.Minute(),
		now:      time.Now,
	}, nil
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started top scorer scheduler")

	for {
		now := s.now()
		next := s.cal.Next(now, s.hour, s.minute)
		wait := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if err := s.runDaily(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue top scorer job", zap.Error(err))
			}
		case <-ctx.Done():
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// runDaily enqueues the job for the business day before now. The task id
// keeps several workers from enqueueing the same day twice.
func (s *Scheduler) runDaily(ctx context.Context) error {
	day := s.cal.DayKey(s.cal.Local(s.now()).AddDate(0, 0, -1))

	t, err := NewTopScorerTask(day)
	if err != nil {
		return err
	}
	_, err = s.enqueuer.Enqueue(ctx, t, asynq.TaskID("top_scorer:"+day))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("[Scheduler] top scorer job already enqueued", zap.String("day", day))
		return nil
	}
	if err != nil {
		return err
	}
	zap.L().Info("[Scheduler] top scorer job enqueued", zap.String("day", day))
	return nil
}
