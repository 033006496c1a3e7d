package points

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/rediskey"
	"helpdesk-gamification/services/ledger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// countsTowardMilestone reports whether a freshly written entry is one of
// the day's qualifying events.
func countsTowardMilestone(e *ledger.PointEvent) bool {
	switch e.EventType {
	case ledger.TicketOpened:
		return !e.BoolDetail(ledger.DetailDuplicateDetection)
	case ledger.AssignToSelf:
		return e.PointsAwarded > 0
	}
	return false
}

// checkMilestone rescans the user's business day and awards at most one
// threshold bonus. It never fails the intake request.
func (s *Service) checkMilestone(ctx context.Context, ev *Event, now time.Time) {
	log := zap.L().With(logger.TraceFields(ctx)...).With(zap.String("user_id", ev.UserID))

	release, err := s.locker.Acquire(ctx, rediskey.MilestoneLock(ev.UserID, s.cal.DayKey(now)))
	if err != nil {
		log.Error("failed to lock milestone check", zap.Error(err))
		return
	}
	defer release()

	from, to := s.cal.Bounds(now)
	today, err := s.ledger.Find(ctx, ledger.Filter{
		UserID: ev.UserID,
		Types:  []ledger.EventType{ledger.TicketOpened, ledger.AssignToSelf, ledger.MilestoneBonus},
		From:   from,
		To:     to,
	})
	if err != nil {
		log.Error("failed to scan milestone events", zap.Error(err))
		return
	}

	var count int64
	rewarded := map[int64]bool{}
	for _, e := range today {
		if e.EventType == ledger.MilestoneBonus {
			if t, ok := e.IntDetail(ledger.DetailThreshold); ok {
				rewarded[t] = true
			}
			continue
		}
		if countsTowardMilestone(e) {
			count++
		}
	}

	for _, threshold := range milestoneThresholds {
		if count < threshold || rewarded[threshold] {
			continue
		}

		bonus := &ledger.PointEvent{
			UserID:        ev.UserID,
			Username:      ev.Username,
			EventType:     ledger.MilestoneBonus,
			PointsAwarded: milestoneBonus,
			Details: datatypes.JSONMap{
				ledger.DetailReason:    fmt.Sprintf("Milestone: %d tickets today", threshold),
				ledger.DetailThreshold: threshold,
			},
			CreatedAt: now,
		}
		if err := s.ledger.Append(ctx, bonus); err != nil {
			log.Error("failed to award milestone", zap.Int64("threshold", threshold), zap.Error(err))
			return
		}
		milestonesAwarded.WithLabelValues(strconv.FormatInt(threshold, 10)).Inc()

		msg := fmt.Sprintf("🎉 %s reached %d tickets today!", ev.Username, threshold)
		if _, err := s.publisher.Broadcast(ctx, msg, ev.UserID); err != nil {
			log.Warn("failed to broadcast milestone", zap.Error(err))
		}
		log.Info("milestone awarded", zap.Int64("threshold", threshold), zap.Int64("count", count))
		return
	}
}
