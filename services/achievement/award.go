package achievement

import (
	"context"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/bizday"
	"helpdesk-gamification/pkg/rediskey"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// Award records badge for the user's business day. It reports false when
// the user already holds it that day.
func (e *Evaluator) Award(ctx context.Context, userID, username, day string, badge BadgeID, evidence map[string]any) (bool, error) {
	release, err := e.locker.Acquire(ctx, rediskey.BadgeLock(userID, day, string(badge)))
	if err != nil {
		return false, fmt.Errorf("lock badge %s: %w", badge, err)
	}
	defer release()

	meta := datatypes.JSONMap{}
	for k, v := range evidence {
		meta[k] = v
	}
	rec := &BadgeAward{
		ID:         e.node.Generate().String(),
		UserID:     userID,
		Username:   username,
		BadgeID:    badge,
		AwardDay:   day,
		AchievedAt: e.now().UTC(),
		IsActive:   true,
		Metadata:   meta,
	}
	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}, {Name: "award_day"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("award %s: %w", badge, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	badgesAwarded.WithLabelValues(string(badge)).Inc()
	log := e.log(ctx).With(zap.String("user_id", userID), zap.String("badge_id", string(badge)), zap.String("day", day))
	log.Info("badge awarded")

	b, _ := e.catalog.Get(badge)
	err = e.publisher.Notify(ctx, &notify.Notification{
		UserID:   userID,
		Type:     notify.TypeBadge,
		Title:    "New badge: " + b.Name,
		Message:  b.Description,
		Metadata: datatypes.JSONMap{"badge_id": string(badge), detailDay: day},
	})
	if err != nil {
		log.Warn("failed to send badge notification", zap.Error(err))
	}

	if _, err := e.checkPerfectDay(ctx, userID, username, day); err != nil {
		return true, err
	}
	return true, nil
}

// checkPerfectDay pays the perfect day bonus once per user and day when the
// user holds every positive badge and no negative one.
func (e *Evaluator) checkPerfectDay(ctx context.Context, userID, username, day string) (bool, error) {
	release, err := e.locker.Acquire(ctx, rediskey.PerfectDayLock(userID, day))
	if err != nil {
		return false, fmt.Errorf("lock perfect day: %w", err)
	}
	defer release()

	awards, err := e.Awards(ctx, userID, day)
	if err != nil {
		return false, err
	}
	held := make(map[BadgeID]bool, len(awards))
	for _, a := range awards {
		held[a.BadgeID] = true
	}
	if !e.catalog.PerfectDay(held) {
		return false, nil
	}

	bonuses, err := e.ledger.Find(ctx, ledger.Filter{
		UserID: userID,
		Types:  []ledger.EventType{ledger.AchievementBonus},
	})
	if err != nil {
		return false, err
	}
	for _, b := range bonuses {
		if b.StringDetail(ledger.DetailKind) == perfectDayKind && b.StringDetail(detailDay) == day {
			return false, nil
		}
	}

	err = e.ledger.Append(ctx, &ledger.PointEvent{
		UserID:        userID,
		Username:      username,
		EventType:     ledger.AchievementBonus,
		PointsAwarded: perfectDayBonus,
		Details: datatypes.JSONMap{
			ledger.DetailReason: "Perfect day: every positive badge and no negative one",
			ledger.DetailKind:   perfectDayKind,
			detailDay:           day,
		},
		CreatedAt: e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("award perfect day: %w", err)
	}
	perfectDays.Inc()

	sent, err := e.publisher.NotifyAll(ctx, notify.Notification{
		Type:     notify.TypePerfectDay,
		Title:    "Perfect day!",
		Message:  fmt.Sprintf("🌟 %s earned every badge on %s!", username, day),
		Metadata: datatypes.JSONMap{"user_id": userID, detailDay: day},
	})
	log := e.log(ctx).With(zap.String("user_id", userID), zap.String("day", day))
	if err != nil {
		log.Warn("failed to announce perfect day", zap.Error(err))
	} else {
		log.Info("perfect day awarded", zap.Int("notified", sent))
	}
	return true, nil
}

// dayStart resolves a business day key to its first instant.
func (e *Evaluator) dayStart(day string) (time.Time, error) {
	t, err := time.ParseInLocation(bizday.DayLayout, day, e.cal.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t.UTC(), nil
}
