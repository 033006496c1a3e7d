package achievement

import (
	"context"
	"fmt"

	"helpdesk-gamification/pkg/db/option"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type counter string

const (
	fastClosures      counter = "fast_closures"
	fastResponseCount counter = "fast_response_count"
	lateShiftStarts   counter = "late_shift_starts"
	slowResponses     counter = "slow_responses"
)

// ensureStats creates the user's row for the day if it does not exist yet.
func (e *Evaluator) ensureStats(ctx context.Context, userID, day string) error {
	row := &DailyStats{
		ID:        e.node.Generate().String(),
		UserID:    userID,
		Day:       day,
		UpdatedAt: e.now().UTC(),
	}
	err := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("create daily stats: %w", err)
	}
	return nil
}

func (e *Evaluator) increment(ctx context.Context, userID, day string, c counter) (*DailyStats, error) {
	return e.updateStats(ctx, userID, day, map[string]any{
		string(c): gorm.Expr(string(c) + " + 1"),
	})
}

// recordStreak stores the current run length and raises the day's maximum.
func (e *Evaluator) recordStreak(ctx context.Context, userID, day string, current int64) (*DailyStats, error) {
	return e.updateStats(ctx, userID, day, map[string]any{
		"consecutive_current": current,
		"consecutive_max":     gorm.Expr("CASE WHEN consecutive_max < ? THEN ? ELSE consecutive_max END", current, current),
	})
}

func (e *Evaluator) updateStats(ctx context.Context, userID, day string, updates map[string]any) (*DailyStats, error) {
	if err := e.ensureStats(ctx, userID, day); err != nil {
		return nil, err
	}

	updates["updated_at"] = e.now().UTC()
	err := e.db.WithContext(ctx).
		Model(&DailyStats{}).
		Where("user_id = ? AND day = ?", userID, day).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("update daily stats: %w", err)
	}
	return e.Stats(ctx, userID, day)
}

// Stats returns the user's counters for a business day, or nil.
func (e *Evaluator) Stats(ctx context.Context, userID, day string) (*DailyStats, error) {
	return e.stats.FindOne(ctx, &DailyStats{UserID: userID, Day: day})
}

func (e *Evaluator) Awards(ctx context.Context, userID, day string) ([]*BadgeAward, error) {
	return e.awards.Find(ctx, &BadgeAward{UserID: userID, AwardDay: day},
		option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}),
		option.WithSortBy(option.QuerySortBy{SortBy: "achieved_at"}),
	)
}
