package achievement

import (
	"context"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/rediskey"

	"gorm.io/gorm/clause"
)

// advanceStreak moves the shared cursor to userID and returns the user's
// current run length. Runs do not carry over a business day boundary.
func (e *Evaluator) advanceStreak(ctx context.Context, userID string, at time.Time) (int64, error) {
	release, err := e.locker.Acquire(ctx, rediskey.StreakLockKey)
	if err != nil {
		return 0, fmt.Errorf("lock streak cursor: %w", err)
	}
	defer release()

	cursor, err := e.cursors.FindOne(ctx, &StreakCursor{Scope: globalStreak})
	if err != nil {
		return 0, fmt.Errorf("read streak cursor: %w", err)
	}

	day := e.cal.DayKey(at)
	count := int64(1)
	if cursor != nil && cursor.LastUserID == userID && cursor.Day == day {
		count = cursor.Count + 1
	}

	next := &StreakCursor{
		Scope:      globalStreak,
		LastUserID: userID,
		Count:      count,
		Day:        day,
		UpdatedAt:  e.now().UTC(),
	}
	err = e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_user_id", "count", "day", "updated_at"}),
		}).
		Create(next).Error
	if err != nil {
		return 0, fmt.Errorf("save streak cursor: %w", err)
	}
	return count, nil
}
