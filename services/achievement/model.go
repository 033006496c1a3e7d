package achievement

import (
	"time"

	"gorm.io/datatypes"
)

type BadgeID string

const (
	SpeedDemon BadgeID = "speed_demon"
	Sniper     BadgeID = "sniper"
	Lightning  BadgeID = "lightning"
	TopScorer  BadgeID = "top_scorer"
	Slowpoke   BadgeID = "slowpoke"
)

// BadgeAward is unique per user, badge and business day.
type BadgeAward struct {
	ID         string            `gorm:"column:id;primaryKey" json:"id"`
	UserID     string            `gorm:"column:user_id;not null;uniqueIndex:uq_badge_awards_user_badge_day,priority:1" json:"user_id"`
	Username   string            `gorm:"column:username" json:"username"`
	BadgeID    BadgeID           `gorm:"column:badge_id;type:varchar(32);not null;uniqueIndex:uq_badge_awards_user_badge_day,priority:2" json:"badge_id"`
	AwardDay   string            `gorm:"column:award_day;type:varchar(10);not null;uniqueIndex:uq_badge_awards_user_badge_day,priority:3" json:"award_day"`
	AchievedAt time.Time         `gorm:"column:achieved_at" json:"achieved_at"`
	IsActive   bool              `gorm:"column:is_active;default:true" json:"is_active"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (BadgeAward) TableName() string { return "badge_awards" }

// DailyStats holds one user's behavioural counters for one business day.
type DailyStats struct {
	ID                 string    `gorm:"column:id;primaryKey" json:"id"`
	UserID             string    `gorm:"column:user_id;not null;uniqueIndex:uq_badge_daily_stats_user_day,priority:1" json:"user_id"`
	Day                string    `gorm:"column:day;type:varchar(10);not null;uniqueIndex:uq_badge_daily_stats_user_day,priority:2" json:"day"`
	FastClosures       int64     `gorm:"column:fast_closures;not null;default:0" json:"fast_closures"`
	ConsecutiveCurrent int64     `gorm:"column:consecutive_current;not null;default:0" json:"consecutive_current"`
	ConsecutiveMax     int64     `gorm:"column:consecutive_max;not null;default:0" json:"consecutive_max"`
	FastResponseCount  int64     `gorm:"column:fast_response_count;not null;default:0" json:"fast_response_count"`
	LateShiftStarts    int64     `gorm:"column:late_shift_starts;not null;default:0" json:"late_shift_starts"`
	SlowResponses      int64     `gorm:"column:slow_responses;not null;default:0" json:"slow_responses"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (DailyStats) TableName() string { return "badge_daily_stats" }

// Attributes exposes the counters to badge criteria.
func (s *DailyStats) Attributes() map[string]any {
	return map[string]any{
		"fast_closures":       s.FastClosures,
		"consecutive_current": s.ConsecutiveCurrent,
		"consecutive_max":     s.ConsecutiveMax,
		"fast_response_count": s.FastResponseCount,
		"late_shift_starts":   s.LateShiftStarts,
		"slow_responses":      s.SlowResponses,
	}
}

// StreakCursor remembers who acted last on ticket creation or assignment.
type StreakCursor struct {
	Scope      string    `gorm:"column:scope;primaryKey"`
	LastUserID string    `gorm:"column:last_user_id"`
	Count      int64     `gorm:"column:count"`
	Day        string    `gorm:"column:day;type:varchar(10)"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (StreakCursor) TableName() string { return "streak_cursors" }

const globalStreak = "global"

func Models() []any {
	return []any{&BadgeAward{}, &DailyStats{}, &StreakCursor{}}
}
