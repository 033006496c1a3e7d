package ledger

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	TicketOpened           EventType = "TICKET_OPENED"
	TicketClosed           EventType = "TICKET_CLOSED"
	TicketClosedAssist     EventType = "TICKET_CLOSED_ASSIST"
	TicketReopened         EventType = "TICKET_REOPENED"
	TicketDeleted          EventType = "TICKET_DELETED"
	ClosureReversed        EventType = "CLOSURE_REVERSED"
	NoteAdded              EventType = "NOTE_ADDED"
	NoteDeleted            EventType = "NOTE_DELETED"
	AttachmentAdded        EventType = "ATTACHMENT_ADDED"
	AttachmentDeleted      EventType = "ATTACHMENT_DELETED"
	TicketLinkAdded        EventType = "TICKET_LINK_ADDED"
	TicketLinkRemoved      EventType = "TICKET_LINK_REMOVED"
	AssignToSelf           EventType = "ASSIGN_TO_SELF"
	AssignmentAcceptedFast EventType = "ASSIGNMENT_ACCEPTED_FAST"
	AssignmentAcceptedSlow EventType = "ASSIGNMENT_ACCEPTED_SLOW"
	ScheduleItemAdded      EventType = "SCHEDULE_ITEM_ADDED"
	ScheduleItemDeleted    EventType = "SCHEDULE_ITEM_DELETED"
	MeetingCollaboration   EventType = "MEETING_COLLABORATION"
	BreakExceeded          EventType = "BREAK_EXCEEDED"
	MissingShiftStart      EventType = "MISSING_SHIFT_START"
	ShiftStarted           EventType = "SHIFT_STARTED"
	KudosReceived          EventType = "KUDOS_RECEIVED"
	KudosRemoved           EventType = "KUDOS_REMOVED"
	MilestoneBonus         EventType = "MILESTONE_BONUS"
	AchievementBonus       EventType = "ACHIEVEMENT_BONUS"
)

// Detail keys shared by the writers and readers of PointEvent.Details.
const (
	DetailReason             = "reason"
	DetailDuplicateDetection = "duplicate_detection"
	DetailDuplicateOf        = "duplicate_of"
	DetailSimilarity         = "similarity"
	DetailClosedBy           = "closed_by"
	DetailReversedEventIDs   = "reversed_event_ids"
	DetailThreshold          = "threshold"
	DetailKind               = "kind"
)

// PointEvent is one signed point delta. Rows are never rewritten except
// for SupersededBy, which retires an entry in favour of a later one.
type PointEvent struct {
	ID              string            `gorm:"column:id;primaryKey" json:"id"`
	UserID          string            `gorm:"column:user_id;not null;index:idx_point_events_user_created,priority:1" json:"userId"`
	Username        string            `gorm:"column:username" json:"username"`
	EventType       EventType         `gorm:"column:event_type;type:varchar(64);index" json:"eventType"`
	PointsAwarded   int64             `gorm:"column:points_awarded" json:"pointsAwarded"`
	RelatedTicketID string            `gorm:"column:related_ticket_id;index" json:"relatedTicketId,omitempty"`
	Details         datatypes.JSONMap `gorm:"column:details" json:"details"`
	ReversesID      string            `gorm:"column:reverses_id;index" json:"reversesId,omitempty"`
	SupersededBy    string            `gorm:"column:superseded_by;index" json:"supersededBy,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;index:idx_point_events_user_created,priority:2" json:"createdAt"`
}

func (PointEvent) TableName() string { return "point_events" }

func (e *PointEvent) Effective() bool {
	return e.SupersededBy == ""
}

func (e *PointEvent) Reason() string {
	return e.StringDetail(DetailReason)
}

func (e *PointEvent) StringDetail(key string) string {
	s, _ := e.Details[key].(string)
	return s
}

func (e *PointEvent) BoolDetail(key string) bool {
	b, _ := e.Details[key].(bool)
	return b
}

// StringsDetail reads a list of strings, whether freshly built or decoded
// from JSON.
func (e *PointEvent) StringsDetail(key string) []string {
	switch v := e.Details[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// IntDetail reads a numeric detail. Details loaded from the database hold
// json.Number; freshly built ones hold Go ints or floats.
func (e *PointEvent) IntDetail(key string) (int64, bool) {
	switch v := e.Details[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// ProcessedEvent remembers an intake event id so redeliveries are answered
// from the first outcome instead of scoring twice.
type ProcessedEvent struct {
	ID            string    `gorm:"column:id;primaryKey"`
	UserID        string    `gorm:"column:user_id"`
	EventType     string    `gorm:"column:event_type"`
	PointsAwarded int64     `gorm:"column:points_awarded"`
	Completed     bool      `gorm:"column:completed"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// Filter selects ledger entries. Zero fields do not filter; superseded
// entries are skipped unless IncludeSuperseded is set.
type Filter struct {
	UserID            string
	TicketID          string
	Types             []EventType
	Reverses          []string
	From              time.Time
	To                time.Time
	IncludeSuperseded bool
}

type Total struct {
	UserID   string `gorm:"column:user_id" json:"userId"`
	Username string `gorm:"column:username" json:"username"`
	Total    int64  `gorm:"column:total" json:"total"`
}

func Models() []any {
	return []any{&PointEvent{}, &ProcessedEvent{}}
}
