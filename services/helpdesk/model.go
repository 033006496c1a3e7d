package helpdesk

import "time"

// Ticket is the helpdesk's own ticket row. This repository only reads it.
type Ticket struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	Subject       string     `gorm:"column:subject" json:"subject"`
	Priority      string     `gorm:"column:priority" json:"priority"`
	Source        string     `gorm:"column:source" json:"source"`
	CreatedBy     string     `gorm:"column:created_by;index" json:"created_by"`
	CreatedByName string     `gorm:"column:created_by_name" json:"created_by_name"`
	AssignedTo    string     `gorm:"column:assigned_to;index" json:"assigned_to"`
	AssignedAt    *time.Time `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	ClosedBy      string     `gorm:"column:closed_by;index:idx_tickets_closed,priority:1" json:"closed_by"`
	CompletedAt   *time.Time `gorm:"column:completed_at;index:idx_tickets_closed,priority:2" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Ticket) TableName() string { return "tickets" }

// ReferenceTime is when work on the ticket started for userID: creation
// for the creator, assignment for anyone else. Tickets never assigned fall
// back to creation.
func (t *Ticket) ReferenceTime(userID string) time.Time {
	if t.CreatedBy == userID || t.AssignedAt == nil {
		return t.CreatedAt
	}
	return *t.AssignedAt
}

type Note struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TicketID  string    `gorm:"column:ticket_id;index:idx_ticket_notes_author,priority:1"`
	UserID    string    `gorm:"column:user_id;index:idx_ticket_notes_author,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Note) TableName() string { return "ticket_notes" }

// ShiftSchedule is one planned shift. StartTime is business wall-clock "HH:MM".
type ShiftSchedule struct {
	ID        string `gorm:"column:id;primaryKey"`
	UserID    string `gorm:"column:user_id;index:idx_shift_schedules_day,priority:1"`
	Day       string `gorm:"column:day;index:idx_shift_schedules_day,priority:2"`
	StartTime string `gorm:"column:start_time"`
}

func (ShiftSchedule) TableName() string { return "shift_schedules" }

type User struct {
	ID       string `gorm:"column:id;primaryKey"`
	Username string `gorm:"column:username"`
	IsActive bool   `gorm:"column:is_active"`
}

func (User) TableName() string { return "users" }

// Models lists the tables the helpdesk owns, for test migrations.
func Models() []any {
	return []any{&Ticket{}, &Note{}, &ShiftSchedule{}, &User{}}
}
