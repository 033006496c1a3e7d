package notify

import (
	"time"

	"gorm.io/datatypes"
)

type BroadcastMessage struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Message   string    `gorm:"column:message" json:"message"`
	IsActive  bool      `gorm:"column:is_active;index" json:"is_active"`
	CreatedBy string    `gorm:"column:created_by" json:"created_by"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (BroadcastMessage) TableName() string { return "broadcast_messages" }

type Notification struct {
	ID        string            `gorm:"column:id;primaryKey" json:"id"`
	UserID    string            `gorm:"column:user_id;index" json:"user_id"`
	Type      string            `gorm:"column:type" json:"type"`
	Title     string            `gorm:"column:title" json:"title"`
	Message   string            `gorm:"column:message" json:"message"`
	IsRead    bool              `gorm:"column:is_read" json:"is_read"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

const (
	TypeKudos      = "kudos"
	TypeBadge      = "badge"
	TypePerfectDay = "perfect_day"
)

func Models() []any {
	return []any{&BroadcastMessage{}, &Notification{}}
}
