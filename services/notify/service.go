package notify

import (
	"context"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/db/option"
	"helpdesk-gamification/pkg/repository"
	"helpdesk-gamification/services/helpdesk"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher writes the two kinds of messages the scoring core emits. Delivery
// to browsers is someone else's job.
type Publisher interface {
	// Broadcast retires every active broadcast and publishes message.
	Broadcast(ctx context.Context, message, createdBy string) (*BroadcastMessage, error)
	Notify(ctx context.Context, n *Notification) error
	// NotifyAll fans one notification out to every active user.
	NotifyAll(ctx context.Context, n Notification) (int, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	directory helpdesk.Reader

	broadcasts    repository.Repository[BroadcastMessage]
	notifications repository.Repository[Notification]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Directory helpdesk.Reader
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		directory:     p.Directory,
		broadcasts:    repository.ProvideStore[BroadcastMessage](p.DB),
		notifications: repository.ProvideStore[Notification](p.DB),
		now:           time.Now,
	}
}

func (s *Service) Broadcast(ctx context.Context, message, createdBy string) (*BroadcastMessage, error) {
	msg := &BroadcastMessage{
		ID:        s.node.Generate().String(),
		Message:   message,
		IsActive:  true,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&BroadcastMessage{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate broadcasts: %w", err)
		}
		return s.broadcasts.WithTrx(tx).Create(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("broadcast published", zap.String("broadcast_id", msg.ID), zap.String("created_by", createdBy))
	return msg, nil
}

func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = s.node.Generate().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	return s.notifications.Create(ctx, n)
}

func (s *Service) NotifyAll(ctx context.Context, n Notification) (int, error) {
	users, err := s.directory.ListActiveUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	at := s.now().UTC()
	batch := make([]*Notification, 0, len(users))
	for _, u := range users {
		c := n
		c.ID = s.node.Generate().String()
		c.UserID = u.ID
		c.CreatedAt = at
		batch = append(batch, &c)
	}

	if err := s.notifications.BatchCreate(ctx, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// Active returns the broadcast currently shown, or nil.
func (s *Service) Active(ctx context.Context) (*BroadcastMessage, error) {
	return s.broadcasts.FindOne(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}),
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
	)
}
