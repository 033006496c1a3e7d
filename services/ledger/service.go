package ledger

import (
	"context"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/db/option"
	"helpdesk-gamification/pkg/db/pagination"
	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	events    repository.Repository[PointEvent]
	processed repository.Repository[ProcessedEvent]

	claimTimeout time.Duration
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	var scoring config.Scoring
	if p.Config != nil {
		scoring = p.Config.Scoring
	}
	return &Service{
		db:           p.DB,
		node:         p.Node,
		events:       repository.ProvideStore[PointEvent](p.DB),
		processed:    repository.ProvideStore[ProcessedEvent](p.DB),
		claimTimeout: scoring.WithDefaults().ClaimTimeout,
		now:          time.Now,
	}
}

// WithTrx returns a copy of the service bound to tx.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	c.events = s.events.WithTrx(tx)
	c.processed = s.processed.WithTrx(tx)
	return &c
}

// Transaction runs fn against a service bound to one database transaction.
// fn must do all its ledger reads and writes through the service it is given.
func (s *Service) Transaction(ctx context.Context, fn func(tx *Service) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTrx(tx))
	})
}

// Append assigns ids and timestamps where missing and inserts the entries in
// order.
func (s *Service) Append(ctx context.Context, entries ...*PointEvent) error {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = s.node.Generate().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now()
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Details == nil {
			e.Details = datatypes.JSONMap{}
		}
		if _, ok := e.Details[DetailReason]; !ok {
			e.Details[DetailReason] = string(e.EventType)
		}

		if err := s.events.Create(ctx, e); err != nil {
			zap.L().With(logger.TraceFields(ctx)...).Error("failed to append point event",
				zap.String("user_id", e.UserID),
				zap.String("event_type", string(e.EventType)),
				zap.Error(err),
			)
			return fmt.Errorf("append %s for %s: %w", e.EventType, e.UserID, err)
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.events.Delete(ctx, id)
}

func (f Filter) query() *PointEvent {
	return &PointEvent{UserID: f.UserID, RelatedTicketID: f.TicketID}
}

func (f Filter) options() []option.QueryOption {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}

	opts := []option.QueryOption{
		option.WithIn("event_type", types),
		option.WithIn("reverses_id", f.Reverses),
		option.WithRange("created_at", f.From, f.To),
	}
	if !f.IncludeSuperseded {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "superseded_by", Operator: option.EQ, Value: ""}))
	}
	return opts
}

var oldestFirst = option.WithSortBy(
	option.QuerySortBy{SortBy: "created_at"},
	option.QuerySortBy{SortBy: "id"},
)

var newestFirst = option.WithSortBy(
	option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
	option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
)

// Find returns matching entries oldest first.
func (s *Service) Find(ctx context.Context, f Filter) ([]*PointEvent, error) {
	return s.events.Find(ctx, f.query(), append(f.options(), oldestFirst)...)
}

// Latest returns the newest matching entry, or nil.
func (s *Service) Latest(ctx context.Context, f Filter) (*PointEvent, error) {
	return s.events.FindOne(ctx, f.query(), append(f.options(), newestFirst)...)
}

func (s *Service) Count(ctx context.Context, f Filter) (int64, error) {
	return s.events.Count(ctx, f.query(), f.options()...)
}

// Page returns one keyset page of matching entries.
func (s *Service) Page(ctx context.Context, f Filter, p pagination.Pagination) ([]*PointEvent, *pagination.PageInfo, error) {
	p = p.Normalize()
	rows, err := s.events.Find(ctx, f.query(), append(f.options(), option.ApplyPagination(p))...)
	if err != nil {
		return nil, nil, err
	}
	return pagination.BuildCursorPageInfo(rows, p.Limit, func(e *PointEvent) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}

// Supersede retires the effective entries among ids in favour of by.
func (s *Service) Supersede(ctx context.Context, ids []string, by string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&PointEvent{}).
		Where("id IN ?", ids).
		Where("superseded_by = ?", "").
		Update("superseded_by", by).Error
	if err != nil {
		return fmt.Errorf("supersede %d entries: %w", len(ids), err)
	}
	return nil
}

// Score is the sum of the user's effective entries.
func (s *Service) Score(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&PointEvent{}).
		Select("COALESCE(SUM(points_awarded), 0)").
		Where("user_id = ? AND superseded_by = ?", userID, "").
		Scan(&total).Error
	return total, err
}

// Totals sums effective entries per user inside [from, to), highest first.
func (s *Service) Totals(ctx context.Context, from, to time.Time) ([]Total, error) {
	var rows []Total
	err := s.db.WithContext(ctx).
		Model(&PointEvent{}).
		Select("user_id, MAX(username) AS username, SUM(points_awarded) AS total").
		Where("superseded_by = ?", "").
		Scopes(option.WithRange("created_at", from, to)).
		Group("user_id").
		Order("total DESC").
		Order("user_id ASC").
		Scan(&rows).Error
	return rows, err
}

// Claim reserves an intake event id. When the id was claimed before it
// reports false together with the earlier record.
func (s *Service) Claim(ctx context.Context, eventID, userID string, eventType EventType) (*ProcessedEvent, bool, error) {
	rec := &ProcessedEvent{
		ID:        eventID,
		UserID:    userID,
		EventType: string(eventType),
		CreatedAt: s.now().UTC(),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return nil, false, fmt.Errorf("claim event %s: %w", eventID, res.Error)
	}
	if res.RowsAffected > 0 {
		return rec, true, nil
	}

	existing, err := s.processed.FindOne(ctx, &ProcessedEvent{ID: eventID})
	if err != nil || existing == nil || existing.Completed {
		return existing, false, err
	}

	// An unfinished claim older than the timeout belongs to a worker that
	// died; the first caller to move its timestamp takes it over.
	cutoff := rec.CreatedAt.Add(-s.claimTimeout)
	if !existing.CreatedAt.Before(cutoff) {
		return existing, false, nil
	}
	res = s.db.WithContext(ctx).Model(&ProcessedEvent{}).
		Where("id = ? AND completed = ? AND created_at < ?", eventID, false, cutoff).
		Updates(map[string]any{"created_at": rec.CreatedAt, "user_id": userID, "event_type": string(eventType)})
	if res.Error != nil {
		return nil, false, fmt.Errorf("take over claim %s: %w", eventID, res.Error)
	}
	if res.RowsAffected == 0 {
		return existing, false, nil
	}

	zap.L().With(logger.TraceFields(ctx)...).Warn("stale event claim taken over",
		zap.String("event_id", eventID), zap.Time("claimed_at", existing.CreatedAt))
	return rec, true, nil
}

func (s *Service) Complete(ctx context.Context, eventID string, points int64) error {
	return s.processed.Update(ctx, eventID, map[string]any{
		"completed":      true,
		"points_awarded": points,
	})
}

// Release forgets a claim whose processing failed so a retry can score it.
func (s *Service) Release(ctx context.Context, eventID string) error {
	return s.processed.Delete(ctx, eventID)
}
