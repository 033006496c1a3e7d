package helpdesk

import (
	"context"
	"time"

	"helpdesk-gamification/pkg/db/option"
	"helpdesk-gamification/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Reader is the read access the scoring core needs from the helpdesk.
type Reader interface {
	// GetTicket returns nil, nil for an unknown id.
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListCreatedSince(ctx context.Context, since time.Time, excludeID string) ([]*Ticket, error)
	ListClosedBy(ctx context.Context, userID string, from, to time.Time) ([]*Ticket, error)
	// FirstNote returns the earliest note userID wrote on the ticket, or nil.
	FirstNote(ctx context.Context, ticketID, userID string) (*Note, error)
	// ScheduledStart returns the shift start "HH:MM" for the business day, or
	// "" when the user has no shift that day.
	ScheduledStart(ctx context.Context, userID, day string) (string, error)
	ListActiveUsers(ctx context.Context) ([]*User, error)
}

type Store struct {
	tickets   repository.Repository[Ticket]
	notes     repository.Repository[Note]
	schedules repository.Repository[ShiftSchedule]
	users     repository.Repository[User]
}

type StoreParams struct {
	fx.In
	DB *gorm.DB
}

func NewStore(p StoreParams) *Store {
	return &Store{
		tickets:   repository.ProvideStore[Ticket](p.DB),
		notes:     repository.ProvideStore[Note](p.DB),
		schedules: repository.ProvideStore[ShiftSchedule](p.DB),
		users:     repository.ProvideStore[User](p.DB),
	}
}

func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	if id == "" {
		return nil, nil
	}
	return s.tickets.FindOne(ctx, &Ticket{ID: id})
}

func (s *Store) ListCreatedSince(ctx context.Context, since time.Time, excludeID string) ([]*Ticket, error) {
	return s.tickets.Find(ctx, nil,
		option.WithRange("created_at", since, time.Time{}),
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.NEQ, Value: excludeID}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
}

func (s *Store) ListClosedBy(ctx context.Context, userID string, from, to time.Time) ([]*Ticket, error) {
	return s.tickets.Find(ctx, &Ticket{ClosedBy: userID},
		option.WithRange("completed_at", from, to),
		option.WithSortBy(option.QuerySortBy{SortBy: "completed_at"}),
	)
}

func (s *Store) FirstNote(ctx context.Context, ticketID, userID string) (*Note, error) {
	return s.notes.FindOne(ctx, &Note{TicketID: ticketID, UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at"}),
	)
}

func (s *Store) ScheduledStart(ctx context.Context, userID, day string) (string, error) {
	sched, err := s.schedules.FindOne(ctx, &ShiftSchedule{UserID: userID, Day: day},
		option.WithSortBy(option.QuerySortBy{SortBy: "start_time"}),
	)
	if err != nil || sched == nil {
		return "", err
	}
	return sched.StartTime, nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]*User, error) {
	return s.users.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id"}),
	)
}
