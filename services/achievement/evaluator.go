package achievement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdesk-gamification/pkg/bizday"
	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/lock"
	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/repository"
	"helpdesk-gamification/services/helpdesk"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	fastClosureWindow  = 30 * time.Minute
	fastResponseWindow = 15 * time.Minute
	fastResolveWindow  = 120 * time.Minute
	lateShiftThreshold = 15 * time.Minute
	slowResponseWindow = 30 * time.Minute
	perfectDayBonus    = 50
	perfectDayKind     = "perfect_day"
	detailDay          = "day"
	detailMinutesLate  = "minutes_late"
	detailNoteNumber   = "note_number"
)

var tracer = otel.Tracer("helpdesk-gamification/services/achievement")

type Evaluator struct {
	db   *gorm.DB
	node *snowflake.Node

	awards  repository.Repository[BadgeAward]
	stats   repository.Repository[DailyStats]
	cursors repository.Repository[StreakCursor]

	ledger    *ledger.Service
	directory helpdesk.Reader
	publisher notify.Publisher
	locker    lock.Locker
	catalog   *Catalog

	cal          bizday.Calendar
	fastResponse string
	now          func() time.Time
}

type EvaluatorParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Directory helpdesk.Reader
	Publisher notify.Publisher
	Locker    lock.Locker
}

func NewEvaluator(p EvaluatorParams) (*Evaluator, error) {
	catalog, err := NewCatalog()
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		db:           p.DB,
		node:         p.Node,
		awards:       repository.ProvideStore[BadgeAward](p.DB),
		stats:        repository.ProvideStore[DailyStats](p.DB),
		cursors:      repository.ProvideStore[StreakCursor](p.DB),
		ledger:       p.Ledger,
		directory:    p.Directory,
		publisher:    p.Publisher,
		locker:       p.Locker,
		catalog:      catalog,
		cal:          bizday.New(p.Config.Scoring.WithDefaults().BusinessOffset),
		fastResponse: p.Config.Achievement.WithDefaults().FastResponseSource,
		now:          time.Now,
	}, nil
}

// Evaluate updates the acting user's counters for one lifecycle event and
// awards whatever badges the new counters satisfy.
func (e *Evaluator) Evaluate(ctx context.Context, p EvaluatePayload) error {
	ctx, span := tracer.Start(ctx, "achievement.Evaluate", trace.WithAttributes(
		attribute.String("event.type", string(p.EventType)),
		attribute.String("user.id", p.UserID),
	))
	defer span.End()

	at := p.OccurredAt
	if at.IsZero() {
		at = e.now()
	}
	day := e.cal.DayKey(at)

	var (
		stats *DailyStats
		err   error
	)
	switch p.EventType {
	case ledger.TicketClosed:
		stats, err = e.onClosed(ctx, p, day)
	case ledger.TicketOpened, ledger.AssignToSelf, ledger.AssignmentAcceptedFast, ledger.AssignmentAcceptedSlow:
		stats, err = e.onTaken(ctx, p, at, day)
	case ledger.ShiftStarted:
		stats, err = e.onShiftStarted(ctx, p, day)
	case ledger.NoteAdded:
		stats, err = e.onNoteAdded(ctx, p, at, day)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if stats == nil {
		return nil
	}

	earned, err := e.catalog.Earned(stats)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, id := range earned {
		if _, err := e.Award(ctx, p.UserID, p.Username, day, id, stats.Attributes()); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// ticketFacts reads the ticket and the user's first note on it side by side.
func (e *Evaluator) ticketFacts(ctx context.Context, ticketID, userID string) (*helpdesk.Ticket, *helpdesk.Note, error) {
	var (
		ticket *helpdesk.Ticket
		note   *helpdesk.Note
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticket, err = e.directory.GetTicket(gctx, ticketID)
		return err
	})
	g.Go(func() error {
		var err error
		note, err = e.directory.FirstNote(gctx, ticketID, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("read ticket %s: %w", ticketID, err)
	}
	return ticket, note, nil
}

func (e *Evaluator) onClosed(ctx context.Context, p EvaluatePayload, day string) (*DailyStats, error) {
	if p.TicketID == "" {
		return nil, nil
	}
	ticket, note, err := e.ticketFacts(ctx, p.TicketID, p.UserID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, nil
	}

	completed := p.OccurredAt
	if ticket.CompletedAt != nil {
		completed = *ticket.CompletedAt
	}
	ref := ticket.ReferenceTime(p.UserID)
	elapsed := completed.Sub(ref)

	var stats *DailyStats
	if elapsed <= fastClosureWindow {
		if stats, err = e.increment(ctx, p.UserID, day, fastClosures); err != nil {
			return nil, err
		}
	}

	if strings.EqualFold(ticket.Source, e.fastResponse) && note != nil &&
		note.CreatedAt.Sub(ref) <= fastResponseWindow && elapsed <= fastResolveWindow {
		if stats, err = e.increment(ctx, p.UserID, day, fastResponseCount); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (e *Evaluator) onTaken(ctx context.Context, p EvaluatePayload, at time.Time, day string) (*DailyStats, error) {
	run, err := e.advanceStreak(ctx, p.UserID, at)
	if err != nil {
		return nil, err
	}
	return e.recordStreak(ctx, p.UserID, day, run)
}

func (e *Evaluator) onShiftStarted(ctx context.Context, p EvaluatePayload, day string) (*DailyStats, error) {
	late, ok := p.number(detailMinutesLate)
	if !ok || time.Duration(late*float64(time.Minute)) <= lateShiftThreshold {
		return nil, nil
	}
	return e.increment(ctx, p.UserID, day, lateShiftStarts)
}

// onNoteAdded counts a slow response when the user's first note on the
// ticket came more than half an hour after they picked it up.
func (e *Evaluator) onNoteAdded(ctx context.Context, p EvaluatePayload, at time.Time, day string) (*DailyStats, error) {
	if p.TicketID == "" {
		return nil, nil
	}
	if n, ok := p.number(detailNoteNumber); ok && n != 1 {
		return nil, nil
	}

	ticket, note, err := e.ticketFacts(ctx, p.TicketID, p.UserID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, nil
	}

	answered := at
	if note != nil {
		if e.cal.DayKey(note.CreatedAt) != day {
			return nil, nil
		}
		answered = note.CreatedAt
	}
	if answered.Sub(ticket.ReferenceTime(p.UserID)) <= slowResponseWindow {
		return nil, nil
	}
	return e.increment(ctx, p.UserID, day, slowResponses)
}

func (e *Evaluator) log(ctx context.Context) *zap.Logger {
	return zap.L().With(logger.TraceFields(ctx)...)
}
