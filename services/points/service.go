package points

import (
	"context"
	"errors"
	"time"

	"helpdesk-gamification/pkg/bizday"
	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/errutil"
	"helpdesk-gamification/pkg/lock"
	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/rediskey"
	"helpdesk-gamification/pkg/task"
	"helpdesk-gamification/services/achievement"
	"helpdesk-gamification/services/helpdesk"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var tracer = otel.Tracer("helpdesk-gamification/services/points")

// Ticket lifecycle events serialize per ticket.
var ticketScoped = map[ledger.EventType]bool{
	ledger.TicketOpened:   true,
	ledger.TicketClosed:   true,
	ledger.TicketReopened: true,
	ledger.TicketDeleted:  true,
	ledger.AssignToSelf:   true,
	ledger.NoteAdded:      true,
}

// Events that need a ticket to be compensated or distributed.
var ticketRequired = map[ledger.EventType]bool{
	ledger.TicketClosed:   true,
	ledger.TicketReopened: true,
	ledger.TicketDeleted:  true,
}

type Service struct {
	ledger    *ledger.Service
	directory helpdesk.Reader
	publisher notify.Publisher
	locker    lock.Locker
	enqueuer  task.Enqueuer

	cal     bizday.Calendar
	scoring config.Scoring
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	Config    *config.Config
	Ledger    *ledger.Service
	Directory helpdesk.Reader
	Publisher notify.Publisher
	Locker    lock.Locker
	Enqueuer  task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	scoring := p.Config.Scoring.WithDefaults()
	return &Service{
		ledger:    p.Ledger,
		directory: p.Directory,
		publisher: p.Publisher,
		locker:    p.Locker,
		enqueuer:  p.Enqueuer,
		cal:       bizday.New(scoring.BusinessOffset),
		scoring:   scoring,
		now:       time.Now,
	}
}

// Process scores one intake event and reports the points written for the
// acting user. Validation errors and ledger write failures are returned;
// collaborator and side effect failures are logged and absorbed.
func (s *Service) Process(ctx context.Context, ev *Event) (*Result, error) {
	ctx, span := tracer.Start(ctx, "points.Process", trace.WithAttributes(
		attribute.String("event.type", string(ev.EventType)),
		attribute.String("user.id", ev.UserID),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log := zap.L().With(logger.TraceFields(ctx)...).With(
		zap.String("event_type", string(ev.EventType)),
		zap.String("user_id", ev.UserID),
	)

	if ev.EventID != "" {
		rec, claimed, err := s.ledger.Claim(ctx, ev.EventID, ev.UserID, ev.EventType)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, errutil.Internal("failed to record event", err)
		}
		if !claimed {
			if rec == nil || !rec.Completed {
				return nil, errutil.Conflict("event is already being processed", nil)
			}
			log.Info("redelivered event ignored", zap.String("event_id", ev.EventID))
			return &Result{Success: true, PointsAwarded: rec.PointsAwarded}, nil
		}
	}

	points, err := s.apply(ctx, ev, log)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if ev.EventID != "" {
			if rerr := s.ledger.Release(ctx, ev.EventID); rerr != nil {
				log.Warn("failed to release event claim", zap.String("event_id", ev.EventID), zap.Error(rerr))
			}
		}
		return nil, err
	}

	if ev.EventID != "" {
		if err := s.ledger.Complete(ctx, ev.EventID, points); err != nil {
			log.Warn("failed to complete event claim", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}

	eventsProcessed.WithLabelValues(string(ev.EventType)).Inc()
	span.SetAttributes(attribute.Int64("points.awarded", points))
	log.Info("event scored", zap.Int64("points", points))
	return &Result{Success: true, PointsAwarded: points}, nil
}

func (s *Service) apply(ctx context.Context, ev *Event, log *zap.Logger) (int64, error) {
	now := s.now().UTC()
	ticketID := ev.TicketID()

	if ticketID != "" && ticketScoped[ev.EventType] {
		release, err := s.locker.Acquire(ctx, rediskey.TicketLock(ticketID))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return 0, errutil.ClientClosedRequest("request cancelled", err)
			}
			return 0, errutil.Internal("failed to lock ticket", err)
		}
		defer release()
	}

	var (
		points  int64
		written *ledger.PointEvent
		err     error
	)
	switch {
	case ticketRequired[ev.EventType] && ticketID == "":
		written = s.entry(ev, now, outcome{reason: "Missing ticket id"})
		err = s.ledger.Append(ctx, written)
	case ev.EventType == ledger.TicketClosed:
		points, err = s.closeTicket(ctx, ev, now)
	case ev.EventType == ledger.TicketReopened:
		points, err = s.reopenTicket(ctx, ev, now)
	case ev.EventType == ledger.TicketDeleted:
		points, err = s.deleteTicket(ctx, ev, now)
	default:
		written = s.entry(ev, now, s.evaluate(ctx, ev, now))
		err = s.ledger.Append(ctx, written)
		points = written.PointsAwarded
	}
	if err != nil {
		log.Error("failed to write points", zap.Error(err))
		return 0, errutil.Internal("failed to record points", err)
	}

	if written != nil && countsTowardMilestone(written) {
		s.checkMilestone(ctx, ev, now)
	}

	switch ev.EventType {
	case ledger.KudosReceived, ledger.KudosRemoved:
		s.notifyKudos(ctx, ev, log)
	}

	var details datatypes.JSONMap
	if written != nil {
		details = written.Details
	}
	s.enqueueAchievement(ctx, ev, now, details, log)
	return points, nil
}

func (s *Service) notifyKudos(ctx context.Context, ev *Event, log *zap.Logger) {
	title, message := "Kudos received", ev.String("message")
	if ev.EventType == ledger.KudosRemoved {
		title = "Kudos removed"
	}
	if message == "" {
		message = title
		if from := ev.String("fromUsername"); from != "" {
			message = title + " from " + from
		}
	}

	meta := datatypes.JSONMap{}
	for k, v := range ev.Data {
		meta[k] = v
	}
	err := s.publisher.Notify(ctx, &notify.Notification{
		UserID:   ev.UserID,
		Type:     notify.TypeKudos,
		Title:    title,
		Message:  message,
		Metadata: meta,
	})
	if err != nil {
		log.Warn("failed to send kudos notification", zap.Error(err))
	}
}

func (s *Service) enqueueAchievement(ctx context.Context, ev *Event, now time.Time, details datatypes.JSONMap, log *zap.Logger) {
	if s.enqueuer == nil || !achievement.Tracks(ev.EventType) {
		return
	}

	t, err := achievement.NewEvaluateTask(achievement.EvaluatePayload{
		EventType:  ev.EventType,
		UserID:     ev.UserID,
		Username:   ev.Username,
		TicketID:   ev.TicketID(),
		OccurredAt: now,
		Details:    details,
	})
	if err != nil {
		log.Warn("failed to build achievement task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		log.Warn("failed to enqueue achievement evaluation", zap.Error(err))
	}
}
