package points

import (
	"context"
	"time"

	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/services/ledger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type creator struct {
	id   string
	name string
}

func (s *Service) ticketCreator(ctx context.Context, ev *Event) creator {
	c := creator{id: ev.String("createdBy"), name: ev.String("createdByName")}
	if c.id != "" || ev.TicketID() == "" {
		return c
	}

	ticket, err := s.directory.GetTicket(ctx, ev.TicketID())
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Warn("ticket lookup failed",
			zap.String("ticket_id", ev.TicketID()), zap.Error(err))
		return c
	}
	if ticket != nil {
		c.id, c.name = ticket.CreatedBy, ticket.CreatedByName
	}
	return c
}

// closeTicket pays a closure. Earlier closures of the same user on the
// ticket, the assist entries they produced and the reversals of both are
// superseded by the new closure, so exactly one effective closure remains.
func (s *Service) closeTicket(ctx context.Context, ev *Event, now time.Time) (int64, error) {
	ticketID := ev.TicketID()
	owner := s.ticketCreator(ctx, ev)

	var paid int64
	err := s.ledger.Transaction(ctx, func(tx *ledger.Service) error {
		out, err := closurePayout(ctx, tx, ticketID, ev.UserID, owner)
		if err != nil {
			return err
		}

		prior, err := priorClosures(ctx, tx, ticketID, ev.UserID)
		if err != nil {
			return err
		}

		closure := s.entry(ev, now, out)
		entries := []*ledger.PointEvent{closure}
		if out.points > 0 && owner.id != "" && owner.id != ev.UserID {
			entries = append(entries, &ledger.PointEvent{
				UserID:          owner.id,
				Username:        owner.name,
				EventType:       ledger.TicketClosedAssist,
				PointsAwarded:   creatorAssistPoints,
				RelatedTicketID: ticketID,
				Details: datatypes.JSONMap{
					ledger.DetailReason:   "Ticket you created was closed by " + ev.Username,
					ledger.DetailClosedBy: ev.UserID,
				},
				CreatedAt: now,
			})
		}
		if err := tx.Append(ctx, entries...); err != nil {
			return err
		}
		if err := tx.Supersede(ctx, prior, closure.ID); err != nil {
			return err
		}

		paid = closure.PointsAwarded
		return nil
	})
	return paid, err
}

func closurePayout(ctx context.Context, tx *ledger.Service, ticketID, closerID string, owner creator) (outcome, error) {
	opened, err := tx.Find(ctx, ledger.Filter{
		TicketID:          ticketID,
		Types:             []ledger.EventType{ledger.TicketOpened},
		IncludeSuperseded: true,
	})
	if err != nil {
		return outcome{}, err
	}
	for _, e := range opened {
		if e.BoolDetail(ledger.DetailDuplicateDetection) {
			return outcome{reason: "Closed duplicate ticket", details: datatypes.JSONMap{ledger.DetailDuplicateOf: e.StringDetail(ledger.DetailDuplicateOf)}}, nil
		}
	}

	reopens, err := tx.Find(ctx, ledger.Filter{
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.TicketReopened},
	})
	if err != nil {
		return outcome{}, err
	}
	if len(reopens) > 0 && !anyReversed(reopens) {
		return outcome{reason: "Re-closed ticket with no tracked closure"}, nil
	}

	switch owner.id {
	case closerID:
		return outcome{points: ownClosurePoints, reason: "Closed own ticket"}, nil
	case "":
		return outcome{points: closerPoints, reason: "Closed ticket", details: datatypes.JSONMap{"creator_unknown": true}}, nil
	}
	return outcome{
		points:  closerPoints,
		reason:  "Closed ticket created by " + owner.name,
		details: datatypes.JSONMap{"created_by": owner.id},
	}, nil
}

func anyReversed(reopens []*ledger.PointEvent) bool {
	for _, r := range reopens {
		if len(r.StringsDetail(ledger.DetailReversedEventIDs)) > 0 {
			return true
		}
	}
	return false
}

// priorClosures lists the effective entries a new closure by userID
// replaces.
func priorClosures(ctx context.Context, tx *ledger.Service, ticketID, userID string) ([]string, error) {
	closed, err := tx.Find(ctx, ledger.Filter{
		UserID:   userID,
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.TicketClosed},
	})
	if err != nil {
		return nil, err
	}
	assists, err := tx.Find(ctx, ledger.Filter{
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.TicketClosedAssist},
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range closed {
		ids = append(ids, e.ID)
	}
	for _, e := range assists {
		if e.StringDetail(ledger.DetailClosedBy) == userID {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	reversals, err := tx.Find(ctx, ledger.Filter{
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.ClosureReversed},
		Reverses: ids,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range reversals {
		ids = append(ids, e.ID)
	}
	return ids, nil
}
