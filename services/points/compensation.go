package points

import (
	"context"
	"time"

	"helpdesk-gamification/services/ledger"

	"gorm.io/datatypes"
)

var deletionTypes = []ledger.EventType{
	ledger.TicketOpened,
	ledger.TicketClosed,
	ledger.TicketClosedAssist,
	ledger.ClosureReversed,
	ledger.TicketDeleted,
}

// deleteTicket reverses the deleting user's own standing on the ticket with
// one entry. Other users' entries are left untouched and only counted in
// the details.
func (s *Service) deleteTicket(ctx context.Context, ev *Event, now time.Time) (int64, error) {
	ticketID := ev.TicketID()

	var paid int64
	err := s.ledger.Transaction(ctx, func(tx *ledger.Service) error {
		entries, err := tx.Find(ctx, ledger.Filter{TicketID: ticketID, Types: deletionTypes})
		if err != nil {
			return err
		}

		var (
			sum      int64
			reversed []string
			others   int
		)
		for _, e := range entries {
			if e.UserID != ev.UserID {
				if e.PointsAwarded != 0 {
					others++
				}
				continue
			}
			sum += e.PointsAwarded
			if e.EventType != ledger.TicketDeleted {
				reversed = append(reversed, e.ID)
			}
		}

		out := outcome{
			points: -sum,
			reason: "Ticket deleted",
			details: datatypes.JSONMap{
				ledger.DetailReversedEventIDs: reversed,
				"co_beneficiary_entries":      others,
			},
		}
		entry := s.entry(ev, now, out)
		if err := tx.Append(ctx, entry); err != nil {
			return err
		}
		paid = entry.PointsAwarded
		return nil
	})
	return paid, err
}

// reopenTicket records the reopen and negates every closure-family entry on
// the ticket that has not been reversed yet, each against its own owner.
func (s *Service) reopenTicket(ctx context.Context, ev *Event, now time.Time) (int64, error) {
	ticketID := ev.TicketID()

	err := s.ledger.Transaction(ctx, func(tx *ledger.Service) error {
		closures, err := tx.Find(ctx, ledger.Filter{
			TicketID: ticketID,
			Types:    []ledger.EventType{ledger.TicketClosed, ledger.TicketClosedAssist},
		})
		if err != nil {
			return err
		}

		pending := closures
		if len(closures) > 0 {
			ids := make([]string, 0, len(closures))
			for _, c := range closures {
				ids = append(ids, c.ID)
			}
			existing, err := tx.Find(ctx, ledger.Filter{
				TicketID: ticketID,
				Types:    []ledger.EventType{ledger.ClosureReversed},
				Reverses: ids,
			})
			if err != nil {
				return err
			}
			done := make(map[string]bool, len(existing))
			for _, r := range existing {
				done[r.ReversesID] = true
			}
			pending = pending[:0:0]
			for _, c := range closures {
				if !done[c.ID] {
					pending = append(pending, c)
				}
			}
		}

		ids := make([]string, 0, len(pending))
		for _, c := range pending {
			ids = append(ids, c.ID)
		}

		entries := []*ledger.PointEvent{s.entry(ev, now, outcome{
			reason:  "Ticket reopened",
			details: datatypes.JSONMap{ledger.DetailReversedEventIDs: ids},
		})}
		for _, c := range pending {
			entries = append(entries, &ledger.PointEvent{
				UserID:          c.UserID,
				Username:        c.Username,
				EventType:       ledger.ClosureReversed,
				PointsAwarded:   -c.PointsAwarded,
				RelatedTicketID: ticketID,
				ReversesID:      c.ID,
				Details: datatypes.JSONMap{
					ledger.DetailReason: "Closure reversed: ticket reopened by " + ev.Username,
					"reopened_by":       ev.UserID,
				},
				CreatedAt: now,
			})
		}
		return tx.Append(ctx, entries...)
	})
	return 0, err
}
