package points

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/textsim"
	"helpdesk-gamification/services/ledger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	ownClosurePoints    = 6
	closerPoints        = 4
	creatorAssistPoints = 2

	noteLookupFallback = 1

	selfAssignPoints = 6
	selfAssignWindow = 4 * time.Hour

	breakOverageLimit = 10
	breakPenalty      = -20

	shiftEarlyTolerance = 30 * time.Minute
	shiftLateTolerance  = 10 * time.Minute
	shiftLateThreshold  = 15 * time.Minute
	shiftOnTimePoints   = 10
	shiftLatePenalty    = -20
	shiftDefaultPoints  = 1

	milestoneBonus = 20
)

// Checked in order; the first threshold not yet rewarded today wins.
var milestoneThresholds = []int64{15, 10}

var fixedRules = map[ledger.EventType]outcome{
	ledger.AttachmentAdded:        {points: 3, reason: "Attachment added"},
	ledger.AttachmentDeleted:      {points: -3, reason: "Attachment deleted"},
	ledger.TicketLinkAdded:        {points: 3, reason: "Ticket link added"},
	ledger.TicketLinkRemoved:      {points: -3, reason: "Ticket link removed"},
	ledger.NoteDeleted:            {points: -4, reason: "Note deleted"},
	ledger.AssignmentAcceptedFast: {points: 5, reason: "Assignment accepted quickly"},
	ledger.AssignmentAcceptedSlow: {points: -10, reason: "Assignment accepted slowly"},
	ledger.ScheduleItemAdded:      {points: 15, reason: "Schedule item added"},
	ledger.ScheduleItemDeleted:    {points: -15, reason: "Schedule item deleted"},
	ledger.MeetingCollaboration:   {points: 10, reason: "Meeting collaboration"},
	ledger.MissingShiftStart:      {points: -50, reason: "Missing shift start"},
	ledger.KudosReceived:          {points: 0, reason: "Kudos received"},
	ledger.KudosRemoved:           {points: 0, reason: "Kudos removed"},
}

// Types only this service writes. Submitted from outside they are recorded
// without points.
var internalTypes = map[ledger.EventType]bool{
	ledger.MilestoneBonus:     true,
	ledger.AchievementBonus:   true,
	ledger.TicketClosedAssist: true,
	ledger.ClosureReversed:    true,
}

func priorityBonus(priority string) int64 {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "low":
		return 8
	case "medium", "high", "urgent":
		return 9
	}
	return 0
}

// notePoints pays for the user's next note given how many they already
// wrote on the ticket today.
func notePoints(prior int64) int64 {
	switch {
	case prior <= 0:
		return 4
	case prior == 1:
		return 3
	}
	return 2
}

func assignToSelfPoints(now, reference time.Time) int64 {
	if now.Sub(reference) > selfAssignWindow {
		return selfAssignPoints
	}
	return 0
}

func breakExceededPoints(overageMinutes float64) int64 {
	if overageMinutes >= breakOverageLimit {
		return breakPenalty
	}
	return 0
}

// shiftStartPoints scores a shift start that happened diff after the
// scheduled start.
func shiftStartPoints(diff time.Duration) int64 {
	switch {
	case diff >= -shiftEarlyTolerance && diff <= shiftLateTolerance:
		return shiftOnTimePoints
	case diff >= shiftLateThreshold:
		return shiftLatePenalty
	}
	return shiftDefaultPoints
}

// evaluate applies the rule table for events that produce a single entry
// for the acting user. Collaborator failures degrade to the rule's default.
func (s *Service) evaluate(ctx context.Context, ev *Event, now time.Time) outcome {
	switch ev.EventType {
	case ledger.TicketOpened:
		return s.ticketOpened(ctx, ev, now)
	case ledger.NoteAdded:
		return s.noteAdded(ctx, ev, now)
	case ledger.AssignToSelf:
		return s.assignToSelf(ctx, ev, now)
	case ledger.ShiftStarted:
		return s.shiftStarted(ctx, ev, now)
	case ledger.BreakExceeded:
		overage, _ := ev.Number("overageMinutes")
		return outcome{
			points:  breakExceededPoints(overage),
			reason:  fmt.Sprintf("Break exceeded by %g minutes", overage),
			details: datatypes.JSONMap{"overage_minutes": overage},
		}
	}

	if internalTypes[ev.EventType] {
		return outcome{reason: fmt.Sprintf("Internal event type submitted externally: %s", ev.EventType)}
	}
	if out, ok := fixedRules[ev.EventType]; ok {
		return out
	}
	return outcome{reason: fmt.Sprintf("Unknown event type: %s", ev.EventType)}
}

func (s *Service) ticketOpened(ctx context.Context, ev *Event, now time.Time) outcome {
	log := zap.L().With(logger.TraceFields(ctx)...)
	ticketID := ev.TicketID()
	priority := ev.String("priority")
	subject := ev.String("subject")

	if ticketID != "" && (priority == "" || subject == "") {
		ticket, err := s.directory.GetTicket(ctx, ticketID)
		switch {
		case err != nil:
			log.Warn("ticket lookup failed", zap.String("ticket_id", ticketID), zap.Error(err))
		case ticket != nil:
			if priority == "" {
				priority = ticket.Priority
			}
			if subject == "" {
				subject = ticket.Subject
			}
		}
	}

	out := outcome{
		points:  priorityBonus(priority),
		reason:  fmt.Sprintf("Ticket opened (%s priority)", priority),
		details: datatypes.JSONMap{"priority": priority},
	}
	// Without an id the new ticket's own row cannot be told apart from an
	// earlier one, so the scan would match the ticket against itself.
	if subject == "" || ticketID == "" {
		return out
	}

	candidates, err := s.directory.ListCreatedSince(ctx, now.Add(-s.scoring.DuplicateWindow), ticketID)
	if err != nil {
		log.Warn("duplicate scan failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return out
	}

	pool := make([]textsim.Candidate, 0, len(candidates))
	for _, t := range candidates {
		pool = append(pool, textsim.Candidate{ID: t.ID, Text: t.Subject})
	}
	match, ok := textsim.Best(subject, pool, s.scoring.DuplicateThreshold)
	if !ok {
		return out
	}

	duplicatesDetected.Inc()
	return outcome{
		points: 0,
		reason: "Duplicate ticket detected",
		details: datatypes.JSONMap{
			"priority":                       priority,
			ledger.DetailDuplicateDetection: true,
			ledger.DetailDuplicateOf:        match.ID,
			ledger.DetailSimilarity:         match.Score,
		},
	}
}

func (s *Service) noteAdded(ctx context.Context, ev *Event, now time.Time) outcome {
	ticketID := ev.TicketID()
	if ticketID == "" {
		return outcome{points: noteLookupFallback, reason: "Note added"}
	}

	from, to := s.cal.Bounds(now)
	prior, err := s.ledger.Count(ctx, ledger.Filter{
		UserID:   ev.UserID,
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.NoteAdded},
		From:     from,
		To:       to,
	})
	if err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Warn("note count lookup failed",
			zap.String("ticket_id", ticketID), zap.Error(err))
		return outcome{points: noteLookupFallback, reason: "Note added"}
	}

	return outcome{
		points:  notePoints(prior),
		reason:  fmt.Sprintf("Note #%d on ticket today", prior+1),
		details: datatypes.JSONMap{"note_number": prior + 1},
	}
}

func (s *Service) assignToSelf(ctx context.Context, ev *Event, now time.Time) outcome {
	log := zap.L().With(logger.TraceFields(ctx)...)
	ticketID := ev.TicketID()
	unavailable := outcome{reason: "Assigned to self (no reference time)"}
	if ticketID == "" {
		return unavailable
	}

	last, err := s.ledger.Latest(ctx, ledger.Filter{
		TicketID: ticketID,
		Types:    []ledger.EventType{ledger.AssignToSelf},
	})
	if err != nil {
		log.Warn("assignment lookup failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return unavailable
	}
	if last != nil && last.UserID == ev.UserID {
		return outcome{reason: "Consecutive self-assignment"}
	}

	var reference time.Time
	if last != nil {
		reference = last.CreatedAt
	}
	ticket, err := s.directory.GetTicket(ctx, ticketID)
	if err != nil {
		log.Warn("ticket lookup failed", zap.String("ticket_id", ticketID), zap.Error(err))
	} else if ticket != nil && ticket.CreatedAt.After(reference) {
		reference = ticket.CreatedAt
	}
	if reference.IsZero() {
		return unavailable
	}

	age := now.Sub(reference)
	points := assignToSelfPoints(now, reference)
	reason := "Assigned to self"
	if points == 0 {
		reason = "Assigned to self within 4 hours"
	}
	return outcome{
		points: points,
		reason: reason,
		details: datatypes.JSONMap{
			"reference_time": reference.UTC().Format(time.RFC3339),
			"hours_waiting":  age.Hours(),
		},
	}
}

func (s *Service) shiftStarted(ctx context.Context, ev *Event, now time.Time) outcome {
	start := now
	if t, ok := ev.Time("startedAt"); ok {
		start = t
	}

	clock, scheduled, ok := s.scheduledStart(ctx, ev, start)
	if !ok {
		return outcome{points: shiftDefaultPoints, reason: "Shift started (no schedule found)"}
	}

	diff := start.Sub(scheduled)
	points := shiftStartPoints(diff)
	reason := "Shift started"
	switch points {
	case shiftOnTimePoints:
		reason = "Shift started on time"
	case shiftLatePenalty:
		reason = "Shift started late"
	}
	return outcome{
		points: points,
		reason: reason,
		details: datatypes.JSONMap{
			"scheduled_start": clock,
			"minutes_late":    diff.Minutes(),
		},
	}
}

// scheduledStart finds the planned start a shift start belongs to. A clock
// in the event resolves to its nearest occurrence; otherwise the schedules
// of the start's business day and the day before are compared, so a shift
// started after midnight still matches the previous evening's plan.
func (s *Service) scheduledStart(ctx context.Context, ev *Event, start time.Time) (string, time.Time, bool) {
	if clock := ev.String("scheduledStart"); clock != "" {
		at, err := s.cal.Nearest(start, clock)
		if err != nil {
			return "", time.Time{}, false
		}
		return clock, at, true
	}

	var (
		bestClock string
		best      time.Time
		found     bool
	)
	for _, day := range []time.Time{start, start.AddDate(0, 0, -1)} {
		clock, err := s.directory.ScheduledStart(ctx, ev.UserID, s.cal.DayKey(day))
		if err != nil {
			zap.L().With(logger.TraceFields(ctx)...).Warn("shift schedule lookup failed",
				zap.String("user_id", ev.UserID), zap.String("day", s.cal.DayKey(day)), zap.Error(err))
			continue
		}
		if clock == "" {
			continue
		}
		at, err := s.cal.At(day, clock)
		if err != nil {
			continue
		}
		if !found || absDuration(start.Sub(at)) < absDuration(start.Sub(best)) {
			bestClock, best, found = clock, at, true
		}
	}
	return bestClock, best, found
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
