package points

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"helpdesk-gamification/pkg/errutil"
	"helpdesk-gamification/services/ledger"

	"gorm.io/datatypes"
)

// Event is one lifecycle event submitted to intake. EventID is optional;
// when present, redeliveries of the same id are answered without scoring
// again.
type Event struct {
	EventID   string           `json:"eventId"`
	EventType ledger.EventType `json:"eventType"`
	UserID    string           `json:"userId"`
	Username  string           `json:"username"`
	Data      map[string]any   `json:"data"`
}

func (e *Event) Validate() error {
	var missing []string
	if strings.TrimSpace(string(e.EventType)) == "" {
		missing = append(missing, "eventType")
	}
	if strings.TrimSpace(e.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(e.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return errutil.BadRequest(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

func (e *Event) TicketID() string {
	return e.String("ticketId")
}

// String reads a data field as text. Numeric ids are accepted too.
func (e *Event) String(key string) string {
	switch v := e.Data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func (e *Event) Number(key string) (float64, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Time reads an RFC3339 data field.
func (e *Event) Time(key string) (time.Time, bool) {
	s := e.String(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

type Result struct {
	Success       bool  `json:"success"`
	PointsAwarded int64 `json:"pointsAwarded"`
}

// outcome is what a rule decided for the acting user.
type outcome struct {
	points  int64
	reason  string
	details datatypes.JSONMap
}

func (s *Service) entry(ev *Event, at time.Time, out outcome) *ledger.PointEvent {
	details := datatypes.JSONMap{}
	for k, v := range out.details {
		details[k] = v
	}
	details[ledger.DetailReason] = out.reason

	return &ledger.PointEvent{
		UserID:          ev.UserID,
		Username:        ev.Username,
		EventType:       ev.EventType,
		PointsAwarded:   out.points,
		RelatedTicketID: ev.TicketID(),
		Details:         details,
		CreatedAt:       at,
	}
}
