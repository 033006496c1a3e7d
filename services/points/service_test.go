package points

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/errutil"
	"helpdesk-gamification/pkg/lock"
	"helpdesk-gamification/pkg/middleware"
	"helpdesk-gamification/pkg/taskname"
	"helpdesk-gamification/services/achievement"
	"helpdesk-gamification/services/helpdesk"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"
	"helpdesk-gamification/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

// 10:00 business time on 2025-03-03.
var baseTime = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

// failingReader fails every ticket and schedule lookup.
type failingReader struct {
	helpdesk.Reader
}

var errLookup = errors.New("helpdesk unavailable")

func (failingReader) GetTicket(context.Context, string) (*helpdesk.Ticket, error) {
	return nil, errLookup
}

func (failingReader) ListCreatedSince(context.Context, time.Time, string) ([]*helpdesk.Ticket, error) {
	return nil, errLookup
}

func (failingReader) ScheduledStart(context.Context, string, string) (string, error) {
	return "", errLookup
}

type fixture struct {
	db     *gorm.DB
	ledger *ledger.Service
	pub    *notify.Service
	svc    *Service
	enq    *fakeEnqueuer
	now    time.Time
}

func allModels() []any {
	models := append(ledger.Models(), notify.Models()...)
	return append(models, helpdesk.Models()...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testutil.NewTestDB(t, allModels()...), nil)
}

func newFixtureWith(t *testing.T, db *gorm.DB, directory helpdesk.Reader) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	store := helpdesk.NewStore(helpdesk.StoreParams{DB: db})
	if directory == nil {
		directory = store
	}

	f := &fixture{db: db, enq: &fakeEnqueuer{}, now: baseTime}
	f.ledger = ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	f.pub = notify.NewService(notify.ServiceParams{DB: db, Node: node, Directory: store})
	f.svc = NewService(ServiceParams{
		Config:    &config.Config{},
		Ledger:    f.ledger,
		Directory: directory,
		Publisher: f.pub,
		Locker:    lock.NewLocalLocker(),
		Enqueuer:  f.enq,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(t *testing.T, rows ...any) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, f.db.Create(r).Error)
	}
}

func (f *fixture) submit(t *testing.T, typ ledger.EventType, userID, username string, data map[string]any) int64 {
	t.Helper()
	res, err := f.svc.Process(context.Background(), &Event{EventType: typ, UserID: userID, Username: username, Data: data})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res.PointsAwarded
}

// net sums the user's effective entries on a ticket.
func (f *fixture) net(t *testing.T, userID, ticketID string) int64 {
	t.Helper()
	entries, err := f.ledger.Find(context.Background(), ledger.Filter{UserID: userID, TicketID: ticketID})
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.PointsAwarded
	}
	return sum
}

func (f *fixture) find(t *testing.T, filter ledger.Filter) []*ledger.PointEvent {
	t.Helper()
	entries, err := f.ledger.Find(context.Background(), filter)
	require.NoError(t, err)
	return entries
}

func ticket(id, createdBy, name, subject string, createdAt time.Time) *helpdesk.Ticket {
	return &helpdesk.Ticket{
		ID:            id,
		Subject:       subject,
		Priority:      "Medium",
		CreatedBy:     createdBy,
		CreatedByName: name,
		CreatedAt:     createdAt,
	}
}

func TestFixedRules(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		typ  ledger.EventType
		want int64
	}{
		{ledger.AttachmentAdded, 3},
		{ledger.AttachmentDeleted, -3},
		{ledger.TicketLinkAdded, 3},
		{ledger.TicketLinkRemoved, -3},
		{ledger.NoteDeleted, -4},
		{ledger.AssignmentAcceptedFast, 5},
		{ledger.AssignmentAcceptedSlow, -10},
		{ledger.ScheduleItemAdded, 15},
		{ledger.ScheduleItemDeleted, -15},
		{ledger.MeetingCollaboration, 10},
		{ledger.MissingShiftStart, -50},
		{ledger.KudosReceived, 0},
		{ledger.KudosRemoved, 0},
		{ledger.MilestoneBonus, 0},
		{ledger.AchievementBonus, 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, f.submit(t, c.typ, "u1", "ana", map[string]any{"ticketId": "t1"}), string(c.typ))
	}
}

func TestUnknownEventTypeIsRecordedWithZero(t *testing.T) {
	f := newFixture(t)

	require.Zero(t, f.submit(t, "FOO_BAR", "u1", "ana", nil))

	entries := f.find(t, ledger.Filter{UserID: "u1"})
	require.Len(t, entries, 1)
	require.Equal(t, ledger.EventType("FOO_BAR"), entries[0].EventType)
	require.Equal(t, "Unknown event type: FOO_BAR", entries[0].Reason())
}

func TestValidationRejectsMissingFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Process(context.Background(), &Event{EventType: ledger.NoteAdded, UserID: "u1"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadRequest, errutil.As(err).Status())
	require.Contains(t, err.Error(), "username")

	require.Empty(t, f.find(t, ledger.Filter{UserID: "u1"}))
}

func TestTicketOpenedPriorityBonus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &helpdesk.Ticket{ID: "t2", Subject: "VPN drops every hour", Priority: "Urgent", CreatedBy: "u1", CreatedAt: baseTime})

	require.Equal(t, int64(8), f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{"ticketId": "t1", "priority": "low"}))
	require.Equal(t, int64(9), f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{"ticketId": "t2"}))
	require.Equal(t, int64(0), f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{"ticketId": "t3", "priority": "someday"}))
}

func TestDuplicateTicketEarnsNothingEver(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		ticket("t1", "u1", "ana", "Printer not working", baseTime.Add(-time.Hour)),
		ticket("t2", "u2", "ben", "printer  NOT working", baseTime),
	)

	points := f.submit(t, ledger.TicketOpened, "u2", "ben", map[string]any{"ticketId": "t2"})
	require.Zero(t, points)

	opened := f.find(t, ledger.Filter{TicketID: "t2", Types: []ledger.EventType{ledger.TicketOpened}})
	require.Len(t, opened, 1)
	require.True(t, opened[0].BoolDetail(ledger.DetailDuplicateDetection))
	require.Equal(t, "t1", opened[0].StringDetail(ledger.DetailDuplicateOf))

	require.Zero(t, f.submit(t, ledger.TicketClosed, "u3", "cy", map[string]any{"ticketId": "t2"}))
	require.Zero(t, f.submit(t, ledger.TicketClosed, "u2", "ben", map[string]any{"ticketId": "t2"}))
	require.Empty(t, f.find(t, ledger.Filter{TicketID: "t2", Types: []ledger.EventType{ledger.TicketClosedAssist}}))
}

func TestDuplicateScanIsBoundedByWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		ticket("old", "u1", "ana", "Printer not working", baseTime.Add(-49*time.Hour)),
		ticket("t2", "u2", "ben", "Printer not working", baseTime),
	)

	require.Equal(t, int64(9), f.submit(t, ledger.TicketOpened, "u2", "ben", map[string]any{"ticketId": "t2"}))
}

func TestOpeningWithoutTicketIDSkipsDuplicateScan(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t9", "u1", "ana", "VPN broken", baseTime))

	require.Equal(t, int64(9), f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{
		"subject":  "VPN broken",
		"priority": "High",
	}))

	opened := f.find(t, ledger.Filter{UserID: "u1", Types: []ledger.EventType{ledger.TicketOpened}})
	require.Len(t, opened, 1)
	require.False(t, opened[0].BoolDetail(ledger.DetailDuplicateDetection))
}

func TestNotesPayLessEachTimeToday(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, int64(4), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"}))
	require.Equal(t, int64(3), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"}))
	require.Equal(t, int64(2), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"}))
	require.Equal(t, int64(2), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"}))

	require.Equal(t, int64(4), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t2"}))
	require.Equal(t, int64(4), f.submit(t, ledger.NoteAdded, "u2", "ben", map[string]any{"ticketId": "t1"}))

	// 22:00 UTC starts the next business day.
	f.now = time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC)
	require.Equal(t, int64(4), f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"}))
}

func TestAssignToSelf(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("a1", "u9", "zed", "Laptop fan noise", baseTime.Add(-5*time.Hour)))
	data := map[string]any{"ticketId": "a1"}

	require.Equal(t, int64(6), f.submit(t, ledger.AssignToSelf, "u1", "ana", data))

	f.now = baseTime.Add(time.Hour)
	require.Zero(t, f.submit(t, ledger.AssignToSelf, "u1", "ana", data))

	f.now = baseTime.Add(2 * time.Hour)
	require.Zero(t, f.submit(t, ledger.AssignToSelf, "u2", "ben", data))

	f.now = baseTime.Add(6 * time.Hour)
	require.Zero(t, f.submit(t, ledger.AssignToSelf, "u1", "ana", data))

	f.now = baseTime.Add(10*time.Hour + time.Second)
	require.Equal(t, int64(6), f.submit(t, ledger.AssignToSelf, "u3", "cy", data))

	require.Zero(t, f.submit(t, ledger.AssignToSelf, "u3", "cy", map[string]any{"ticketId": "missing"}))
}

func TestShiftStarted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &helpdesk.ShiftSchedule{ID: "s1", UserID: "u2", Day: "2025-03-03", StartTime: "09:40"})

	require.Equal(t, int64(10), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{"scheduledStart": "09:55"}))
	require.Equal(t, int64(10), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{"scheduledStart": "10:30"}))
	require.Equal(t, int64(1), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{"scheduledStart": "10:31"}))
	require.Equal(t, int64(1), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{
		"scheduledStart": "10:00",
		"startedAt":      "2025-03-03T08:12:00Z",
	}))
	require.Equal(t, int64(-20), f.submit(t, ledger.ShiftStarted, "u2", "ben", nil))
	require.Equal(t, int64(1), f.submit(t, ledger.ShiftStarted, "u3", "cy", nil))
}

func TestShiftStartedAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		&helpdesk.ShiftSchedule{ID: "s1", UserID: "u2", Day: "2025-03-03", StartTime: "23:50"},
		&helpdesk.ShiftSchedule{ID: "s2", UserID: "u3", Day: "2025-03-03", StartTime: "23:50"},
		&helpdesk.ShiftSchedule{ID: "s3", UserID: "u3", Day: "2025-03-04", StartTime: "09:00"},
	)

	// 00:10 business time on 2025-03-04.
	f.now = time.Date(2025, 3, 3, 22, 10, 0, 0, time.UTC)

	require.Equal(t, int64(-20), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{"scheduledStart": "23:50"}))
	require.Equal(t, int64(-20), f.submit(t, ledger.ShiftStarted, "u2", "ben", nil))
	require.Equal(t, int64(-20), f.submit(t, ledger.ShiftStarted, "u3", "cy", nil))

	// 23:55 business time, ten minutes before a shift planned for 00:05.
	require.Equal(t, int64(10), f.submit(t, ledger.ShiftStarted, "u1", "ana", map[string]any{
		"scheduledStart": "00:05",
		"startedAt":      "2025-03-03T21:55:00Z",
	}))
}

func TestBreakExceeded(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, int64(-20), f.submit(t, ledger.BreakExceeded, "u1", "ana", map[string]any{"overageMinutes": 10}))
	require.Zero(t, f.submit(t, ledger.BreakExceeded, "u1", "ana", map[string]any{"overageMinutes": 9.5}))
	require.Zero(t, f.submit(t, ledger.BreakExceeded, "u1", "ana", nil))
}

func TestCollaboratorFailuresDegrade(t *testing.T) {
	db := testutil.NewTestDB(t, allModels()...)
	f := newFixtureWith(t, db, failingReader{})

	require.Equal(t, int64(9), f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{
		"ticketId": "t1", "priority": "High", "subject": "Printer not working",
	}))
	require.Equal(t, int64(1), f.submit(t, ledger.ShiftStarted, "u1", "ana", nil))
	require.Zero(t, f.submit(t, ledger.AssignToSelf, "u2", "ben", map[string]any{"ticketId": "t9"}))

	// Creator unknown: the closer is still paid.
	require.Equal(t, int64(4), f.submit(t, ledger.TicketClosed, "u2", "ben", map[string]any{"ticketId": "t1"}))
}

func TestClosureDistribution(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)),
		ticket("t2", "u1", "ana", "Monitor flickers", baseTime.Add(-time.Hour)),
	)

	require.Equal(t, int64(4), f.submit(t, ledger.TicketClosed, "u1", "ana", map[string]any{"ticketId": "t1"}))
	require.Equal(t, int64(4), f.net(t, "u1", "t1"))
	require.Equal(t, int64(2), f.net(t, "u2", "t1"))

	assists := f.find(t, ledger.Filter{TicketID: "t1", Types: []ledger.EventType{ledger.TicketClosedAssist}})
	require.Len(t, assists, 1)
	require.Equal(t, "u2", assists[0].UserID)
	require.Equal(t, "ben", assists[0].Username)
	require.Equal(t, "u1", assists[0].StringDetail(ledger.DetailClosedBy))

	require.Equal(t, int64(6), f.submit(t, ledger.TicketClosed, "u1", "ana", map[string]any{"ticketId": "t2"}))
	require.Empty(t, f.find(t, ledger.Filter{TicketID: "t2", Types: []ledger.EventType{ledger.TicketClosedAssist}}))
}

func TestReopenReversesEveryClosureOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)))
	data := map[string]any{"ticketId": "t1"}

	f.submit(t, ledger.TicketClosed, "u1", "ana", data)
	require.Zero(t, f.submit(t, ledger.TicketReopened, "u3", "cy", data))

	require.Zero(t, f.net(t, "u1", "t1"))
	require.Zero(t, f.net(t, "u2", "t1"))
	require.Zero(t, f.net(t, "u3", "t1"))

	reversals := f.find(t, ledger.Filter{TicketID: "t1", Types: []ledger.EventType{ledger.ClosureReversed}})
	require.Len(t, reversals, 2)

	require.Zero(t, f.submit(t, ledger.TicketReopened, "u3", "cy", data))
	require.Len(t, f.find(t, ledger.Filter{TicketID: "t1", Types: []ledger.EventType{ledger.ClosureReversed}}), 2)
	require.Zero(t, f.net(t, "u1", "t1"))

	// A closure after a tracked reopen pays again.
	require.Equal(t, int64(4), f.submit(t, ledger.TicketClosed, "u1", "ana", data))
	require.Equal(t, int64(4), f.net(t, "u1", "t1"))
	require.Equal(t, int64(2), f.net(t, "u2", "t1"))
}

func TestRepeatedClosureKeepsOnlyTheLast(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)))
	data := map[string]any{"ticketId": "t1"}

	for i := 0; i < 3; i++ {
		f.now = baseTime.Add(time.Duration(i) * time.Minute)
		require.Equal(t, int64(4), f.submit(t, ledger.TicketClosed, "u1", "ana", data))
	}

	closed := f.find(t, ledger.Filter{UserID: "u1", TicketID: "t1", Types: []ledger.EventType{ledger.TicketClosed}})
	require.Len(t, closed, 1)
	require.True(t, closed[0].CreatedAt.Equal(baseTime.Add(2*time.Minute)))

	history := f.find(t, ledger.Filter{UserID: "u1", TicketID: "t1", Types: []ledger.EventType{ledger.TicketClosed}, IncludeSuperseded: true})
	require.Len(t, history, 3)
	require.Equal(t, history[1].ID, history[0].SupersededBy)
	require.Equal(t, closed[0].ID, history[1].SupersededBy)

	require.Equal(t, int64(4), f.net(t, "u1", "t1"))
	require.Equal(t, int64(2), f.net(t, "u2", "t1"))

	score, err := f.ledger.Score(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(4), score)
}

func TestClosureAfterReopenAndRecloseStaysConsistent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)))
	data := map[string]any{"ticketId": "t1"}

	f.submit(t, ledger.TicketClosed, "u1", "ana", data)
	f.submit(t, ledger.TicketReopened, "u2", "ben", data)
	f.submit(t, ledger.TicketClosed, "u1", "ana", data)
	f.submit(t, ledger.TicketClosed, "u1", "ana", data)

	require.Equal(t, int64(4), f.net(t, "u1", "t1"))
	require.Equal(t, int64(2), f.net(t, "u2", "t1"))
	require.Empty(t, f.find(t, ledger.Filter{TicketID: "t1", Types: []ledger.EventType{ledger.ClosureReversed}}))
}

func TestUntrackedReclosurePaysNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)))
	data := map[string]any{"ticketId": "t1"}

	require.Zero(t, f.submit(t, ledger.TicketReopened, "u2", "ben", data))
	require.Zero(t, f.submit(t, ledger.TicketClosed, "u1", "ana", data))
	require.Zero(t, f.net(t, "u2", "t1"))
}

func TestDeleteReversesOnlyTheDeletersShare(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime))
	data := map[string]any{"ticketId": "t1", "priority": "Low"}

	require.Equal(t, int64(8), f.submit(t, ledger.TicketOpened, "u2", "ben", data))
	require.Equal(t, int64(4), f.submit(t, ledger.TicketClosed, "u1", "ana", data))

	require.Equal(t, int64(-10), f.submit(t, ledger.TicketDeleted, "u2", "ben", data))
	require.Zero(t, f.net(t, "u2", "t1"))
	require.Equal(t, int64(4), f.net(t, "u1", "t1"))

	deleted := f.find(t, ledger.Filter{UserID: "u2", Types: []ledger.EventType{ledger.TicketDeleted}})
	require.Len(t, deleted, 1)
	others, ok := deleted[0].IntDetail("co_beneficiary_entries")
	require.True(t, ok)
	require.Equal(t, int64(1), others)
	require.Len(t, deleted[0].StringsDetail(ledger.DetailReversedEventIDs), 2)

	require.Zero(t, f.submit(t, ledger.TicketDeleted, "u2", "ben", data))
	require.Zero(t, f.net(t, "u2", "t1"))
}

func TestMilestones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := func(i int) {
		f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{
			"ticketId": "m" + string(rune('a'+i)),
			"priority": "Low",
		})
	}
	bonuses := func() []*ledger.PointEvent {
		return f.find(t, ledger.Filter{UserID: "u1", Types: []ledger.EventType{ledger.MilestoneBonus}})
	}

	for i := 0; i < 9; i++ {
		open(i)
	}
	require.Empty(t, bonuses())

	open(9)
	got := bonuses()
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].PointsAwarded)
	threshold, ok := got[0].IntDetail(ledger.DetailThreshold)
	require.True(t, ok)
	require.Equal(t, int64(10), threshold)

	msg, err := f.pub.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, "🎉 ana reached 10 tickets today!", msg.Message)

	for i := 10; i < 14; i++ {
		open(i)
	}
	require.Len(t, bonuses(), 1)

	open(14)
	got = bonuses()
	require.Len(t, got, 2)
	threshold, _ = got[1].IntDetail(ledger.DetailThreshold)
	require.Equal(t, int64(15), threshold)

	msg, err = f.pub.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, "🎉 ana reached 15 tickets today!", msg.Message)

	var active int64
	require.NoError(t, f.db.Model(&notify.BroadcastMessage{}).Where("is_active = ?", true).Count(&active).Error)
	require.Equal(t, int64(1), active)

	open(15)
	require.Len(t, bonuses(), 2)

	score, err := f.ledger.Score(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(16*8+40), score)
}

func TestDuplicatesAndUnpaidAssignmentsDoNotCountTowardMilestone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("orig", "u9", "zed", "Printer not working", baseTime.Add(-time.Hour)))

	for i := 0; i < 9; i++ {
		f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{"ticketId": "m" + string(rune('a'+i))})
	}
	f.submit(t, ledger.TicketOpened, "u1", "ana", map[string]any{"ticketId": "dup", "subject": "Printer not working!"})
	f.submit(t, ledger.AssignToSelf, "u1", "ana", map[string]any{"ticketId": "orig"})

	require.Empty(t, f.find(t, ledger.Filter{UserID: "u1", Types: []ledger.EventType{ledger.MilestoneBonus}}))
}

func TestRedeliveredEventIsScoredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := func(id string) *Event {
		return &Event{EventID: id, EventType: ledger.NoteAdded, UserID: "u1", Username: "ana", Data: map[string]any{"ticketId": "t1"}}
	}

	res, err := f.svc.Process(ctx, ev("evt-1"))
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PointsAwarded)

	res, err = f.svc.Process(ctx, ev("evt-1"))
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PointsAwarded)
	require.Len(t, f.find(t, ledger.Filter{UserID: "u1"}), 1)
	require.Len(t, f.enq.tasks, 1)

	res, err = f.svc.Process(ctx, ev("evt-2"))
	require.NoError(t, err)
	require.Equal(t, int64(3), res.PointsAwarded)
}

func TestAbandonedClaimIsScoredOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t,
		&ledger.ProcessedEvent{ID: "evt-stale", UserID: "u1", EventType: string(ledger.NoteAdded), CreatedAt: time.Now().Add(-time.Hour)},
		&ledger.ProcessedEvent{ID: "evt-live", UserID: "u1", EventType: string(ledger.NoteAdded), CreatedAt: time.Now()},
	)
	ev := func(id string) *Event {
		return &Event{EventID: id, EventType: ledger.NoteAdded, UserID: "u1", Username: "ana", Data: map[string]any{"ticketId": "t1"}}
	}

	res, err := f.svc.Process(ctx, ev("evt-stale"))
	require.NoError(t, err)
	require.Equal(t, int64(4), res.PointsAwarded)

	_, err = f.svc.Process(ctx, ev("evt-live"))
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.As(err).Status())

	require.Len(t, f.find(t, ledger.Filter{UserID: "u1"}), 1)
}

func TestLedgerFailureFailsTheRequest(t *testing.T) {
	db := testutil.NewTestDB(t, append(notify.Models(), helpdesk.Models()...)...)
	f := newFixtureWith(t, db, nil)

	_, err := f.svc.Process(context.Background(), &Event{EventType: ledger.AttachmentAdded, UserID: "u1", Username: "ana"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusInternal, errutil.As(err).Status())
	require.Empty(t, f.enq.tasks)
}

func TestAchievementTasksAndKudos(t *testing.T) {
	f := newFixture(t)

	f.submit(t, ledger.NoteAdded, "u1", "ana", map[string]any{"ticketId": "t1"})
	require.Len(t, f.enq.tasks, 1)
	require.Equal(t, taskname.AchievementEvaluate, f.enq.tasks[0].Type())

	var payload achievement.EvaluatePayload
	require.NoError(t, json.Unmarshal(f.enq.tasks[0].Payload(), &payload))
	require.Equal(t, ledger.NoteAdded, payload.EventType)
	require.Equal(t, "t1", payload.TicketID)
	require.True(t, payload.OccurredAt.Equal(baseTime))
	require.Equal(t, float64(1), payload.Details["note_number"])

	f.submit(t, ledger.KudosReceived, "u2", "ben", map[string]any{"fromUsername": "ana"})
	require.Len(t, f.enq.tasks, 1)

	var n notify.Notification
	require.NoError(t, f.db.Where("user_id = ? AND type = ?", "u2", notify.TypeKudos).First(&n).Error)
	require.Equal(t, "Kudos received from ana", n.Message)

	f.enq.err = errors.New("redis down")
	require.Equal(t, int64(3), f.submit(t, ledger.AttachmentAdded, "u1", "ana", nil))
	require.Equal(t, int64(-10), f.submit(t, ledger.AssignmentAcceptedSlow, "u1", "ana", nil))
}

func TestHandlerSubmitEvent(t *testing.T) {
	f := newFixture(t)
	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(f.svc).RegisterRoutes(r)

	post := func(body string) (int, map[string]any) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/points/events", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		var out map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return w.Code, out
	}

	code, body := post(`{"eventType":"ATTACHMENT_ADDED","userId":"u1","username":"ana","data":{"ticketId":"t1"}}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])
	require.Equal(t, float64(3), body["pointsAwarded"])

	code, body = post(`{"eventType":"ATTACHMENT_ADDED","username":"ana"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "missing required fields: userId", body["error"])

	code, _ = post(`{"eventType":`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = post(`{"eventType":"SOMETHING_NEW","userId":"u1","username":"ana"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(0), body["pointsAwarded"])
}

func TestConcurrentClosuresLeaveOneEffectiveClosure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, ticket("t1", "u2", "ben", "Outlook crashes", baseTime.Add(-time.Hour)))
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := f.svc.Process(ctx, &Event{
				EventType: ledger.TicketClosed,
				UserID:    "u1",
				Username:  "ana",
				Data:      map[string]any{"ticketId": "t1"},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, f.find(t, ledger.Filter{UserID: "u1", TicketID: "t1", Types: []ledger.EventType{ledger.TicketClosed}}), 1)
	require.Len(t, f.find(t, ledger.Filter{TicketID: "t1", Types: []ledger.EventType{ledger.TicketClosedAssist}}), 1)
	require.Equal(t, int64(4), f.net(t, "u1", "t1"))
	require.Equal(t, int64(2), f.net(t, "u2", "t1"))
}

func TestConcurrentOpeningsPayTheTenTicketMilestoneOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("c%d", i)
		g.Go(func() error {
			_, err := f.svc.Process(ctx, &Event{
				EventType: ledger.TicketOpened,
				UserID:    "u1",
				Username:  "ana",
				Data:      map[string]any{"ticketId": id, "priority": "Low"},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	bonuses := f.find(t, ledger.Filter{UserID: "u1", Types: []ledger.EventType{ledger.MilestoneBonus}})
	require.Len(t, bonuses, 1)
	threshold, ok := bonuses[0].IntDetail(ledger.DetailThreshold)
	require.True(t, ok)
	require.Equal(t, int64(10), threshold)

	var broadcasts int64
	require.NoError(t, f.db.Model(&notify.BroadcastMessage{}).Count(&broadcasts).Error)
	require.Equal(t, int64(1), broadcasts)
}
