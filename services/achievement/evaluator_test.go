package achievement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/lock"
	"helpdesk-gamification/pkg/middleware"
	"helpdesk-gamification/services/helpdesk"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"
	"helpdesk-gamification/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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

const today = "2025-03-03"

type fixture struct {
	db        *gorm.DB
	ledger    *ledger.Service
	evaluator *Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	models := append(Models(), ledger.Models()...)
	models = append(models, notify.Models()...)
	models = append(models, helpdesk.Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	directory := helpdesk.NewStore(helpdesk.StoreParams{DB: db})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	e, err := NewEvaluator(EvaluatorParams{
		DB:        db,
		Node:      node,
		Config:    &config.Config{},
		Ledger:    ledgerSvc,
		Directory: directory,
		Publisher: notify.NewService(notify.ServiceParams{DB: db, Node: node, Directory: directory}),
		Locker:    lock.NewLocalLocker(),
	})
	require.NoError(t, err)
	e.now = func() time.Time { return baseTime }

	return &fixture{db: db, ledger: ledgerSvc, evaluator: e}
}

func (f *fixture) seed(t *testing.T, rows ...any) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, f.db.Create(r).Error)
	}
}

func (f *fixture) awards(t *testing.T, userID string) []*BadgeAward {
	t.Helper()
	awards, err := f.evaluator.Awards(context.Background(), userID, today)
	require.NoError(t, err)
	return awards
}

func (f *fixture) notifications(t *testing.T, typ string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&notify.Notification{}).Where("type = ?", typ).Count(&n).Error)
	return n
}

func ptr(t time.Time) *time.Time { return &t }

func TestCatalog(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)

	earned, err := c.Earned(&DailyStats{FastClosures: 6, ConsecutiveMax: 3, FastResponseCount: 3})
	require.NoError(t, err)
	require.Equal(t, []BadgeID{SpeedDemon, Lightning}, earned)

	earned, err = c.Earned(&DailyStats{SlowResponses: 1})
	require.NoError(t, err)
	require.Equal(t, []BadgeID{Slowpoke}, earned)

	earned, err = c.Earned(&DailyStats{FastClosures: 5})
	require.NoError(t, err)
	require.Empty(t, earned)

	all := map[BadgeID]bool{SpeedDemon: true, Sniper: true, Lightning: true, TopScorer: true}
	require.True(t, c.PerfectDay(all))
	all[Slowpoke] = true
	require.False(t, c.PerfectDay(all))
	require.False(t, c.PerfectDay(map[BadgeID]bool{SpeedDemon: true, Sniper: true, Lightning: true}))
}

func TestFastClosuresAwardSpeedDemonOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		id := string(rune('a' + i))
		f.seed(t, &helpdesk.Ticket{
			ID:          id,
			Subject:     "ticket " + id,
			CreatedBy:   "u1",
			ClosedBy:    "u1",
			CreatedAt:   baseTime,
			CompletedAt: ptr(baseTime.Add(30 * time.Minute)),
		})
		require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
			EventType:  ledger.TicketClosed,
			UserID:     "u1",
			Username:   "ana",
			TicketID:   id,
			OccurredAt: baseTime.Add(30 * time.Minute),
		}))
	}

	stats, err := f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(7), stats.FastClosures)

	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, SpeedDemon, awards[0].BadgeID)
	require.Equal(t, int64(1), f.notifications(t, notify.TypeBadge))
}

func TestSlowClosureUsesAssignmentTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t,
		&helpdesk.Ticket{
			ID:          "slow",
			CreatedBy:   "u9",
			AssignedTo:  "u1",
			AssignedAt:  ptr(baseTime),
			CreatedAt:   baseTime.Add(-5 * time.Hour),
			CompletedAt: ptr(baseTime.Add(31 * time.Minute)),
		},
		&helpdesk.Ticket{
			ID:          "fast",
			CreatedBy:   "u9",
			AssignedTo:  "u1",
			AssignedAt:  ptr(baseTime),
			CreatedAt:   baseTime.Add(-5 * time.Hour),
			CompletedAt: ptr(baseTime.Add(20 * time.Minute)),
		},
	)

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{EventType: ledger.TicketClosed, UserID: "u1", Username: "ana", TicketID: "slow", OccurredAt: baseTime}))
	stats, err := f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Nil(t, stats)

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{EventType: ledger.TicketClosed, UserID: "u1", Username: "ana", TicketID: "fast", OccurredAt: baseTime}))
	stats, err = f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.FastClosures)
}

func TestLightningNeedsSourceResponseAndResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, source := range []string{"email", "Email", "phone", "email"} {
		id := string(rune('a' + i))
		f.seed(t,
			&helpdesk.Ticket{
				ID:          id,
				Source:      source,
				CreatedBy:   "u1",
				CreatedAt:   baseTime,
				CompletedAt: ptr(baseTime.Add(90 * time.Minute)),
			},
			&helpdesk.Note{ID: "n" + id, TicketID: id, UserID: "u1", CreatedAt: baseTime.Add(15 * time.Minute)},
		)
		require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
			EventType: ledger.TicketClosed, UserID: "u1", Username: "ana", TicketID: id, OccurredAt: baseTime.Add(90 * time.Minute),
		}))
	}

	stats, err := f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.FastResponseCount)
	require.Zero(t, stats.FastClosures)

	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, Lightning, awards[0].BadgeID)
}

func TestSniperStreakSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	take := func(e *Evaluator, userID string) {
		require.NoError(t, e.Evaluate(ctx, EvaluatePayload{EventType: ledger.AssignToSelf, UserID: userID, Username: userID, OccurredAt: baseTime}))
	}

	take(f.evaluator, "u1")
	take(f.evaluator, "u1")
	take(f.evaluator, "u1")
	take(f.evaluator, "u2")
	take(f.evaluator, "u1")
	take(f.evaluator, "u1")
	take(f.evaluator, "u1")

	stats, err := f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.ConsecutiveMax)
	require.Empty(t, f.awards(t, "u1"))

	restarted := *f.evaluator
	take(&restarted, "u1")

	stats, err = f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.ConsecutiveCurrent)
	require.Equal(t, int64(4), stats.ConsecutiveMax)

	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, Sniper, awards[0].BadgeID)
}

func TestStreakRestartsOnNewBusinessDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{EventType: ledger.TicketOpened, UserID: "u1", Username: "ana", OccurredAt: baseTime}))
	}
	// 22:30 UTC is already the next business day.
	tomorrow := time.Date(2025, 3, 3, 22, 30, 0, 0, time.UTC)
	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{EventType: ledger.TicketOpened, UserID: "u1", Username: "ana", OccurredAt: tomorrow}))

	stats, err := f.evaluator.Stats(ctx, "u1", "2025-03-04")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ConsecutiveMax)
}

func TestLateShiftAwardsSlowpoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
		EventType: ledger.ShiftStarted, UserID: "u1", Username: "ana", OccurredAt: baseTime,
		Details: map[string]any{"minutes_late": 15.0},
	}))
	require.Empty(t, f.awards(t, "u1"))

	for i := 0; i < 2; i++ {
		require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
			EventType: ledger.ShiftStarted, UserID: "u1", Username: "ana", OccurredAt: baseTime,
			Details: map[string]any{"minutes_late": 16.0},
		}))
	}

	stats, err := f.evaluator.Stats(ctx, "u1", today)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.LateShiftStarts)

	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, Slowpoke, awards[0].BadgeID)
}

func TestSlowFirstNoteAwardsSlowpoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t,
		&helpdesk.Ticket{ID: "t1", CreatedBy: "u9", AssignedTo: "u1", AssignedAt: ptr(baseTime), CreatedAt: baseTime.Add(-time.Hour)},
		&helpdesk.Note{ID: "n1", TicketID: "t1", UserID: "u1", CreatedAt: baseTime.Add(45 * time.Minute)},
		&helpdesk.Ticket{ID: "t2", CreatedBy: "u2", CreatedAt: baseTime},
		&helpdesk.Note{ID: "n2", TicketID: "t2", UserID: "u2", CreatedAt: baseTime.Add(20 * time.Minute)},
	)

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
		EventType: ledger.NoteAdded, UserID: "u2", Username: "ben", TicketID: "t2", OccurredAt: baseTime.Add(20 * time.Minute),
		Details: map[string]any{"note_number": 1.0},
	}))
	require.Empty(t, f.awards(t, "u2"))

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
		EventType: ledger.NoteAdded, UserID: "u1", Username: "ana", TicketID: "t1", OccurredAt: baseTime.Add(45 * time.Minute),
		Details: map[string]any{"note_number": 2.0},
	}))
	require.Empty(t, f.awards(t, "u1"))

	require.NoError(t, f.evaluator.Evaluate(ctx, EvaluatePayload{
		EventType: ledger.NoteAdded, UserID: "u1", Username: "ana", TicketID: "t1", OccurredAt: baseTime.Add(45 * time.Minute),
		Details: map[string]any{"note_number": 1.0},
	}))
	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, Slowpoke, awards[0].BadgeID)
}

func perfectDayBonuses(t *testing.T, f *fixture, userID string) []*ledger.PointEvent {
	t.Helper()
	bonuses, err := f.ledger.Find(context.Background(), ledger.Filter{UserID: userID, Types: []ledger.EventType{ledger.AchievementBonus}})
	require.NoError(t, err)
	return bonuses
}

func TestPerfectDayPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t,
		&helpdesk.User{ID: "u1", Username: "ana", IsActive: true},
		&helpdesk.User{ID: "u2", Username: "ben", IsActive: true},
		&helpdesk.User{ID: "u3", Username: "cy", IsActive: true},
	)

	for _, b := range []BadgeID{SpeedDemon, Sniper, Lightning} {
		awarded, err := f.evaluator.Award(ctx, "u1", "ana", today, b, nil)
		require.NoError(t, err)
		require.True(t, awarded)
	}
	require.Empty(t, perfectDayBonuses(t, f, "u1"))

	awarded, err := f.evaluator.Award(ctx, "u1", "ana", today, TopScorer, nil)
	require.NoError(t, err)
	require.True(t, awarded)

	bonuses := perfectDayBonuses(t, f, "u1")
	require.Len(t, bonuses, 1)
	require.Equal(t, int64(50), bonuses[0].PointsAwarded)
	require.Equal(t, "perfect_day", bonuses[0].StringDetail(ledger.DetailKind))
	require.Equal(t, int64(3), f.notifications(t, notify.TypePerfectDay))

	for _, b := range []BadgeID{SpeedDemon, Sniper, Lightning, TopScorer} {
		awarded, err := f.evaluator.Award(ctx, "u1", "ana", today, b, nil)
		require.NoError(t, err)
		require.False(t, awarded)
	}
	require.Len(t, perfectDayBonuses(t, f, "u1"), 1)
	require.Equal(t, int64(3), f.notifications(t, notify.TypePerfectDay))

	score, err := f.ledger.Score(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(50), score)
}

func TestPerfectDayBlockedByNegativeBadge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, b := range []BadgeID{Slowpoke, SpeedDemon, Sniper, Lightning, TopScorer} {
		_, err := f.evaluator.Award(ctx, "u1", "ana", today, b, nil)
		require.NoError(t, err)
	}
	require.Empty(t, perfectDayBonuses(t, f, "u1"))
}

func TestAwardTopScorerIncludesTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := baseTime.Add(-24 * time.Hour)
	require.NoError(t, f.ledger.Append(ctx,
		&ledger.PointEvent{UserID: "u1", Username: "ana", EventType: ledger.TicketOpened, PointsAwarded: 20, CreatedAt: yesterday},
		&ledger.PointEvent{UserID: "u2", Username: "ben", EventType: ledger.TicketOpened, PointsAwarded: 9, CreatedAt: yesterday},
		&ledger.PointEvent{UserID: "u2", Username: "ben", EventType: ledger.TicketClosed, PointsAwarded: 11, CreatedAt: yesterday},
		&ledger.PointEvent{UserID: "u3", Username: "cy", EventType: ledger.TicketOpened, PointsAwarded: 8, CreatedAt: yesterday},
		&ledger.PointEvent{UserID: "u3", Username: "cy", EventType: ledger.TicketOpened, PointsAwarded: 90, CreatedAt: baseTime},
	))

	winners, err := f.evaluator.AwardTopScorer(ctx, "2025-03-02")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, winners)

	again, err := f.evaluator.AwardTopScorer(ctx, "2025-03-02")
	require.NoError(t, err)
	require.Empty(t, again)

	nobody, err := f.evaluator.AwardTopScorer(ctx, "2025-02-01")
	require.NoError(t, err)
	require.Empty(t, nobody)

	_, err = f.evaluator.AwardTopScorer(ctx, "yesterday")
	require.Error(t, err)
}

func TestHandlerUserBadges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.evaluator.Award(ctx, "u1", "ana", today, SpeedDemon, map[string]any{"fast_closures": 6})
	require.NoError(t, err)
	_, err = f.evaluator.increment(ctx, "u1", today, fastClosures)
	require.NoError(t, err)
	f.seed(t,
		&helpdesk.Ticket{ID: "t1", CreatedBy: "u1", ClosedBy: "u1", CreatedAt: baseTime, CompletedAt: ptr(baseTime.Add(time.Minute))},
		&helpdesk.Ticket{ID: "t2", CreatedBy: "u1", ClosedBy: "u1", CreatedAt: baseTime, CompletedAt: ptr(baseTime.Add(-48 * time.Hour))},
	)

	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(f.evaluator).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/badges/users/u1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Day    string       `json:"day"`
		Awards []BadgeAward `json:"awards"`
		Stats  *DailyStats  `json:"stats"`
		Closed int          `json:"closed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, today, body.Day)
	require.Len(t, body.Awards, 1)
	require.Equal(t, SpeedDemon, body.Awards[0].BadgeID)
	require.Equal(t, int64(1), body.Stats.FastClosures)
	require.Equal(t, 1, body.Closed)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/badges/users/u1?day=2025-03-02", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Empty(t, body.Awards)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/badges/users/u1?day=03/03/2025", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConcurrentAwardOfSameBadgeWritesOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		g       errgroup.Group
		granted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			ok, err := f.evaluator.Award(ctx, "u1", "ana", today, SpeedDemon, map[string]any{"fast_closures": 6})
			if ok {
				granted.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), granted.Load())
	require.Len(t, f.awards(t, "u1"), 1)
	require.Equal(t, int64(1), f.notifications(t, notify.TypeBadge))
}
