package achievement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/taskname"
	"helpdesk-gamification/services/ledger"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func TestTracks(t *testing.T) {
	require.True(t, Tracks(ledger.TicketClosed))
	require.True(t, Tracks(ledger.ShiftStarted))
	require.True(t, Tracks(ledger.NoteAdded))
	require.False(t, Tracks(ledger.KudosReceived))
	require.False(t, Tracks(ledger.MilestoneBonus))
}

func TestPayloadNumberAcceptsDecodedDetails(t *testing.T) {
	p := EvaluatePayload{Details: map[string]any{
		"from_storage": json.Number("17.5"),
		"from_wire":    float64(3),
		"built":        int64(2),
		"bad":          json.Number("soon"),
		"text":         "4",
	}}

	n, ok := p.number("from_storage")
	require.True(t, ok)
	require.Equal(t, 17.5, n)

	n, ok = p.number("from_wire")
	require.True(t, ok)
	require.Equal(t, float64(3), n)

	n, ok = p.number("built")
	require.True(t, ok)
	require.Equal(t, float64(2), n)

	_, ok = p.number("bad")
	require.False(t, ok)
	_, ok = p.number("text")
	require.False(t, ok)
}

func TestHandleEvaluateRunsEvaluator(t *testing.T) {
	f := newFixture(t)
	h := NewTaskHandler(f.evaluator)

	task, err := NewEvaluateTask(EvaluatePayload{
		EventType:  ledger.ShiftStarted,
		UserID:     "u1",
		Username:   "ana",
		OccurredAt: baseTime,
		Details:    map[string]any{"minutes_late": int64(40)},
	})
	require.NoError(t, err)
	require.Equal(t, taskname.AchievementEvaluate, task.Type())

	require.NoError(t, h.HandleEvaluate(context.Background(), task))

	awards := f.awards(t, "u1")
	require.Len(t, awards, 1)
	require.Equal(t, Slowpoke, awards[0].BadgeID)
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	f := newFixture(t)
	h := NewTaskHandler(f.evaluator)

	err := h.HandleEvaluate(context.Background(), asynq.NewTask(taskname.AchievementEvaluate, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleTopScorer(context.Background(), asynq.NewTask(taskname.BadgeTopScorer, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSchedulerEnqueuesPreviousBusinessDay(t *testing.T) {
	enq := &fakeEnqueuer{}
	s, err := NewScheduler(&config.Config{}, enq)
	require.NoError(t, err)
	require.Equal(t, 0, s.hour)
	require.Equal(t, 5, s.minute)

	// 00:05 business time on 2025-03-04.
	s.now = func() time.Time { return time.Date(2025, 3, 3, 22, 5, 0, 0, time.UTC) }
	require.NoError(t, s.runDaily(context.Background()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.BadgeTopScorer, enq.tasks[0].Type())

	var payload TopScorerPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "2025-03-03", payload.Day)

	enq.err = asynq.ErrTaskIDConflict
	require.NoError(t, s.runDaily(context.Background()))

	enq.err = errors.New("redis down")
	require.Error(t, s.runDaily(context.Background()))
}

func TestSchedulerRejectsBadRunTime(t *testing.T) {
	cfg := &config.Config{}
	cfg.Achievement.TopScorerRunAt = "25:99"
	_, err := NewScheduler(cfg, &fakeEnqueuer{})
	require.Error(t, err)
}
