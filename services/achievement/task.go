package achievement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"helpdesk-gamification/pkg/taskname"
	"helpdesk-gamification/services/ledger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EvaluatePayload carries one scored lifecycle event to the worker. Details
// are the details of the ledger entry written for it, when there was one.
type EvaluatePayload struct {
	EventType  ledger.EventType `json:"event_type"`
	UserID     string           `json:"user_id"`
	Username   string           `json:"username"`
	TicketID   string           `json:"ticket_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
	Details    map[string]any   `json:"details,omitempty"`
}

func (p EvaluatePayload) number(key string) (float64, bool) {
	switch v := p.Details[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Tracks reports whether events of type t feed the badge counters.
func Tracks(t ledger.EventType) bool {
	switch t {
	case ledger.TicketClosed, ledger.TicketOpened, ledger.AssignToSelf,
		ledger.AssignmentAcceptedFast, ledger.AssignmentAcceptedSlow,
		ledger.ShiftStarted, ledger.NoteAdded:
		return true
	}
	return false
}

func NewEvaluateTask(p EvaluatePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.AchievementEvaluate, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Queue("default")), nil
}

type TopScorerPayload struct {
	Day string `json:"day"`
}

func NewTopScorerTask(day string) (*asynq.Task, error) {
	payload, err := json.Marshal(TopScorerPayload{Day: day})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.BadgeTopScorer, payload,
		asynq.MaxRetry(5),
		asynq.Queue("low")), nil
}

type TaskHandler struct {
	evaluator *Evaluator
}

func NewTaskHandler(e *Evaluator) *TaskHandler {
	return &TaskHandler{evaluator: e}
}

func (h *TaskHandler) HandleEvaluate(ctx context.Context, t *asynq.Task) error {
	var payload EvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	log := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("event_type", string(payload.EventType)),
		zap.String("user_id", payload.UserID),
	)
	if err := h.evaluator.Evaluate(ctx, payload); err != nil {
		log.Error("achievement evaluation failed", zap.Error(err))
		return err
	}
	log.Debug("achievement evaluated")
	return nil
}

func (h *TaskHandler) HandleTopScorer(ctx context.Context, t *asynq.Task) error {
	var payload TopScorerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	winners, err := h.evaluator.AwardTopScorer(ctx, payload.Day)
	if err != nil {
		zap.L().Error("top scorer job failed", zap.String("day", payload.Day), zap.Error(err))
		return err
	}
	zap.L().Info("top scorer job finished", zap.String("day", payload.Day), zap.Strings("winners", winners))
	return nil
}

func registerTasks(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.AchievementEvaluate, h.HandleEvaluate)
	mux.HandleFunc(taskname.BadgeTopScorer, h.HandleTopScorer)
}
