package achievement

import (
	"context"

	"go.uber.org/zap"
)

// AwardTopScorer gives the top scorer badge for day to every user sharing
// the highest positive point total of that business day.
func (e *Evaluator) AwardTopScorer(ctx context.Context, day string) ([]string, error) {
	start, err := e.dayStart(day)
	if err != nil {
		return nil, err
	}
	from, to := e.cal.Bounds(start)

	totals, err := e.ledger.Totals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 || totals[0].Total <= 0 {
		e.log(ctx).Info("no top scorer", zap.String("day", day))
		return nil, nil
	}

	best := totals[0].Total
	var winners []string
	for _, t := range totals {
		if t.Total != best {
			break
		}
		awarded, err := e.Award(ctx, t.UserID, t.Username, day, TopScorer, map[string]any{"total": t.Total})
		if err != nil {
			return winners, err
		}
		if awarded {
			winners = append(winners, t.UserID)
		}
	}
	return winners, nil
}
