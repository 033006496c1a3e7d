package achievement

import (
	"fmt"

	"helpdesk-gamification/pkg/celengine"

	"github.com/google/cel-go/cel"
)

type Badge struct {
	ID          BadgeID
	Name        string
	Description string
	Negative    bool
	// Criteria is a CEL expression over DailyStats attributes. Badges
	// without one are awarded by a scheduled job.
	Criteria string
}

var badges = []Badge{
	{
		ID:          SpeedDemon,
		Name:        "Speed Demon",
		Description: "Closed 6 tickets within 30 minutes of picking them up",
		Criteria:    "fast_closures >= 6",
	},
	{
		ID:          Sniper,
		Name:        "Sniper",
		Description: "Took 4 tickets in a row",
		Criteria:    "consecutive_max >= 4",
	},
	{
		ID:          Lightning,
		Name:        "Lightning",
		Description: "Answered within 15 minutes and closed within 2 hours, 3 times",
		Criteria:    "fast_response_count >= 3",
	},
	{
		ID:          TopScorer,
		Name:        "Top Scorer",
		Description: "Most points of the day",
	},
	{
		ID:          Slowpoke,
		Name:        "Slowpoke",
		Description: "Started a shift or answered a ticket late",
		Negative:    true,
		Criteria:    "late_shift_starts + slow_responses >= 1",
	},
}

type compiledBadge struct {
	Badge
	program cel.Program
}

// Catalog holds the badge set with criteria compiled.
type Catalog struct {
	badges []compiledBadge
	byID   map[BadgeID]Badge
}

func NewCatalog() (*Catalog, error) {
	env, err := celengine.GetOrBuildEnv("badge_daily_stats", (&DailyStats{}).Attributes())
	if err != nil {
		return nil, fmt.Errorf("build badge environment: %w", err)
	}

	c := &Catalog{byID: make(map[BadgeID]Badge, len(badges))}
	for _, b := range badges {
		c.byID[b.ID] = b
		if b.Criteria == "" {
			c.badges = append(c.badges, compiledBadge{Badge: b})
			continue
		}
		prg, err := celengine.Compile(env, b.Criteria)
		if err != nil {
			return nil, fmt.Errorf("compile criteria for %s: %w", b.ID, err)
		}
		c.badges = append(c.badges, compiledBadge{Badge: b, program: prg})
	}
	return c, nil
}

func (c *Catalog) Get(id BadgeID) (Badge, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// Earned lists the criteria badges the stats satisfy, in catalog order.
func (c *Catalog) Earned(stats *DailyStats) ([]BadgeID, error) {
	attrs := stats.Attributes()
	var out []BadgeID
	for _, b := range c.badges {
		if b.program == nil {
			continue
		}
		ok, err := celengine.EvalBool(b.program, attrs)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", b.ID, err)
		}
		if ok {
			out = append(out, b.ID)
		}
	}
	return out, nil
}

// PerfectDay reports whether held contains every positive badge and no
// negative one.
func (c *Catalog) PerfectDay(held map[BadgeID]bool) bool {
	for _, b := range c.badges {
		if b.Negative == held[b.ID] {
			return false
		}
	}
	return true
}
