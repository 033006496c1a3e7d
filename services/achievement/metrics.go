package achievement

import "github.com/prometheus/client_golang/prometheus"

var (
	badgesAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "achievement_badges_awarded_total",
		Help: "Badges awarded, by badge.",
	}, []string{"badge_id"})
	perfectDays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "achievement_perfect_days_total",
		Help: "Perfect day bonuses paid.",
	})
)

func init() {
	prometheus.MustRegister(badgesAwarded, perfectDays)
}
