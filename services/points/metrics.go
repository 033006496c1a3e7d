package points

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_events_processed_total",
		Help: "Intake events scored, by event type.",
	}, []string{"event_type"})
	duplicatesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "points_duplicate_tickets_total",
		Help: "Ticket creations flagged as duplicates.",
	})
	milestonesAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_milestones_awarded_total",
		Help: "Milestone bonuses awarded, by threshold.",
	}, []string{"threshold"})
)

func init() {
	prometheus.MustRegister(eventsProcessed, duplicatesDetected, milestonesAwarded)
}
