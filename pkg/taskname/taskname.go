package taskname

const (
	// Achievement tasks
	AchievementEvaluate = "achievement:evaluate"
	BadgeTopScorer      = "badge:top_scorer"
)
