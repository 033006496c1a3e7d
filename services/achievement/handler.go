package achievement

import (
	"net/http"

	"helpdesk-gamification/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	evaluator *Evaluator
}

func NewHandler(e *Evaluator) *Handler {
	return &Handler{evaluator: e}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/badges/users/:user_id", h.UserBadges)
}

// UserBadges returns the user's badges, counters and closed ticket count for
// ?day=YYYY-MM-DD, defaulting to the current business day.
func (h *Handler) UserBadges(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	day := c.Query("day")
	if day == "" {
		day = h.evaluator.cal.DayKey(h.evaluator.now())
	} else if _, err := h.evaluator.dayStart(day); err != nil {
		_ = c.Error(errutil.BadRequest("day must be formatted as YYYY-MM-DD", err))
		return
	}

	awards, err := h.evaluator.Awards(ctx, userID, day)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load badges", err))
		return
	}
	stats, err := h.evaluator.Stats(ctx, userID, day)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load badge stats", err))
		return
	}
	if awards == nil {
		awards = []*BadgeAward{}
	}

	start, _ := h.evaluator.dayStart(day)
	from, to := h.evaluator.cal.Bounds(start)
	closed, err := h.evaluator.directory.ListClosedBy(ctx, userID, from, to)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load closed tickets", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"day":     day,
		"awards":  awards,
		"stats":   stats,
		"closed":  len(closed),
	})
}
