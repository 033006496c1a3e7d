package ledger

import (
	"net/http"
	"strings"
	"time"

	"helpdesk-gamification/pkg/db/pagination"
	"helpdesk-gamification/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api/v1/points")
	g.GET("/users/:user_id/score", h.Score)
	g.GET("/events", h.ListEvents)
}

func (h *Handler) Score(c *gin.Context) {
	userID := c.Param("user_id")
	score, err := h.svc.Score(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to compute score", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "score": score})
}

type listEventsQuery struct {
	pagination.Pagination
	UserID            string `form:"user_id"`
	TicketID          string `form:"ticket_id"`
	EventType         string `form:"event_type"`
	From              string `form:"from"`
	To                string `form:"to"`
	IncludeSuperseded bool   `form:"include_superseded"`
}

func (q listEventsQuery) filter() (Filter, error) {
	f := Filter{
		UserID:            q.UserID,
		TicketID:          q.TicketID,
		IncludeSuperseded: q.IncludeSuperseded,
	}
	for _, t := range strings.Split(q.EventType, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Types = append(f.Types, EventType(t))
		}
	}

	var err error
	if q.From != "" {
		if f.From, err = time.Parse(time.RFC3339, q.From); err != nil {
			return f, errutil.BadRequest("from must be an RFC3339 timestamp", err)
		}
	}
	if q.To != "" {
		if f.To, err = time.Parse(time.RFC3339, q.To); err != nil {
			return f, errutil.BadRequest("to must be an RFC3339 timestamp", err)
		}
	}
	return f, nil
}

func (h *Handler) ListEvents(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	f, err := q.filter()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if q.Cursor != "" {
		if _, err := pagination.DecodeCursor(q.Cursor); err != nil {
			_ = c.Error(errutil.BadRequest("invalid cursor", err))
			return
		}
	}

	events, page, err := h.svc.Page(c.Request.Context(), f, q.Pagination)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to list point events", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "page_info": page})
}
