package notify

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/broadcasts/active", h.ActiveBroadcast)
}

func (h *Handler) ActiveBroadcast(c *gin.Context) {
	msg, err := h.svc.Active(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, msg)
}
