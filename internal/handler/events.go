package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mtfcascade/internal/service"
)

// EventsHandler receives position and order lifecycle callbacks from the trading layer.
type EventsHandler struct {
	Router *service.EligibilityRouter
}

func (h *EventsHandler) Register(g *gin.RouterGroup) {
	g.POST("/events/:kind", h.apply)
}

// @Summary Apply a position or order lifecycle event
// @Tags events
// @Security BearerAuth
// @Param kind path string true "position-opened|position-closed|order-placed|order-canceled"
// @Param body body service.LifecycleEvent true "event"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/events/{kind} [post]
func (h *EventsHandler) apply(c *gin.Context) {
	if h.Router == nil {
		Error(c, http.StatusInternalServerError, "router unavailable", nil)
		return
	}
	kind, err := service.ParseLifecycleKind(c.Param("kind"))
	if err != nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	var ev service.LifecycleEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if ev.Source == "" {
		ev.Source = "http"
	}
	applied, err := h.Router.Apply(c.Request.Context(), kind, ev)
	if err != nil {
		if errors.Is(err, service.ErrEmptyEventID) || errors.Is(err, service.ErrSymbolRequired) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		if errors.Is(err, service.ErrSymbolNotSeedable) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"applied": applied}, map[string]any{"kind": kind, "event_id": ev.EventID})
}
