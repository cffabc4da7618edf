package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

type CycleHandler struct {
	Runner *service.CycleRunner
}

func (h *CycleHandler) Register(g *gin.RouterGroup) {
	g.POST("/cycles/:tf", h.run)
	g.GET("/cycles/lock", h.lock)
}

type cycleRequest struct {
	Limit           int      `json:"limit"`
	IncludeCooldown *bool    `json:"include_cooldown"`
	Symbols         []string `json:"symbols"`
}

// @Summary Run one cycle for a timeframe
// @Tags cycles
// @Security BearerAuth
// @Param tf path string true "timeframe"
// @Param body body cycleRequest false "cycle options"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/cycles/{tf} [post]
func (h *CycleHandler) run(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "cycle runner unavailable", nil)
		return
	}
	tf, err := timeframe.Parse(c.Param("tf"))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req cycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	summary, err := h.Runner.Run(c.Request.Context(), tf, service.CycleOptions{
		Limit:                  req.Limit,
		IncludeCooldownElapsed: req.IncludeCooldown,
		Symbols:                cleanStrings(req.Symbols),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if summary.Status == service.CycleAlreadyInProgress {
		c.JSON(http.StatusConflict, apiResponse{Code: http.StatusConflict, Message: summary.Status, Data: summary})
		return
	}
	Ok(c, summary, nil)
}

// @Summary Run lock state of a timeframe
// @Tags cycles
// @Security BearerAuth
// @Param timeframe query string false "timeframe (default 1m)"
// @Success 200 {object} apiResponse
// @Router /api/v1/cycles/lock [get]
func (h *CycleHandler) lock(c *gin.Context) {
	if h.Runner == nil || h.Runner.Lock == nil {
		Error(c, http.StatusInternalServerError, "run lock unavailable", nil)
		return
	}
	tf, err := timeframe.Parse(c.DefaultQuery("timeframe", timeframe.M1.String()))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	key := h.Runner.LockKeyFor(tf)
	info, err := h.Runner.Lock.Info(c.Request.Context(), key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, info, map[string]any{"key": key, "held": info != nil})
}
