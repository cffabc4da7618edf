package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

// CascadeHandler runs a cascade on demand. It never writes the validation cache and never
// routes, so it is safe to call while cycles run.
type CascadeHandler struct {
	Cascade *service.CascadeOrchestrator
}

func (h *CascadeHandler) Register(g *gin.RouterGroup) {
	g.POST("/cascade/:symbol", h.run)
}

type cascadeRequest struct {
	StartFrom string `json:"start_from"`
	Until     string `json:"until"`
	Only      string `json:"only"`
	Force     bool   `json:"force"`
}

// @Summary Dry-run a cascade for a symbol
// @Tags cascade
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Param body body cascadeRequest false "cascade options"
// @Success 200 {object} apiResponse
// @Router /api/v1/cascade/{symbol} [post]
func (h *CascadeHandler) run(c *gin.Context) {
	if h.Cascade == nil {
		Error(c, http.StatusInternalServerError, "cascade unavailable", nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "invalid symbol", nil)
		return
	}
	var req cascadeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	opts := service.CascadeOptions{Force: req.Force, Dry: true}
	for _, f := range []struct {
		raw string
		dst *timeframe.Timeframe
	}{{req.StartFrom, &opts.StartFrom}, {req.Until, &opts.Until}, {req.Only, &opts.Only}} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		tf, err := timeframe.Parse(f.raw)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		*f.dst = tf
	}
	Ok(c, h.Cascade.Run(c.Request.Context(), symbol, opts), nil)
}
