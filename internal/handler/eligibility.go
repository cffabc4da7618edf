package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

type EligibilityHandler struct {
	Query  *service.EligibilityQueryService
	Router *service.EligibilityRouter
}

func (h *EligibilityHandler) Register(g *gin.RouterGroup) {
	g.GET("/eligibility/:tf", h.eligible)
	g.GET("/symbols/:symbol/eligibility", h.rows)
	g.POST("/symbols/seed", h.seed)
}

// @Summary List symbols eligible on a timeframe
// @Tags eligibility
// @Security BearerAuth
// @Param tf path string true "timeframe (4h|1h|15m|5m|1m)"
// @Param limit query int false "max symbols"
// @Param include_cooldown query bool false "include rows whose cooldown elapsed"
// @Param include_fresh query bool false "include symbols already recorded this slot"
// @Param symbols query string false "comma separated symbol filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/eligibility/{tf} [get]
func (h *EligibilityHandler) eligible(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query unavailable", nil)
		return
	}
	tf, err := timeframe.Parse(c.Param("tf"))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	symbols, err := h.Query.EligibleSymbols(c.Request.Context(), tf, limit, service.EligibleOptions{
		IncludeCooldownElapsed: boolQueryDefault(c, "include_cooldown", false),
		IncludeFresh:           boolQueryDefault(c, "include_fresh", false),
		Symbols:                csvQuery(c, "symbols"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	Ok(c, symbols, map[string]any{"timeframe": tf, "count": len(symbols)})
}

// @Summary Eligibility rows of a symbol
// @Tags eligibility
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/symbols/{symbol}/eligibility [get]
func (h *EligibilityHandler) rows(c *gin.Context) {
	if h.Query == nil {
		Error(c, http.StatusInternalServerError, "query unavailable", nil)
		return
	}
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "invalid symbol", nil)
		return
	}
	out, err := h.Query.Rows(c.Request.Context(), symbol)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if len(out.Rows) == 0 {
		Error(c, http.StatusNotFound, "symbol not seeded", nil)
		return
	}
	Ok(c, out, nil)
}

type seedRequest struct {
	Symbols []string `json:"symbols"`
}

// @Summary Seed symbols into the ladder
// @Tags eligibility
// @Security BearerAuth
// @Param body body seedRequest true "symbols"
// @Success 200 {object} apiResponse
// @Router /api/v1/symbols/seed [post]
func (h *EligibilityHandler) seed(c *gin.Context) {
	if h.Router == nil {
		Error(c, http.StatusInternalServerError, "router unavailable", nil)
		return
	}
	var req seedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	symbols := cleanStrings(req.Symbols)
	if len(symbols) == 0 {
		Error(c, http.StatusBadRequest, "symbols required", nil)
		return
	}
	if err := h.Router.Seed(c.Request.Context(), symbols); err != nil {
		if errors.Is(err, service.ErrSymbolRequired) {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"seeded": symbols}, nil)
}
