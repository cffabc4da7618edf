package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

type SwitchHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SwitchHandler) Register(g *gin.RouterGroup) {
	g.GET("/switches/global", h.getGlobal)
	g.PUT("/switches/global", h.putGlobal)
	g.GET("/switches/symbols/:symbol", h.getSymbol)
	g.PUT("/switches/symbols/:symbol", h.putSymbol)
	g.GET("/switches/symbols/:symbol/:tf", h.getSymbolTimeframe)
	g.PUT("/switches/symbols/:symbol/:tf", h.putSymbolTimeframe)
}

// @Summary Get the global switch
// @Tags switches
// @Security BearerAuth
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/global [get]
func (h *SwitchHandler) getGlobal(c *gin.Context) { h.get(globalKey)(c) }

// @Summary Set the global switch
// @Tags switches
// @Security BearerAuth
// @Param body body putSwitchRequest true "switch"
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/global [put]
func (h *SwitchHandler) putGlobal(c *gin.Context) { h.put(globalKey)(c) }

// @Summary Get a symbol switch
// @Tags switches
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/symbols/{symbol} [get]
func (h *SwitchHandler) getSymbol(c *gin.Context) { h.get(symbolKey)(c) }

// @Summary Set a symbol switch
// @Tags switches
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Param body body putSwitchRequest true "switch"
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/symbols/{symbol} [put]
func (h *SwitchHandler) putSymbol(c *gin.Context) { h.put(symbolKey)(c) }

// @Summary Get a symbol timeframe switch
// @Tags switches
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Param tf path string true "timeframe"
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/symbols/{symbol}/{tf} [get]
func (h *SwitchHandler) getSymbolTimeframe(c *gin.Context) { h.get(symbolTimeframeKey)(c) }

// @Summary Set a symbol timeframe switch
// @Tags switches
// @Security BearerAuth
// @Param symbol path string true "symbol"
// @Param tf path string true "timeframe"
// @Param body body putSwitchRequest true "switch"
// @Success 200 {object} apiResponse
// @Router /api/v1/switches/symbols/{symbol}/{tf} [put]
func (h *SwitchHandler) putSymbolTimeframe(c *gin.Context) { h.put(symbolTimeframeKey)(c) }

type switchKeyFunc func(c *gin.Context) (string, error)

func globalKey(*gin.Context) (string, error) { return service.SwitchGlobal, nil }

func symbolKey(c *gin.Context) (string, error) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		return "", service.ErrSymbolRequired
	}
	return service.SwitchKeySymbol(symbol), nil
}

func symbolTimeframeKey(c *gin.Context) (string, error) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		return "", service.ErrSymbolRequired
	}
	tf, err := timeframe.Parse(c.Param("tf"))
	if err != nil {
		return "", err
	}
	return service.SwitchKeySymbolTimeframe(symbol, tf), nil
}

type switchView struct {
	Key    string         `json:"key"`
	On     bool           `json:"on"`
	Stored bool           `json:"stored"`
	Switch service.Switch `json:"switch"`
}

func (h *SwitchHandler) view(c *gin.Context, key string) (switchView, error) {
	sw, found, err := h.Settings.GetSwitch(c.Request.Context(), key)
	if err != nil {
		return switchView{}, err
	}
	on := h.Settings.IsEnabled(c.Request.Context(), key, true)
	return switchView{Key: key, On: on, Stored: found, Switch: sw}, nil
}

func (h *SwitchHandler) get(keyFn switchKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Settings == nil {
			Error(c, http.StatusInternalServerError, "settings unavailable", nil)
			return
		}
		key, err := keyFn(c)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		v, err := h.view(c, key)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		Ok(c, v, nil)
	}
}

type putSwitchRequest struct {
	Enabled    *bool  `json:"enabled"`
	// DisableFor turns the switch off for a duration, e.g. "2h"; it wins over Enabled.
	DisableFor string `json:"disable_for"`
	Reason     string `json:"reason"`
}

func (h *SwitchHandler) put(keyFn switchKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Settings == nil {
			Error(c, http.StatusInternalServerError, "settings unavailable", nil)
			return
		}
		key, err := keyFn(c)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		var req putSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
		reason := strings.TrimSpace(req.Reason)
		switch {
		case strings.TrimSpace(req.DisableFor) != "":
			d, perr := time.ParseDuration(strings.TrimSpace(req.DisableFor))
			if perr != nil || d <= 0 {
				Error(c, http.StatusBadRequest, "invalid disable_for", nil)
				return
			}
			err = h.Settings.DisableFor(c.Request.Context(), key, d, reason)
		case req.Enabled != nil:
			err = h.Settings.SetSwitch(c.Request.Context(), key, service.Switch{Enabled: *req.Enabled, Reason: reason})
		default:
			Error(c, http.StatusBadRequest, "enabled or disable_for required", nil)
			return
		}
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		v, err := h.view(c, key)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		Ok(c, v, nil)
	}
}
