package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsHandler mounts a Prometheus exposition handler at /metrics.
type MetricsHandler struct {
	Handler http.Handler
}

func (h *MetricsHandler) Register(r *gin.Engine) {
	if h.Handler == nil {
		return
	}
	r.GET("/metrics", gin.WrapH(h.Handler))
}
