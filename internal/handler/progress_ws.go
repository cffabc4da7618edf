package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mtfcascade/internal/service"
)

const (
	progressBuffer       = 64
	progressWriteTimeout = 5 * time.Second
)

// ProgressHub fans cycle progress out to websocket clients. A client that falls a full
// buffer behind is disconnected rather than slowing the cycle down.
type ProgressHub struct {
	Logger *zap.Logger
	// Origins lists the accepted Origin host patterns; empty means same origin only.
	Origins []string

	mu   sync.Mutex
	subs map[chan service.ProgressEvent]struct{}
}

func (h *ProgressHub) Register(r *gin.Engine) {
	r.GET("/ws/progress", h.serve)
}

// Publish is a service.ProgressFunc; it never blocks.
func (h *ProgressHub) Publish(ev service.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *ProgressHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *ProgressHub) subscribe() chan service.ProgressEvent {
	ch := make(chan service.ProgressEvent, progressBuffer)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = map[chan service.ProgressEvent]struct{}{}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(ch chan service.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *ProgressHub) serve(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.Origins})
	if err != nil {
		h.warn("websocket accept failed", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// Clients only listen; CloseRead handles their control frames and cancels ctx on close.
	ctx := conn.CloseRead(c.Request.Context())
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, progressWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.warn("websocket write failed", err)
				return
			}
		}
	}
}

func (h *ProgressHub) warn(msg string, err error) {
	if h.Logger != nil {
		h.Logger.Warn(msg, zap.Error(err))
	}
}
