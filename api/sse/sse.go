// Package sse streams game announcements to the chat gateway.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/cache"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel announcements travel on.
const Channel = "announce"

const keepalive = 30 * time.Second

// Announcement is one streamed message.
type Announcement struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Handler serves GET /api/sse and publishes engine events to it.
type Handler struct {
	pubsub cache.PubSub
	logger *zap.Logger
}

func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pubsub: pubsub, logger: logger}
}

// Forward publishes every engine event to the announcement channel. It runs
// last among the handlers of each event.
func (h *Handler) Forward(hc *hook.HookCenter) {
	hc.RegisterMany(hook.AllEvents, 1000, "sse", func(ctx context.Context, event string, data any) (any, error) {
		if err := h.Announce(ctx, event, data); err != nil {
			h.logger.Warn("announce failed", zap.String("event", event), zap.Error(err))
		}
		return data, nil
	})
}

// Announce publishes one event to every subscriber.
func (h *Handler) Announce(ctx context.Context, event string, data any) error {
	b, err := json.Marshal(Announcement{Event: event, Data: data})
	if err != nil {
		return err
	}
	return h.pubsub.Publish(ctx, Channel, string(b))
}

// ServeSSE streams announcements until the client goes away.
func (h *Handler) ServeSSE(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgs, unsub, err := h.pubsub.Subscribe(ctx, Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "internal server error"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprint(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: announce\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}
