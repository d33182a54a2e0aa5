package datacloud

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/risk"
)

// ResendWindow is how far back POST /datacloud/stream/events looks.
const ResendWindow = 24 * time.Hour

const demoMessage = "Demo users cannot stream to Data Cloud"

// EventSource lists a user's stored chat events.
type EventSource interface {
	RecentEvents(ctx context.Context, userID string, since time.Time) ([]*chat.Event, error)
}

// Previewer scores a user without storing a snapshot.
type Previewer interface {
	Preview(ctx context.Context, userID string) *risk.Assessment
}

// Handler provides HTTP endpoints for the CRM side channel
type Handler struct {
	streamer *Streamer
	events   EventSource
	risk     Previewer
	now      func() time.Time
}

// NewHandler creates a new datacloud handler
func NewHandler(streamer *Streamer, events EventSource, risk Previewer) *Handler {
	return &Handler{streamer: streamer, events: events, risk: risk, now: time.Now}
}

// RegisterRoutes sets up datacloud routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	dc := r.Group("/datacloud")
	dc.GET("/status", h.Status)
	dc.POST("/stream/events", h.StreamEvents)
	dc.POST("/stream/risk", h.StreamRisk)
}

// Status handles GET /datacloud/status
func (h *Handler) Status(c *gin.Context) {
	authenticated := false
	if h.streamer.Enabled() {
		token, err := h.streamer.client.tokens.Token(c.Request.Context(), false)
		authenticated = err == nil && token != ""
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated":     authenticated,
		"streaming_enabled": h.streamer.Enabled() && authenticated,
		"endpoint":          h.streamer.Endpoint(),
	})
}

// StreamEvents handles POST /datacloud/stream/events. It re-sends the
// caller's events from the last 24 hours synchronously and reports counts.
func (h *Handler) StreamEvents(c *gin.Context) {
	id := auth.GetIdentity(c)
	if id.Demo {
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": demoMessage})
		return
	}
	ctx := c.Request.Context()

	events, err := h.events.RecentEvents(ctx, id.UserID, h.now().Add(-ResendWindow))
	if err != nil {
		logging.L(ctx).Error("datacloud: failed to list events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Streaming failed",
		})
		return
	}

	streamed, failed := 0, 0
	for _, e := range events {
		if err := h.streamer.Deliver(ctx, ObjectChatEvent, ChatEventRecord(e, id.UserHash)); err != nil {
			failed++
			continue
		}
		streamed++
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"streamed":  streamed,
		"failed":    failed,
		"user_hash": id.UserHash,
	})
}

// StreamRisk handles POST /datacloud/stream/risk. The assessment is a
// preview; persisted snapshots already reach the CRM through the queue.
func (h *Handler) StreamRisk(c *gin.Context) {
	id := auth.GetIdentity(c)
	if id.Demo {
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": demoMessage})
		return
	}
	ctx := c.Request.Context()

	a := h.risk.Preview(ctx, id.UserID)
	err := h.streamer.Deliver(ctx, ObjectRiskSnapshot, RiskSnapshotRecord(a, id.UserHash))
	if err != nil {
		logging.L(ctx).Warn("datacloud: risk snapshot not delivered", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         err == nil,
		"user_hash":  id.UserHash,
		"risk_score": a.Score,
		"risk_level": a.Level,
	})
}
