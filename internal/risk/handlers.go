package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
)

// Handler provides HTTP endpoints for risk insights
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up risk routes. Demo callers are served sample data.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	insights := r.Group("/insights")
	insights.GET("/risk", h.GetRisk)
	insights.GET("/risk/history", h.GetHistory)
	insights.GET("/risk/changes", h.GetChanges)
	insights.GET("/risk/rules", h.GetRules)
}

// GetRisk handles GET /insights/risk. Pass ?preview=true to skip the
// snapshot.
func (h *Handler) GetRisk(c *gin.Context) {
	id := auth.GetIdentity(c)
	ctx := c.Request.Context()

	var a *Assessment
	if preview, _ := strconv.ParseBool(c.Query("preview")); preview {
		a = h.engine.Preview(ctx, id.UserID)
	} else {
		a = h.engine.Evaluate(ctx, id.UserID)
	}
	c.JSON(http.StatusOK, a)
}

// GetHistory handles GET /insights/risk/history?days=N
func (h *Handler) GetHistory(c *gin.Context) {
	days := DefaultHistoryDays
	if d := c.Query("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_days",
				"message": "days must be a positive integer",
			})
			return
		}
		days = parsed
	}

	id := auth.GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"history": h.engine.History(c.Request.Context(), id.UserID, days),
	})
}

// GetChanges handles GET /insights/risk/changes
func (h *Handler) GetChanges(c *gin.Context) {
	id := auth.GetIdentity(c)
	c.JSON(http.StatusOK, h.engine.Changes(c.Request.Context(), id.UserID))
}

// GetRules handles GET /insights/risk/rules
func (h *Handler) GetRules(c *gin.Context) {
	rs := h.engine.Rules()
	if rs == nil {
		c.JSON(http.StatusOK, gin.H{
			"rules":      nil,
			"weights":    gin.H{},
			"thresholds": gin.H{},
			"features":   []FeatureSpec{},
			"loaded":     false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules":      rs,
		"weights":    rs.Weights,
		"thresholds": rs.Thresholds,
		"features":   rs.Features,
		"loaded":     true,
		"unknown":    h.engine.Registry().Unknown(rs),
	})
}
