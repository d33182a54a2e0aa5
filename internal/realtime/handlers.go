package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
)

// RegisterRoutes mounts the advocate alert stream behind the shared secret.
func (h *Hub) RegisterRoutes(r *gin.RouterGroup, advocateSecret string) {
	adv := r.Group("/advocate", auth.RequireAdvocate(advocateSecret))
	adv.GET("/alerts", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})
	adv.GET("/alerts/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Stats())
	})
}
