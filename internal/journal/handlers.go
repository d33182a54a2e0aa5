package journal

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/pagination"
)

// Handler provides HTTP endpoints for journals
type Handler struct {
	service *Service
}

// NewHandler creates a new journal handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up journal routes. The group must already require a
// signed-in user.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/journals", h.CreateJournal)
	r.GET("/journals", h.ListJournals)
}

// CreateJournalRequest is the body of POST /journals
type CreateJournalRequest struct {
	Text string `json:"text" binding:"required"`
}

// CreateJournal handles POST /journals
func (h *Handler) CreateJournal(c *gin.Context) {
	var req CreateJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include text",
		})
		return
	}

	id := auth.GetIdentity(c)
	entry, err := h.service.Create(c.Request.Context(), id.UserID, req.Text)
	switch {
	case errors.Is(err, ErrEmptyText), errors.Is(err, ErrTextTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_text",
			"message": "Journal text must be between 1 and 4000 characters",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to create journal", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to save journal",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"journal": entry})
}

// ListJournals handles GET /journals?limit=N&cursor=C
func (h *Handler) ListJournals(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), DefaultListLimit, MaxListLimit)

	id := auth.GetIdentity(c)
	page, err := h.service.List(c.Request.Context(), id.UserID, c.Query("cursor"), limit)
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list journals", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list journals",
		})
		return
	}

	c.JSON(http.StatusOK, page)
}
