package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/pagination"
	"github.com/mbd888/haven/internal/profile"
	"github.com/mbd888/haven/internal/validation"
)

// Handler provides HTTP endpoints for chat
type Handler struct {
	service *Service
}

// NewHandler creates a new chat handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up routes open to demo callers.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat/analyze", h.Analyze)
}

// RegisterProtectedRoutes sets up routes that persist or read user data.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/chat/messages", h.SendMessage)
	r.GET("/chat/messages", h.ListMessages)
}

// SendMessageRequest is the body of POST /chat/messages
type SendMessageRequest struct {
	ChatID           string                    `json:"chat_id"`
	Role             Role                      `json:"role"`
	Text             string                    `json:"text" binding:"required"`
	EntrySource      string                    `json:"entry_source"`
	Jurisdiction     string                    `json:"jurisdiction"`
	LocationType     string                    `json:"location_type"`
	ContextOverrides *profile.ContextOverrides `json:"context_overrides"`
	Extra            map[string]string         `json:"extra"`
}

// AnalyzeRequest is the body of POST /chat/analyze
type AnalyzeRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage handles POST /chat/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include text",
		})
		return
	}

	errs := validation.Validate(
		validation.MaxLength("chat_id", req.ChatID, 64),
		validation.MaxLength("entry_source", req.EntrySource, 32),
		validation.MaxLength("jurisdiction", req.Jurisdiction, 64),
		validation.MaxLength("location_type", req.LocationType, 64),
	)
	errs = append(errs, profile.ValidateOverrides(req.ContextOverrides)...)
	if len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	id := auth.GetIdentity(c)
	sr := SendRequest{
		UserID:       id.UserID,
		ChatID:       req.ChatID,
		Role:         req.Role,
		Text:         req.Text,
		EntrySource:  req.EntrySource,
		Jurisdiction: req.Jurisdiction,
		LocationType: req.LocationType,
		Extra:        req.Extra,
	}
	if o := req.ContextOverrides; o != nil {
		sr.Confidentiality = o.Confidentiality
		sr.ShareWith = o.ShareWith
	}

	result, err := h.service.Send(c.Request.Context(), sr)
	switch {
	case errors.Is(err, ErrEmptyText), errors.Is(err, ErrTextTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_text",
			"message": "Message text must be between 1 and 4000 characters",
		})
		return
	case errors.Is(err, ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_role",
			"message": "Role must be user, assistant, or system",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to send chat message", "error", err)
		body := gin.H{
			"error":   "send_failed",
			"message": "Failed to save message",
		}
		var serr *SaveError
		if errors.As(err, &serr) && serr.EmergencyMessage != "" {
			body["emergency_message"] = serr.EmergencyMessage
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListMessages handles GET /chat/messages?chat_id=X&limit=N&cursor=C
func (h *Handler) ListMessages(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), DefaultListLimit, MaxListLimit)

	id := auth.GetIdentity(c)
	page, err := h.service.List(c.Request.Context(), id.UserID, c.Query("chat_id"), c.Query("cursor"), limit)
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list chat messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list messages",
		})
		return
	}

	c.JSON(http.StatusOK, page)
}

// Analyze handles POST /chat/analyze. Nothing is stored.
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include text",
		})
		return
	}

	a, err := h.service.Analyze(req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_text",
			"message": "Message text must be between 1 and 4000 characters",
		})
		return
	}

	resp := gin.H{"analysis": a}
	if a.HighRisk {
		resp["emergency_message"] = nlp.EmergencyMessage()
	}
	c.JSON(http.StatusOK, resp)
}
