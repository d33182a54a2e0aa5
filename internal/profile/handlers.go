package profile

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/validation"
)

// Handler provides HTTP endpoints for profiles
type Handler struct {
	service *Service
}

// NewHandler creates a new profile handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up routes open to demo callers.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/profile", h.GetProfile)
	r.POST("/chat/context", h.ChatContext)
}

// RegisterProtectedRoutes sets up routes that persist data.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.PUT("/profile", h.UpdateProfile)
}

// GetProfile handles GET /profile
func (h *Handler) GetProfile(c *gin.Context) {
	id := auth.GetIdentity(c)
	p, err := h.service.Get(c.Request.Context(), id.UserID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get profile", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load profile",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "demo": id.Demo})
}

// UpdateProfile handles PUT /profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req Update
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid profile body",
		})
		return
	}

	id := auth.GetIdentity(c)
	p, err := h.service.Update(c.Request.Context(), id.UserID, req)
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.Abort(c, verrs)
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to update profile", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "update_failed",
			"message": "Failed to save profile",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// ChatContext handles POST /chat/context
func (h *Handler) ChatContext(c *gin.Context) {
	var req ContextOverrides
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid override body",
			})
			return
		}
	}
	if errs := ValidateOverrides(&req); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	id := auth.GetIdentity(c)
	text, p, err := h.service.ChatContext(c.Request.Context(), id.UserID, &req)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to build chat context", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "context_failed",
			"message": "Failed to build chat context",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"context":           text,
		"profile_used":      p,
		"overrides_applied": req,
	})
}
