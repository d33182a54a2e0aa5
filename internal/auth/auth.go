// Package auth resolves the caller's identity.
//
// Haven sits behind an identity-aware proxy that authenticates users and
// forwards the user id in a trusted header. Requests without the header are
// served as the shared demo user: they get sample data and nothing they do
// is persisted.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/security"
)

const (
	// ContextKeyIdentity is the key for storing the Identity in gin context
	ContextKeyIdentity = "havenIdentity"

	// DemoUserID is the id assigned to unauthenticated callers.
	DemoUserID = "demo"

	// AdvocateHeader carries the advocate shared secret.
	AdvocateHeader = "X-Advocate-Secret"

	maxUserIDLen = 128
)

// Identity is the resolved caller.
type Identity struct {
	UserID   string
	UserHash string
	Demo     bool
}

type identityKey struct{}

// IsDemo reports whether userID belongs to the demo namespace.
func IsDemo(userID string) bool {
	return userID == "" || userID == DemoUserID || strings.HasPrefix(userID, DemoUserID+"-")
}

// WithIdentity stores id in ctx so services outside gin can read it.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Middleware resolves the identity from header and attaches it to both the
// gin context and the request context. The user hash is added to the
// request-scoped logger.
func Middleware(header string, hasher *security.Hasher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if len(userID) > maxUserIDLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_identity",
				"message": "user id header is too long",
			})
			return
		}

		id := Identity{UserID: userID, Demo: IsDemo(userID)}
		if id.Demo {
			id.UserID = DemoUserID
		}
		id.UserHash = hasher.Hash(id.UserID)

		ctx := WithIdentity(c.Request.Context(), id)
		ctx = logging.WithUserHash(ctx, id.UserHash)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextKeyIdentity, id)

		c.Next()
	}
}

// RequireUser rejects demo callers. Used on routes that persist data.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := GetIdentity(c); id.Demo {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Sign in to save journals, chats, and profile details.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdvocate guards advocate-only routes with a shared secret, read from
// the X-Advocate-Secret header or, for browser websockets, the token query
// parameter. An empty secret disables the routes entirely.
func RequireAdvocate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Advocate access is not enabled",
			})
			return
		}
		got := c.GetHeader(AdvocateHeader)
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Advocate credentials required.",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the identity set by Middleware, or the demo identity
// when the middleware did not run.
func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(ContextKeyIdentity); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{UserID: DemoUserID, Demo: true}
}
