package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cv-adapter/internal/shared/auth"
	"cv-adapter/internal/shared/server/respond"
)

const userIDKey = "userId"

// Auth resolves the caller from a Bearer JWT subject or an X-Guest-Id header and stores it in
// context. Guests are namespaced as "guest:<id>". Outside production a guest header is also
// accepted on requests that carry a Bearer token that fails verification. A nil verifier uses
// the development key.
func Auth(env string, verifier *auth.Verifier) gin.HandlerFunc {
	lenient := env != "production"
	if verifier == nil {
		verifier = auth.NewVerifier("")
	}
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))

		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			claims, err := verifier.Verify(token)
			switch {
			case err == nil:
				c.Set(userIDKey, claims.Sub)
				c.Set("isGuest", false)
				c.Next()
				return
			case !lenient || strings.TrimSpace(c.GetHeader("X-Guest-Id")) == "":
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
		}

		guestID := strings.TrimSpace(c.GetHeader("X-Guest-Id"))
		if guestID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}

		c.Set(userIDKey, "guest:"+guestID)
		c.Set("isGuest", true)
		c.Next()
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
