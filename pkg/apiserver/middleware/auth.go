package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/confops/confops/pkg/auth"
	"github.com/confops/confops/pkg/config"
	"github.com/confops/confops/pkg/engine"
)

// PrincipalKey is the gin context key holding the authenticated engine.Principal.
const PrincipalKey = "principal"

// PrincipalVerifiedKey marks principals established from a validated token
// rather than trusted dev-mode headers.
const PrincipalVerifiedKey = "principal_verified"

// Auth requires a bearer token on every API call. With a JWT secret
// configured the token is verified and its claims become the request
// principal; without one (dev mode) the identity headers are trusted.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	var manager *auth.PrincipalTokenManager
	if cfg.JWTSecret != "" {
		manager = auth.NewPrincipalTokenManager([]byte(cfg.JWTSecret), cfg.TokenTTL)
	}

	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		if manager != nil {
			claims, err := manager.Validate(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set(PrincipalKey, claims.Principal())
			c.Set(PrincipalVerifiedKey, true)
		} else {
			role := c.GetHeader("X-User-Role")
			if role == "" {
				role = engine.RoleMember
			}
			c.Set(PrincipalKey, engine.Principal{ID: c.GetHeader("X-User-ID"), Role: role})
		}
		c.Next()
	}
}
