package auth

import (
	"net/http"
	"strings"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Required rejects requests without a valid "Authorization: Bearer <token>" header.
func Required(m *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header format"})
			return
		}

		id, err := m.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Required, or an anonymous one.
func IdentityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{}
}

// SetIdentity is used by tests that bypass token parsing.
func SetIdentity(c *gin.Context, id domain.Identity) {
	c.Set(identityKey, id)
}
