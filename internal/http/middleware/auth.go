package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/auth"
)

// TokenParser validates bearer tokens. *auth.Tokens satisfies it.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Tokens validates Authorization: Bearer headers.
	Tokens TokenParser
	// Dev accepts requests without a token and takes the user from the
	// X-User-ID header, falling back to "demo-user".
	Dev bool
}

// Authenticate resolves the caller and stores it under "userID" (and the
// role under "role") for handlers, rate limiting and idempotency.
//
// A present but invalid token is always rejected, also in Dev mode.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw != "" && opts.Tokens != nil {
			claims, err := opts.Tokens.Parse(raw)
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected")
				abortUnauthorized(c, "invalid or expired token")
				return
			}
			c.Set("userID", claims.Subject)
			withUser(c, claims.Subject)
			if claims.Role != "" {
				c.Set("role", claims.Role)
			}
			c.Next()
			return
		}

		if !opts.Dev {
			abortUnauthorized(c, "bearer token required")
			return
		}
		uid := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if uid == "" {
			uid = "demo-user"
		}
		c.Set("userID", uid)
		withUser(c, uid)
		c.Next()
	}
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
