package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/crm-voicebot/pkg/errors"
)

var sidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)

// RequireSIDQuery validates the ?sid= query parameter shared by the call
// status and analysis endpoints. Provider SIDs are opaque alphanumeric
// tokens; reject anything else before it reaches a query.
func RequireSIDQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := strings.TrimSpace(c.Query("sid"))
		if sid == "" {
			errors.BadRequest(c, "sid query parameter is required")
			c.Abort()
			return
		}

		if !sidPattern.MatchString(sid) {
			errors.BadRequest(c, "invalid sid parameter")
			c.Abort()
			return
		}

		c.Set("sid", sid)
		c.Next()
	}
}

// SanitizeString removes potentially dangerous characters from strings
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")
	// Trim whitespace
	s = strings.TrimSpace(s)
	return s
}
