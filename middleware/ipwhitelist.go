package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AllowIPs only lets the listed client addresses through. An empty list
// admits everyone.
func AllowIPs(ips ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		allowed[ip] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		if _, ok := allowed[c.ClientIP()]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "reason": "access denied"})
			return
		}
		c.Next()
	}
}
