package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	PlayerIDKey    = "player_id"
	PlayerIDHeader = "X-Player-ID"
)

// PlayerID reads the acting player from the X-Player-ID header set by the
// chat gateway. Requests without a valid id are rejected.
func PlayerID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(PlayerIDHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"ok":     false,
				"reason": "missing or invalid " + PlayerIDHeader,
			})
			return
		}
		c.Set(PlayerIDKey, id)
		c.Next()
	}
}

// GetPlayerID returns the acting player, or 0 outside PlayerID.
func GetPlayerID(c *gin.Context) int64 {
	if v, ok := c.Get(PlayerIDKey); ok {
		return v.(int64)
	}
	return 0
}
