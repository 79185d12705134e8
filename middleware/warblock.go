package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BlockChecker reports whether a player is tied up by a war registration.
type BlockChecker interface {
	CheckBlocked(ctx context.Context, userID int64) (bool, string, error)
}

// WarBlock rejects actions of a player registered for a pending war. It runs
// after PlayerID.
func WarBlock(checker BlockChecker, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetPlayerID(c)
		if id == 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		blocked, reason, err := checker.CheckBlocked(ctx, id)
		if err != nil {
			log.Error("war block check failed",
				zap.Int64("player_id", id),
				zap.String("trace_id", GetTraceID(c)),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "internal server error"})
			return
		}
		if blocked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"ok": false, "reason": reason})
			return
		}
		c.Next()
	}
}
