package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"go.uber.org/zap"
)

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func reject(c *gin.Context, status int, reason string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "reason": reason})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, gameerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gameerr.ErrConsistency):
		return http.StatusConflict
	case errors.Is(err, gameerr.ErrResource):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// fail writes a rejection as a 4xx and anything else as a logged 500.
func fail(c *gin.Context, log *zap.Logger, err error) {
	if res, rerr := gameerr.ToResult(err); rerr == nil {
		reject(c, statusOf(err), res.Reason)
		return
	}
	log.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("trace_id", mw.GetTraceID(c)),
		zap.Int64("player_id", mw.GetPlayerID(c)),
		zap.Error(err),
	)
	_ = c.Error(err)
	reject(c, http.StatusInternalServerError, "internal server error")
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		reject(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		reject(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
