// Package rest exposes the battle and war engines to the chat gateway.
package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"go.uber.org/zap"
)

// Deps are the services behind the REST surface.
type Deps struct {
	Players *player.Service
	Skills  *skill.Service
	Battles *battle.Service
	Wars    *war.Service
	Logger  *zap.Logger
}

// Register mounts every route under /api on r.
func Register(r gin.IRouter, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	ph := NewPlayerHandler(d.Players, d.Skills, d.Battles, d.Wars.Registry(), d.Logger)
	bh := NewBattleHandler(d.Battles, d.Logger)
	wh := NewWarHandler(d.Wars, d.Logger)
	block := mw.WarBlock(d.Wars.Registry(), d.Logger)

	api := r.Group("/api")
	api.POST("/players", ph.Create)
	api.GET("/players/:id", ph.Get)
	api.GET("/players/:id/block", ph.Block)
	api.GET("/wars", wh.List)
	api.GET("/wars/summary", wh.Summary)
	api.GET("/wars/:id", wh.Get)
	api.GET("/wars/:id/results/:player_id", wh.Result)
	api.GET("/ranking/kingdoms", wh.Ranking)

	acting := api.Group("", mw.PlayerID(), ph.touch)
	acting.GET("/skills", ph.Skills)
	acting.POST("/skills", block, ph.Learn)

	acting.POST("/battles/pve", block, bh.StartPvE)
	acting.POST("/battles/pvp/challenge", block, bh.Challenge)
	acting.GET("/battles/pvp/challenges", bh.Challenges)
	acting.POST("/battles/pvp/:challenge_id/accept", block, bh.Accept)
	acting.POST("/battles/pvp/:challenge_id/decline", bh.Decline)
	acting.GET("/battles/:id", bh.Get)
	acting.POST("/battles/:id/fight", bh.Fight)
	acting.POST("/battles/:id/flee", bh.Flee)
	acting.POST("/battles/:id/attack", bh.Attack)
	acting.POST("/battles/:id/dodge", bh.Dodge)

	acting.POST("/wars/attack", wh.Attack)
	acting.POST("/wars/defend", wh.Defend)
}
