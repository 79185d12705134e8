package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
)

// PlayerHandler serves player records, block status and skills.
type PlayerHandler struct {
	players *player.Service
	skills  *skill.Service
	battles *battle.Service
	blocker mw.BlockChecker
	logger  *zap.Logger
}

func NewPlayerHandler(players *player.Service, skills *skill.Service, battles *battle.Service, blocker mw.BlockChecker, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{players: players, skills: skills, battles: battles, blocker: blocker, logger: logger}
}

// touch records activity of the acting player; war auto-enrolment reads it.
func (h *PlayerHandler) touch(c *gin.Context) {
	if err := h.players.Touch(c.Request.Context(), mw.GetPlayerID(c), time.Now().UTC()); err != nil {
		h.logger.Warn("touch player failed", zap.Int64("player_id", mw.GetPlayerID(c)), zap.Error(err))
	}
	c.Next()
}

type createPlayerRequest struct {
	Name    string `json:"name" binding:"required"`
	Kingdom string `json:"kingdom" binding:"required"`
}

// Create registers a new player.
// POST /api/players
func (h *PlayerHandler) Create(c *gin.Context) {
	var req createPlayerRequest
	if !bind(c, &req) {
		return
	}
	u, err := h.players.Create(c.Request.Context(), req.Name, req.Kingdom)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "data": u})
}

type playerView struct {
	*model.User
	BattleID string `json:"battle_id,omitempty"`
}

// Get returns a player and their running battle, if any.
// GET /api/players/:id
func (h *PlayerHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u, err := h.players.Get(ctx, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	battleID, _, err := h.battles.InBattle(ctx, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, playerView{User: u, BattleID: battleID})
}

// Block reports whether a war registration holds the player.
// GET /api/players/:id/block
func (h *PlayerHandler) Block(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	blocked, reason, err := h.blocker.CheckBlocked(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"blocked": blocked, "reason": reason})
}

// Skills lists the acting player's skills.
// GET /api/skills
func (h *PlayerHandler) Skills(c *gin.Context) {
	known, err := h.skills.Loadout(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, known)
}

type learnRequest struct {
	Name string `json:"name" binding:"required"`
}

// Learn teaches the acting player a catalogue skill.
// POST /api/skills
func (h *PlayerHandler) Learn(c *gin.Context) {
	var req learnRequest
	if !bind(c, &req) {
		return
	}
	if err := h.skills.Learn(c.Request.Context(), mw.GetPlayerID(c), req.Name); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"learned": req.Name})
}
