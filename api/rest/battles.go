package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/combat"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"go.uber.org/zap"
)

// BattleHandler drives interactive battles for the acting player.
type BattleHandler struct {
	battles *battle.Service
	logger  *zap.Logger
}

func NewBattleHandler(battles *battle.Service, logger *zap.Logger) *BattleHandler {
	return &BattleHandler{battles: battles, logger: logger}
}

// StartPvE opens a monster encounter.
// POST /api/battles/pve
func (h *BattleHandler) StartPvE(c *gin.Context) {
	b, err := h.battles.StartPvE(c.Request.Context(), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}

type challengeRequest struct {
	OpponentID int64 `json:"opponent_id" binding:"required"`
}

// Challenge invites another player to a duel.
// POST /api/battles/pvp/challenge
func (h *BattleHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if !bind(c, &req) {
		return
	}
	ch, err := h.battles.Challenge(c.Request.Context(), mw.GetPlayerID(c), req.OpponentID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, ch)
}

// Challenges lists the acting player's open challenges.
// GET /api/battles/pvp/challenges
func (h *BattleHandler) Challenges(c *gin.Context) {
	list := h.battles.Challenges(mw.GetPlayerID(c))
	if list == nil {
		list = []battle.Challenge{}
	}
	respond(c, list)
}

// POST /api/battles/pvp/:challenge_id/accept
func (h *BattleHandler) Accept(c *gin.Context) {
	b, err := h.battles.Accept(c.Request.Context(), c.Param("challenge_id"), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}

// POST /api/battles/pvp/:challenge_id/decline
func (h *BattleHandler) Decline(c *gin.Context) {
	if err := h.battles.Decline(c.Param("challenge_id"), mw.GetPlayerID(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"declined": c.Param("challenge_id")})
}

// Get returns the battle state: phase, hp and mana, round log and result.
// GET /api/battles/:id
func (h *BattleHandler) Get(c *gin.Context) {
	b, err := h.battles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}

// POST /api/battles/:id/fight
func (h *BattleHandler) Fight(c *gin.Context) {
	b, err := h.battles.Fight(c.Request.Context(), c.Param("id"), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}

// POST /api/battles/:id/flee
func (h *BattleHandler) Flee(c *gin.Context) {
	b, out, err := h.battles.Flee(c.Request.Context(), c.Param("id"), mw.GetPlayerID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"battle": b, "flee": out})
}

type attackRequest struct {
	AttackType string `json:"attack_type" binding:"required"`
}

// POST /api/battles/:id/attack
func (h *BattleHandler) Attack(c *gin.Context) {
	var req attackRequest
	if !bind(c, &req) {
		return
	}
	at, err := combat.ParseAttackType(req.AttackType)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	b, err := h.battles.ChooseAttack(c.Request.Context(), c.Param("id"), mw.GetPlayerID(c), at)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}

type dodgeRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// POST /api/battles/:id/dodge
func (h *BattleHandler) Dodge(c *gin.Context) {
	var req dodgeRequest
	if !bind(c, &req) {
		return
	}
	dir, err := combat.ParseDirection(req.Direction)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	b, err := h.battles.ChooseDodge(c.Request.Context(), c.Param("id"), mw.GetPlayerID(c), dir)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, b)
}
