package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"go.uber.org/zap"
)

// WarHandler serves war schedules, results and squad registration.
type WarHandler struct {
	wars   *war.Service
	logger *zap.Logger
}

func NewWarHandler(wars *war.Service, logger *zap.Logger) *WarHandler {
	return &WarHandler{wars: wars, logger: logger}
}

// List returns the wars of a day in the war timezone, today by default.
// GET /api/wars?date=2026-01-31
func (h *WarHandler) List(c *gin.Context) {
	day := time.Now()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, h.wars.Location())
		if err != nil {
			reject(c, http.StatusBadRequest, "date must look like 2006-01-02")
			return
		}
		day = d
	}
	wars, err := h.wars.WarsOn(c.Request.Context(), day)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, wars)
}

// GET /api/wars/:id
func (h *WarHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.wars.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, w)
}

// Result returns one participant's outcome.
// GET /api/wars/:id/results/:player_id
func (h *WarHandler) Result(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	pid, ok := pathID(c, "player_id")
	if !ok {
		return
	}
	res, err := h.wars.UserResult(c.Request.Context(), pid, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, res)
}

// Summary describes several wars at once.
// GET /api/wars/summary?ids=1,2,3
func (h *WarHandler) Summary(c *gin.Context) {
	var ids []int64
	for _, part := range strings.Split(c.Query("ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			reject(c, http.StatusBadRequest, "ids must be a comma separated list of war ids")
			return
		}
		ids = append(ids, id)
	}
	sum, err := h.wars.Summary(c.Request.Context(), ids)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if sum == nil {
		sum = []war.WarSummary{}
	}
	respond(c, sum)
}

// Ranking lists kingdoms by breach victories.
// GET /api/ranking/kingdoms
func (h *WarHandler) Ranking(c *gin.Context) {
	rows, err := h.wars.KingdomRanking(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, rows)
}

type attackWarRequest struct {
	TargetKingdom string    `json:"target_kingdom" binding:"required"`
	Slot          time.Time `json:"slot" binding:"required"`
}

// Attack signs the acting player up for an attack squad.
// POST /api/wars/attack
func (h *WarHandler) Attack(c *gin.Context) {
	var req attackWarRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.wars.Registry().RegisterAttacker(c.Request.Context(), mw.GetPlayerID(c), req.TargetKingdom, req.Slot)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, p)
}

type defendWarRequest struct {
	Slot time.Time `json:"slot" binding:"required"`
}

// Defend signs the acting player up for their kingdom's defense.
// POST /api/wars/defend
func (h *WarHandler) Defend(c *gin.Context) {
	var req defendWarRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.wars.Registry().RegisterDefender(c.Request.Context(), mw.GetPlayerID(c), req.Slot)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, p)
}
