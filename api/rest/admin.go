package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"go.uber.org/zap"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminHandler serves operator endpoints. Mount it behind AdminAuth.
type AdminHandler struct {
	battles *battle.Service
	wars    *war.Service
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

func NewAdminHandler(battles *battle.Service, wars *war.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{battles: battles, wars: wars, sched: sched, logger: logger}
}

// RegisterAdmin mounts the operator routes under /api/admin. When allowIPs
// is not empty only those clients may call them.
func RegisterAdmin(r gin.IRouter, h *AdminHandler, adminKey string, allowIPs ...string) {
	g := r.Group("/api/admin", mw.AllowIPs(allowIPs...), AdminAuth(adminKey))
	g.GET("/metrics", h.Metrics)
	g.GET("/scheduler", h.SchedulerTasks)
	g.POST("/wars/schedule", h.ScheduleDay)
	g.POST("/wars/:id/resolve", h.ResolveWar)
	g.POST("/wars/:id/restore", h.RestoreWar)
}

// Metrics reports engine load.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	respond(c, gin.H{
		"running_battles": h.battles.Running(),
		"tickers":         len(h.sched.ListTickers()),
		"timers":          len(h.sched.ListTimers()),
	})
}

// SchedulerTasks lists every registered task with its next run.
// GET /api/admin/scheduler
func (h *AdminHandler) SchedulerTasks(c *gin.Context) {
	type task struct {
		Name string     `json:"name"`
		Next *time.Time `json:"next,omitempty"`
	}
	timers := h.sched.ListTimers()
	out := make([]task, 0, len(timers))
	for _, name := range timers {
		t := task{Name: name}
		if next, ok := h.sched.NextRun(name); ok {
			t.Next = &next
		}
		out = append(out, t)
	}
	respond(c, gin.H{"tickers": h.sched.ListTickers(), "timers": out})
}

// ScheduleDay creates the wars of a day, today by default.
// POST /api/admin/wars/schedule?date=2026-01-31
func (h *AdminHandler) ScheduleDay(c *gin.Context) {
	day := time.Now()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, h.wars.Location())
		if err != nil {
			reject(c, http.StatusBadRequest, "date must look like 2006-01-02")
			return
		}
		day = d
	}
	n, err := h.wars.ScheduleDay(c.Request.Context(), day)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"wars": n})
}

// ResolveWar runs a war now instead of waiting for its slot.
// POST /api/admin/wars/:id/resolve
func (h *AdminHandler) ResolveWar(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.wars.Resolve(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.logger.Info("admin resolved war", zap.Int64("war_id", id))
	respond(c, w)
}

// RestoreWar refills the participants of a finished war now.
// POST /api/admin/wars/:id/restore
func (h *AdminHandler) RestoreWar(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.wars.Restore(c.Request.Context(), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, gin.H{"restored": id})
}

// AdminAuth checks the X-Admin-Key header. With an empty key every admin
// route answers 503.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			reject(c, http.StatusServiceUnavailable, "admin endpoints disabled: set server.admin_key in config")
			return
		}
		if c.GetHeader(AdminKeyHeader) != adminKey {
			reject(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}
