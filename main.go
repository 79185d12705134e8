package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/kingdomwar/server/api/rest"
	"github.com/kasuganosora/kingdomwar/server/api/sse"
	"github.com/kasuganosora/kingdomwar/server/audit"
	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/config"
	dbadapter "github.com/kasuganosora/kingdomwar/server/db"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	"github.com/kasuganosora/kingdomwar/server/logging"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := logging.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Background services ----
	sched := scheduler.New(logger)
	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	sseH := sse.NewHandler(pubsub, logger)
	sseH.Forward(hooks)

	// ---- Game services ----
	ctx := context.Background()
	skills := skill.NewService(db, logger)
	if err := skills.Seed(ctx); err != nil {
		logger.Fatal("seed skills", zap.Error(err))
	}
	players := player.NewService(db, cfg.War.Kingdoms, logger)

	wars := war.NewService(db, c, sched, players, cfg.War, logger)
	wars.SetHooks(hooks)
	wars.SetAudit(auditSvc)

	battles := battle.NewService(db, c, sched, cfg.Battle, logger)
	battles.SetLoadouts(skills)
	battles.SetBlocker(wars.Registry())
	wars.Registry().SetOccupancy(battles)
	battles.SetHooks(hooks)
	battles.SetAudit(auditSvc)

	if n, err := battles.Recover(ctx); err != nil {
		logger.Error("recover battles", zap.Error(err))
	} else if n > 0 {
		logger.Info("battles recovered", zap.Int("count", n))
	}
	if _, err := wars.Recover(ctx); err != nil {
		logger.Error("recover wars", zap.Error(err))
	}
	if err := wars.StartJobs(ctx); err != nil {
		logger.Fatal("war jobs", zap.Error(err))
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "running_battles": battles.Running()})
	})
	apirest.Register(r, apirest.Deps{
		Players: players,
		Skills:  skills,
		Battles: battles,
		Wars:    wars,
		Logger:  logger,
	})
	apirest.RegisterAdmin(r, apirest.NewAdminHandler(battles, wars, sched, logger), cfg.Server.AdminKey, cfg.Server.AdminIPs...)
	r.GET("/api/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
