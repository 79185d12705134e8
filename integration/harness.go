// Package integration boots the full HTTP stack against in-memory storage.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/kingdomwar/server/api/rest"
	"github.com/kasuganosora/kingdomwar/server/api/sse"
	"github.com/kasuganosora/kingdomwar/server/audit"
	"github.com/kasuganosora/kingdomwar/server/config"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	mw "github.com/kasuganosora/kingdomwar/server/middleware"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adminKey = "integration-key"

// TestServer is a real HTTP server wired the way main.go wires it.
type TestServer struct {
	DB      *gorm.DB
	Wars    *war.Service
	Battles *battle.Service
	Audit   *audit.Service
	Server  *httptest.Server
	URL     string
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sched := scheduler.New(logger)
	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	sseH := sse.NewHandler(pubsub, logger)
	sseH.Forward(hooks)

	skills := skill.NewService(db, logger)
	require.NoError(t, skills.Seed(context.Background()))
	wcfg := config.DefaultWar()
	wcfg.Timezone = "UTC"
	players := player.NewService(db, wcfg.Kingdoms, logger)

	wars := war.NewService(db, c, sched, players, wcfg, logger)
	wars.SetHooks(hooks)
	wars.SetAudit(auditSvc)

	bcfg := config.DefaultBattle()
	bcfg.MaxRounds = 3
	battles := battle.NewService(db, c, sched, bcfg, logger)
	battles.SetLoadouts(skills)
	battles.SetBlocker(wars.Registry())
	wars.Registry().SetOccupancy(battles)
	battles.SetHooks(hooks)
	battles.SetAudit(auditSvc)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	apirest.Register(r, apirest.Deps{Players: players, Skills: skills, Battles: battles, Wars: wars, Logger: logger})
	apirest.RegisterAdmin(r, apirest.NewAdminHandler(battles, wars, sched, logger), adminKey)
	r.GET("/api/sse", sseH.ServeSSE)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		sched.Stop()
		auditSvc.Stop(context.Background())
	})
	return &TestServer{DB: db, Wars: wars, Battles: battles, Audit: auditSvc, Server: srv, URL: srv.URL}
}

// Reply is the common response envelope.
type Reply struct {
	Status int
	OK     bool            `json:"ok"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

// Do sends a JSON request as the given player (0 for none).
func (ts *TestServer) Do(t *testing.T, method, path string, playerID int64, body any) Reply {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if playerID != 0 {
		req.Header.Set(mw.PlayerIDHeader, strconv.FormatInt(playerID, 10))
	}
	if len(path) > 10 && path[:10] == "/api/admin" {
		req.Header.Set(apirest.AdminKeyHeader, adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := Reply{Status: resp.StatusCode}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

// Decode unmarshals the reply payload into v.
func (r Reply) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v), string(r.Data))
}
