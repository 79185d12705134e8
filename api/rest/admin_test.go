package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/api/rest"
	"github.com/kasuganosora/kingdomwar/server/config"
	"github.com/kasuganosora/kingdomwar/server/game/battle"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/war"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminRouter(t *testing.T, key string) (*gin.Engine, *war.Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	wcfg := config.DefaultWar()
	wcfg.Timezone = "UTC"
	wars := war.NewService(db, c, sched, player.NewService(db, wcfg.Kingdoms, nil), wcfg, nil)
	battles := battle.NewService(db, c, sched, config.DefaultBattle(), nil)

	r := gin.New()
	rest.RegisterAdmin(r, rest.NewAdminHandler(battles, wars, sched, nil), key)
	return r, wars
}

func adminCall(r http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(rest.AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdmin_DisabledWithoutKey(t *testing.T) {
	r, _ := newAdminRouter(t, "")
	w := adminCall(r, http.MethodGet, "/api/admin/metrics", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin_WrongKey(t *testing.T) {
	r, _ := newAdminRouter(t, "s3cret")
	assert.Equal(t, http.StatusUnauthorized, adminCall(r, http.MethodGet, "/api/admin/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminCall(r, http.MethodGet, "/api/admin/metrics", "guess").Code)
	assert.Equal(t, http.StatusOK, adminCall(r, http.MethodGet, "/api/admin/metrics", "s3cret").Code)
}

func TestAdmin_AllowedIPs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	wars := war.NewService(db, c, sched, player.NewService(db, nil, nil), config.DefaultWar(), nil)
	battles := battle.NewService(db, c, sched, config.DefaultBattle(), nil)
	h := rest.NewAdminHandler(battles, wars, sched, nil)

	closed := gin.New()
	rest.RegisterAdmin(closed, h, "k", "10.1.1.1")
	assert.Equal(t, http.StatusForbidden, adminCall(closed, http.MethodGet, "/api/admin/metrics", "k").Code)

	// httptest requests come from 192.0.2.1
	open := gin.New()
	rest.RegisterAdmin(open, h, "k", "192.0.2.1")
	assert.Equal(t, http.StatusOK, adminCall(open, http.MethodGet, "/api/admin/metrics", "k").Code)
}

func TestAdmin_ScheduleAndResolve(t *testing.T) {
	r, wars := newAdminRouter(t, "k")

	w := adminCall(r, http.MethodPost, "/api/admin/wars/schedule?date=2026-02-10", "k")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	day, err := wars.WarsOn(context.Background(), time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, day, 12)

	id := strconv.FormatInt(day[0].ID, 10)
	w = adminCall(r, http.MethodPost, "/api/admin/wars/"+id+"/restore", "k")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = adminCall(r, http.MethodPost, "/api/admin/wars/"+id+"/resolve", "k")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Data model.War `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, model.WarFinished, res.Data.Status)

	w = adminCall(r, http.MethodPost, "/api/admin/wars/99999/resolve", "k")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = adminCall(r, http.MethodGet, "/api/admin/scheduler", "k")
	assert.Equal(t, http.StatusOK, w.Code)
}
