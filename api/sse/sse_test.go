package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeSSE_StreamsHookEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, ps := testutil.SetupTestCache(t)
	h := NewHandler(ps, nil)
	hc := hook.NewHookCenter()
	h.Forward(hc)

	r := gin.New()
	r.GET("/api/sse", h.ServeSSE)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	// the subscription is live once the connected event has been sent
	_, err = hc.Trigger(ctx, hook.WarAnnounce, &hook.WarAnnounceEvent{WarIDs: []int64{7}, Kingdoms: []string{"north"}})
	require.NoError(t, err)

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") || line == "data: {}" {
			continue
		}
		assert.Contains(t, line, `"event":"war.announce"`)
		assert.Contains(t, line, `"war_ids":[7]`)
		return
	}
	t.Fatal("stream ended before the announcement arrived")
}
