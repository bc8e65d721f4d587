package rest_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/api/rest"
	kv "github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/loop"
	"github.com/kasuganosora/questkeeper/game/player"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/metrics"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"github.com/kasuganosora/questkeeper/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "s3cret"

const defs = `
quests:
  - id: 1
    name: Courier
    branches:
      - stages:
          - {type: signal, text: Pick up the parcel}
          - {type: signal, text: Deliver the parcel}
  - id: 2
    name: Bounty
    branches:
      - stages: [{type: signal}]
pools:
  - {id: 5, name: Board, quests: [2]}
`

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	router   *gin.Engine
	svc      *quest.Service
	loop     *loop.Loop
	progress *quest.Publisher
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := zap.NewNop()
	l := loop.New(64, logger)
	go l.Run()
	sched := scheduler.New(logger)
	m := metrics.New()
	cache := account.NewCache(store.New(testutil.SetupTestDB(t)), nil, time.Second, m, logger)
	loader := account.NewLoader(cache, l, account.LoaderConfig{Attempts: 1, AttemptTimeout: time.Second}, m, logger)

	rm, err := kv.NewCache(config.CacheConfig{})
	require.NoError(t, err)
	ps, err := kv.NewPubSub(config.CacheConfig{})
	require.NoError(t, err)
	progress := quest.NewPublisher(rm, ps, 64, logger)

	ctx, cancel := context.WithCancel(context.Background())
	rt := quest.NewRuntime(ctx, quest.Deps{Cache: cache, Exec: l, Scheduler: sched, Events: progress, Metrics: m, Logger: logger})
	types, err := quest.DefaultTypes()
	require.NoError(t, err)
	parsed, err := quest.ParseDefinitions([]byte(defs))
	require.NoError(t, err)
	reg, err := quest.Build(rt, types, parsed)
	require.NoError(t, err)
	svc := quest.NewService(reg, loader, player.NewSessionManager(logger), nil, progress, 0, logger)
	require.NoError(t, svc.Start(ctx))

	cfg := config.Default()
	cfg.Server.AdminKey = adminKey
	r, err := rest.NewRouter(ctx, cfg, svc, sched, m, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		sched.Stop()
		_ = cache.Close(context.Background())
		l.Stop()
		<-l.Done()
		_ = progress.Close(context.Background())
		_ = ps.Close()
		_ = rm.Close()
	})
	return &server{router: r, svc: svc, loop: l, progress: progress}
}

func (s *server) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountFlow(t *testing.T) {
	s := newServer(t)
	id := uuid.New().String()
	base := "/api/accounts/" + id

	w := s.do(http.MethodPost, base+"/join", `{"name":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", decode(t, w)["player"])

	w = s.do(http.MethodPost, base+"/quests/1/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, base+"/quests/1/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, base+"/quests/1/stages/0:0/signal", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, base+"/quests/1/stages/0:0/signal", "")
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate signal")

	w = s.do(http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view quest.AccountView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Quests, 1)
	assert.Equal(t, "Stage 2/2: Deliver the parcel", view.Quests[0].Description)

	w = s.do(http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []player.Packet `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	var payloads []string
	for _, m := range msgs.Messages {
		payloads = append(payloads, string(m.Payload))
	}
	assert.Contains(t, strings.Join(payloads, "\n"), "Quest started: Courier")

	w = s.do(http.MethodPost, base+"/quests/1/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, base+"/quests/1/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, base+"/pools/5/give", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["quest_id"])

	w = s.do(http.MethodGet, base+"/progress", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, base+"/leave", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProgressReadModel(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	id := uuid.New().String()
	base := "/api/accounts/" + id

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/join", `{"name":"carl"}`).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/quests/1/start", "").Code)
	require.NoError(t, s.progress.Flush(ctx))

	w := s.do(http.MethodGet, base+"/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "carl", body["player"])
	assert.Equal(t, true, body["online"])
	assert.Equal(t, map[string]any{"1": "Stage 1/2: Pick up the parcel"}, body["progress"])

	w = s.do(http.MethodGet, base+"/progress/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Stage 1/2: Pick up the parcel", decode(t, w)["line"])
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, base+"/progress/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, base+"/progress/x", "").Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/leave", "").Code)
	require.NoError(t, s.progress.Flush(ctx))
	body = decode(t, s.do(http.MethodGet, base+"/progress", ""))
	assert.Equal(t, false, body["online"])
	assert.Empty(t, body["progress"])
}

func TestAdminEventsStream(t *testing.T) {
	s := newServer(t)
	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/admin/events", nil)
	require.NoError(t, err)
	req.Header.Set(mw.AdminKeyHeader, adminKey)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: connected\n", line)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/"+uuid.New().String()+"/join", `{"name":"dora"}`).Code)
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if line == "event: "+quest.EventJoined+"\n" {
			break
		}
	}
	data, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, "data: "), data)
	var ev quest.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev))
	assert.Equal(t, "dora", ev.Player)
}

func TestAccountErrors(t *testing.T) {
	s := newServer(t)
	id := uuid.New().String()
	base := "/api/accounts/" + id

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/accounts/nope/join", `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, base+"/join", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, base+"/quests/1/start", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, base+"/messages", "").Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/join", `{"name":"bob"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, base+"/quests/x/start", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, base+"/quests/9/start", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, base+"/quests/1/stages/zz/signal", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, base+"/quests/1/stages/4:0/signal", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, base+"/pools/9/give", "").Code)
}

func TestUnavailableAfterLoopStops(t *testing.T) {
	s := newServer(t)
	id := uuid.New().String()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/"+id+"/join", `{"name":"carol"}`).Code)

	s.loop.Stop()
	<-s.loop.Done()
	w := s.do(http.MethodPost, "/api/accounts/"+id+"/quests/1/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin(t *testing.T) {
	s := newServer(t)
	id := uuid.New().String()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/"+id+"/join", `{"name":"dave"}`).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/"+id+"/quests/1/start", "").Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/admin/metrics", "").Code)

	key := []string{"X-Admin-Key", adminKey}
	w := s.do(http.MethodGet, "/api/admin/metrics", "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["online_players"])
	assert.Equal(t, float64(1), body["cached_accounts"])
	assert.Equal(t, float64(2), body["quests"])

	w = s.do(http.MethodGet, "/api/admin/players", "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/admin/players?name=nobody", "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = s.do(http.MethodPost, "/api/admin/broadcast", `{"message":"restart in 5 minutes"}`, key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["recipients"])
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/admin/broadcast", `{}`, key...).Code)

	w = s.do(http.MethodGet, "/api/admin/quests", "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Courier"`)

	w = s.do(http.MethodGet, "/api/admin/scheduler", "", key...)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/admin/save", "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["saved"])

	w = s.do(http.MethodDelete, "/api/admin/quests/1", "", key...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["deleted_entries"])
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/admin/quests/1", "", key...).Code)

	w = s.do(http.MethodDelete, "/api/admin/pools/5", "", key...)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/admin/kick/"+id, "", key...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/admin/kick/"+id, "", key...).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(http.MethodGet, "/health", "")
	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "questkeeper_http_requests_total")
}
