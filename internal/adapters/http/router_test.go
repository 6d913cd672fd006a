package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/core/mocks"
	"github.com/dkeye/voicehub/internal/metrics"
	"github.com/dkeye/voicehub/internal/testutil/fakemedia"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newRouter(t *testing.T) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	cfg := &config.Config{
		Mode:       "test",
		StaticPath: t.TempDir(),
		Secret:     "secret",
		AdminToken: "admin",
	}
	reg := app.NewRegistry()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg, reg)
	rooms := app.NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{MaxEntries: 99, Threshold: -80})
	o := orch.New(reg, rooms, mocks.NewMockGateway(gomock.NewController(t)), app.SimplePolicy{}, m, orch.DefaultOptions())
	ctl := signal.NewSignalWSController(o, m, signal.DefaultConfig())
	return SetupRouter(context.Background(), cfg, o, ctl, promReg), o
}

func do(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndListRooms(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/api/rooms", `{"roomName":"general","tenantId":"T1"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/rooms/create", `{"roomName":"music","serverId":"T2"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/rooms", `{"roomName":"general","tenantId":"T9"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/rooms", `{"tenantId":"T1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []core.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, core.RoomInfo{Name: "general", Tenant: "T1"}, all[0])

	w = do(r, http.MethodGet, "/api/rooms/T2", "", nil)
	var t2 []core.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &t2))
	assert.Equal(t, []core.RoomInfo{{Name: "music", Tenant: "T2"}}, t2)

	w = do(r, http.MethodGet, "/api/rooms/nobody", "", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAdminReset(t *testing.T) {
	r, o := newRouter(t)
	_, err := o.Rooms.CreateRoom("general", "T1")
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/api/admin/reset", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/api/admin/reset", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, o.Rooms.List(), 1)

	w = do(r, http.MethodPost, "/api/admin/reset", "", map[string]string{"Authorization": "Bearer admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":1,"producers":0,"consumers":0,"transports":0}`, w.Body.String())
	assert.Empty(t, o.Rooms.List())
}

func TestHealthAndMetrics(t *testing.T) {
	r, o := newRouter(t)
	_, err := o.Rooms.CreateRoom("general", "T1")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicehub_rooms 1")
}

func TestClientTokenCookie(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodGet, "/healthz", "", nil)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "VoiceSessions=")
}
