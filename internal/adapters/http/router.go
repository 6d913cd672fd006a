package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a per-browser token in the session so log
// lines of reconnecting clients can be correlated.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// AdminMiddleware requires "Authorization: Bearer <token>". An empty token
// disables the admin routes.
func AdminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	o *orch.Orchestrator,
	ctl *signal.SignalWSController,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	rooms := roomHandlers{orch: o}
	api.GET("/rooms", rooms.list)
	api.GET("/rooms/:tenantId", rooms.listTenant)
	api.POST("/rooms", rooms.create)
	api.POST("/rooms/create", rooms.create)

	admin := api.Group("/admin", AdminMiddleware(cfg.AdminToken))
	admin.POST("/reset", func(c *gin.Context) {
		res := o.Reset()
		log.Warn().Str("module", "adapters.http").Int("rooms", res.Rooms).Msg("registry reset")
		c.JSON(http.StatusOK, res)
	})

	return r
}

type roomHandlers struct {
	orch *orch.Orchestrator
}

func (h roomHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Rooms.List())
}

func (h roomHandlers) listTenant(c *gin.Context) {
	rooms, _ := h.orch.Rooms.ListTenant(domain.TenantID(c.Param("tenantId")))
	if rooms == nil {
		rooms = []core.RoomInfo{}
	}
	c.JSON(http.StatusOK, rooms)
}

type createRoomRequest struct {
	RoomName string `json:"roomName"`
	TenantID string `json:"tenantId"`
	ServerID string `json:"serverId"`
}

func (h roomHandlers) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomName is required"})
		return
	}
	tenant := req.TenantID
	if tenant == "" {
		tenant = req.ServerID
	}
	room, err := h.orch.Rooms.CreateRoom(domain.RoomName(req.RoomName), domain.TenantID(tenant))
	if errors.Is(err, core.ErrRoomExists) {
		c.JSON(http.StatusConflict, gin.H{"message": "Room already exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, core.RoomInfo{Name: room.Name, Tenant: room.Tenant})
}
