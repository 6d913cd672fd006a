package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SendBuffer     int
	InboxSize      int
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// PingPeriod between websocket pings; zero disables keepalive.
	PingPeriod time.Duration
	// RateLimit requests per RateInterval per connection; zero disables.
	RateLimit    int
	RateInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     64,
		InboxSize:      32,
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 32768,
		PingPeriod:     54 * time.Second,
		RateLimit:      50,
		RateInterval:   time.Second,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Metrics

	cfg      Config
	limiter  *RequestRateLimiter
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, m *metrics.Metrics, cfg Config) *SignalWSController {
	ctl := &SignalWSController{
		Orch:    o,
		Metrics: m,
		cfg:     cfg,
	}
	if cfg.RateLimit > 0 {
		ctl.limiter = NewRequestRateLimiter(cfg.RateLimit, cfg.RateInterval)
	}
	ctl.handlers = ctl.routes()
	return ctl
}

type WsSignalConn struct {
	sid  core.SessionID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it. Every connection gets its own id, the client token only
// correlates reconnects of one browser in the logs.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	logger := log.With().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("client", c.GetString("client_token")).
		Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(ctl.cfg.MaxMessageSize)
	}
	logger.Info().Msg("new WS connection")

	conn := &WsSignalConn{
		sid:  sid,
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, conn, cancel)
	ctl.Metrics.ConnectionOpened()

	ctl.sendEvent(conn, core.EventConnectionSuccess, map[string]string{"socketId": string(sid)})

	inbox := make(chan []byte, ctl.cfg.InboxSize)
	go ctl.writePump(ctx, conn)
	go ctl.handlePump(ctx, sid, conn, inbox)
	go ctl.readPump(ctx, cancel, sid, conn, inbox)
}
