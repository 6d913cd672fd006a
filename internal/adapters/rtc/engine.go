package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []string
	// UDPPortMin and UDPPortMax bound the ports ICE gathers on; zero means any.
	UDPPortMin uint16
	UDPPortMax uint16
	// AnnouncedIPs replace host candidate addresses, e.g. behind 1:1 NAT.
	AnnouncedIPs []string
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

var (
	_ core.MediaEngine        = (*Engine)(nil)
	_ core.Router             = (*Router)(nil)
	_ core.Transport          = (*Transport)(nil)
	_ core.Producer           = (*Producer)(nil)
	_ core.Consumer           = (*Consumer)(nil)
	_ core.AudioLevelObserver = (*Observer)(nil)
)

// Engine is a core.MediaEngine built from pion ORTC objects. It runs in
// process, so it only dies when closed.
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	routers map[string]*Router
	done    chan struct{}
	err     error
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetLite(true)
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if len(cfg.AnnouncedIPs) > 0 {
		se.SetNAT1To1IPs(cfg.AnnouncedIPs, webrtc.ICECandidateTypeHost)
	}

	e := &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		routers: make(map[string]*Router),
		done:    make(chan struct{}),
	}
	if len(cfg.ICEServers) > 0 {
		e.iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return e, nil
}

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	r := newRouter(e, uuid.NewString())
	e.routers[r.id] = r
	log.Info().Str("module", "rtc").Str("router_id", r.id).Msg("router created")
	return r, nil
}

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return nil
	}
	e.err = fmt.Errorf("%w: engine closed", core.ErrRoutingEngine)
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	close(e.done)
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	return nil
}
