// Package fakemedia is an in-memory media engine for tests. It keeps the
// lifecycle rules of the real one (close cascades, producer-close hooks,
// transport state) and moves no packets.
package fakemedia

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("fakemedia: closed")

func DefaultCapabilities() core.RtpCapabilities {
	return core.RtpCapabilities{Codecs: []core.RtpCodecCapability{
		{Kind: "audio", MimeType: "audio/opus", PreferredPayloadType: 111, ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", PreferredPayloadType: 96, ClockRate: 90000},
	}}
}

func OpusParameters() core.RtpParameters {
	return core.RtpParameters{
		Codecs:    []core.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []core.RtpEncodingParameters{{Ssrc: 1111}},
	}
}

func VP8Parameters() core.RtpParameters {
	return core.RtpParameters{
		Codecs:    []core.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []core.RtpEncodingParameters{{Ssrc: 2222}},
	}
}

type Engine struct {
	mu      sync.Mutex
	routers []*Router
	done    chan struct{}
	err     error

	// Failure injection; read under mu when an entity is created.
	FailRouter    error
	FailObserver  error
	FailTransport error
	FailProduce   error
	// ProduceHook runs after a producer is created and before Produce returns.
	ProduceHook func(ctx context.Context)
}

func New() *Engine {
	return &Engine{done: make(chan struct{})}
}

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailRouter != nil {
		return nil, e.FailRouter
	}
	r := &Router{
		engine:    e,
		id:        uuid.NewString(),
		producers: make(map[string]*Producer),
	}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Close() error {
	e.Kill(nil)
	return nil
}

// Kill simulates engine death.
func (e *Engine) Kill(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
		return
	default:
	}
	e.err = err
	close(e.done)
}

func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

func (e *Engine) settings() (failObserver, failTransport, failProduce error, hook func(context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FailObserver, e.FailTransport, e.FailProduce, e.ProduceHook
}

type Router struct {
	engine *Engine
	id     string

	mu         sync.Mutex
	closed     bool
	producers  map[string]*Producer
	transports []*Transport
	observers  []*Observer
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() core.RtpCapabilities { return DefaultCapabilities() }

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return core.CanConsume(p.params, caps)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context) (core.Transport, error) {
	_, failTransport, _, _ := r.engine.settings()
	if failTransport != nil {
		return nil, failTransport
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	t := &Transport{router: r, id: uuid.NewString(), state: core.TransportNew}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) CreateAudioLevelObserver(ctx context.Context, opts core.AudioLevelOptions) (core.AudioLevelObserver, error) {
	failObserver, _, _, _ := r.engine.settings()
	if failObserver != nil {
		return nil, failObserver
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o := &Observer{Options: opts, producers: make(map[string]struct{})}
	r.observers = append(r.observers, o)
	return o, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := append([]*Transport(nil), r.transports...)
	observers := append([]*Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}
	for _, o := range observers {
		o.Close()
	}
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}

// Observer returns the first audio level observer of the router.
func (r *Router) Observer() *Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.observers) == 0 {
		return nil
	}
	return r.observers[0]
}

func (r *Router) Producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}
