package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/voicehub/internal/app/sfu"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Router switches media between the transports of one room. Packets of a
// producer are copied to its consumers by an sfu relay.
type Router struct {
	id     string
	engine *Engine
	relays *sfu.RelayManager

	mu         sync.RWMutex
	transports map[string]*Transport
	producers  map[string]*Producer
	observers  map[*Observer]struct{}
	closed     bool
}

func newRouter(e *Engine, id string) *Router {
	return &Router{
		id:         id,
		engine:     e,
		relays:     sfu.NewRelayManager(),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
		observers:  make(map[*Observer]struct{}),
	}
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() core.RtpCapabilities { return capabilities() }

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return core.CanConsume(p.params, caps)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, core.ErrRoutingEngine
	}
	t, err := newTransport(ctx, r, uuid.NewString())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, core.ErrRoutingEngine
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CreateAudioLevelObserver(_ context.Context, opts core.AudioLevelOptions) (core.AudioLevelObserver, error) {
	o := newObserver(opts, func(id string) (levelSource, bool) {
		p, ok := r.producer(id)
		if !ok {
			return nil, false
		}
		return p, true
	})
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		o.Close()
		return nil, core.ErrRoutingEngine
	}
	r.observers[o] = struct{}{}
	r.mu.Unlock()
	o.start()
	return o, nil
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
	r.relays.StopRelay(id)
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close closes every transport and observer of the router.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	observers := make([]*Observer, 0, len(r.observers))
	for o := range r.observers {
		observers = append(observers, o)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	for _, o := range observers {
		o.Close()
	}
	r.relays.StopAll()
	r.engine.removeRouter(r.id)
	log.Info().Str("module", "rtc").Str("router_id", r.id).Msg("router closed")
}
