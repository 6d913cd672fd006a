package fakemedia

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/google/uuid"
)

type Transport struct {
	router *Router
	id     string

	mu        sync.Mutex
	state     core.TransportState
	connects  int
	producers []*Producer
	consumers []*Consumer
	onClose   []func()
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{
		ID:            t.id,
		IceParameters: core.IceParameters{UsernameFragment: "ufrag-" + t.id[:8], Password: "pwd", IceLite: true},
		IceCandidates: []core.IceCandidate{{
			Foundation: "udpcandidate", Priority: 1076302079, IP: "127.0.0.1", Address: "127.0.0.1",
			Protocol: "udp", Port: 40000, Type: "host",
		}},
		DtlsParameters: core.DtlsParameters{
			Role:         "auto",
			Fingerprints: []core.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
		},
	}
}

func (t *Transport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connects counts successful Connect calls.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Connect(ctx context.Context, dtls core.DtlsParameters, ice *core.IceParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != core.TransportNew {
		return fmt.Errorf("transport %s is %s", t.id, t.state)
	}
	t.state = core.TransportConnected
	t.connects++
	return nil
}

func (t *Transport) Produce(ctx context.Context, opts core.ProducerOptions) (core.Producer, error) {
	_, _, failProduce, hook := t.router.engine.settings()
	if failProduce != nil {
		return nil, failProduce
	}
	p := &Producer{
		router: t.router,
		id:     uuid.NewString(),
		kind:   opts.Kind,
		params: opts.RtpParameters,
	}
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumerOptions) (core.Consumer, error) {
	p, ok := t.router.Producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", opts.ProducerID, core.ErrProducerNotFound)
	}
	c := &Consumer{
		id:         uuid.NewString(),
		producerID: p.id,
		kind:       p.kind,
		params:     p.params,
		paused:     opts.Paused,
	}
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	if !p.addConsumer(c) {
		c.Close()
		return nil, fmt.Errorf("producer %s: %w", p.id, ErrClosed)
	}
	return c, nil
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		return
	}
	t.state = core.TransportClosed
	producers := t.producers
	consumers := t.consumers
	hooks := t.onClose
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	for _, fn := range hooks {
		fn()
	}
}
