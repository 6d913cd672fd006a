package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is one ICE+DTLS association with a client. Producers and
// consumers created before the handshake completes start once it does.
type Transport struct {
	id       string
	router   *Router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParams
	logger   zerolog.Logger

	mu        sync.Mutex
	state     core.TransportState
	pending   []func()
	producers map[string]*Producer
	consumers map[string]*Consumer
	onClose   []func()
}

func newTransport(ctx context.Context, r *Router, id string) (*Transport, error) {
	api := r.engine.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &Transport{
		id:        id,
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		state:     core.TransportNew,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
		logger: log.With().
			Str("module", "rtc").
			Str("router_id", r.id).
			Str("transport_id", id).
			Logger(),
	}

	if err := t.gather(ctx); err != nil {
		t.Close()
		return nil, err
	}

	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Debug().Str("dtls_state", s.String()).Msg("DTLS state")
		if s == webrtc.DTLSTransportStateClosed || s == webrtc.DTLSTransportStateFailed {
			go t.Close()
		}
	})
	return t, nil
}

func (t *Transport) gather(ctx context.Context) error {
	finished := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(finished) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("ice candidates: %w", err)
	}
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("ice parameters: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("dtls parameters: %w", err)
	}

	t.params = core.TransportParams{
		ID: t.id,
		IceParameters: core.IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
			IceLite:          true,
		},
		IceCandidates:  toIceCandidates(candidates),
		DtlsParameters: toDtlsParameters(dtlsParams),
	}
	return nil
}

func toIceCandidates(in []webrtc.ICECandidate) []core.IceCandidate {
	out := make([]core.IceCandidate, 0, len(in))
	for _, c := range in {
		out = append(out, core.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}

func toDtlsParameters(in webrtc.DTLSParameters) core.DtlsParameters {
	out := core.DtlsParameters{Role: "auto"}
	for _, f := range in.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, core.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

// remoteDtls converts the client's parameters. Its role decides ours.
func remoteDtls(in core.DtlsParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: webrtc.DTLSRoleAuto}
	switch in.Role {
	case "client":
		out.Role = webrtc.DTLSRoleClient
	case "server":
		out.Role = webrtc.DTLSRoleServer
	}
	for _, f := range in.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams { return t.params }

func (t *Transport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts ICE and DTLS in the background and returns right away.
// The lite ICE agent needs the client's ICE credentials to answer checks.
func (t *Transport) Connect(_ context.Context, dtls core.DtlsParameters, ice *core.IceParameters) error {
	if ice == nil || ice.UsernameFragment == "" {
		return fmt.Errorf("%w: remote ice parameters required", core.ErrBadRequest)
	}
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("%w: dtls fingerprints required", core.ErrBadRequest)
	}
	t.mu.Lock()
	if t.state != core.TransportNew {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("transport is %s", state)
	}
	t.state = core.TransportConnecting
	t.mu.Unlock()

	remoteIce := webrtc.ICEParameters{
		UsernameFragment: ice.UsernameFragment,
		Password:         ice.Password,
		ICELite:          ice.IceLite,
	}
	go t.handshake(remoteIce, remoteDtls(dtls))
	return nil
}

func (t *Transport) handshake(ice webrtc.ICEParameters, dtls webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, ice, &role); err != nil {
		t.fail(fmt.Errorf("ice start: %w", err))
		return
	}
	if err := t.dtls.Start(dtls); err != nil {
		t.fail(fmt.Errorf("dtls start: %w", err))
		return
	}

	t.mu.Lock()
	if t.state != core.TransportConnecting {
		t.mu.Unlock()
		return
	}
	t.state = core.TransportConnected
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	t.logger.Info().Msg("transport connected")
	for _, fn := range pending {
		fn()
	}
}

func (t *Transport) fail(err error) {
	t.logger.Warn().Err(err).Msg("transport handshake failed")
	t.mu.Lock()
	if t.state == core.TransportConnecting {
		t.state = core.TransportFailed
	}
	t.mu.Unlock()
	t.Close()
}

// whenConnected runs fn now if the transport is connected, later otherwise.
func (t *Transport) whenConnected(fn func()) {
	t.mu.Lock()
	if t.state == core.TransportConnected {
		t.mu.Unlock()
		fn()
		return
	}
	if t.state == core.TransportNew || t.state == core.TransportConnecting {
		t.pending = append(t.pending, fn)
	}
	t.mu.Unlock()
}

func (t *Transport) Produce(_ context.Context, opts core.ProducerOptions) (core.Producer, error) {
	c, ok := lookupCodec(opts.Kind, opts.RtpParameters)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported codec", core.ErrBadRequest)
	}
	if len(opts.RtpParameters.Encodings) == 0 || opts.RtpParameters.Encodings[0].Ssrc == 0 {
		return nil, fmt.Errorf("%w: encodings need an ssrc", core.ErrBadRequest)
	}
	receiver, err := t.router.engine.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}

	p := newProducer(t, opts, c, receiver)
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, errors.New("transport closed")
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	t.whenConnected(p.start)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts core.ConsumerOptions) (core.Consumer, error) {
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, core.ErrProducerNotFound
	}
	if !core.CanConsume(p.params, opts.RtpCapabilities) {
		return nil, core.ErrCannotConsume
	}
	c, err := newConsumer(t, p, opts.Paused)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.state == core.TransportClosed {
		t.mu.Unlock()
		c.Close()
		return nil, errors.New("transport closed")
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	p.attach(c)
	t.whenConnected(c.start)
	return c, nil
}

func (t *Transport) writeRTCP(pkts []rtcp.Packet) {
	if t.State() != core.TransportConnected {
		return
	}
	if _, err := t.dtls.WriteRTCP(pkts); err != nil {
		t.logger.Debug().Err(err).Msg("write rtcp")
	}
}

func (t *Transport) forgetProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) forgetConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
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
	t.pending = nil
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	hooks := t.onClose
	t.onClose = nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	t.logger.Info().Msg("transport closed")

	for _, fn := range hooks {
		fn()
	}
}
