package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/voicehub/internal/app/sfu"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// trackSource adapts a remote track to the relay.
type trackSource struct {
	track *webrtc.TrackRemote
}

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

type Producer struct {
	id        string
	kind      domain.MediaKind
	params    core.RtpParameters
	codec     codec
	ssrc      uint32
	transport *Transport
	receiver  *webrtc.RTPReceiver

	mu        sync.Mutex
	relay     *sfu.Relay
	paused    bool
	closed    bool
	taps      map[string]func(*rtp.Packet)
	consumers map[string]*Consumer
	onClose   []func()
}

func newProducer(t *Transport, opts core.ProducerOptions, c codec, receiver *webrtc.RTPReceiver) *Producer {
	return &Producer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		codec:     c,
		ssrc:      opts.RtpParameters.Encodings[0].Ssrc,
		transport: t,
		receiver:  receiver,
		taps:      make(map[string]func(*rtp.Packet)),
		consumers: make(map[string]*Consumer),
	}
}

// start begins receiving once the transport is connected.
func (p *Producer) start() {
	primary, _ := p.params.PrimaryCodec()
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.ssrc),
				PayloadType: webrtc.PayloadType(primary.PayloadType),
			},
		}},
	})
	if err != nil {
		p.transport.logger.Error().Err(err).Str("producer_id", p.id).Msg("receive")
		p.Close()
		return
	}
	go func() {
		for {
			if _, _, err := p.receiver.ReadRTCP(); err != nil {
				return
			}
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	relays := p.transport.router.relays
	p.relay = relays.StartRelay(context.Background(), p.id, trackSource{track: p.receiver.Track()})
	if p.paused {
		p.relay.Pause()
	}
	for key, fn := range p.taps {
		p.relay.SetTap(key, fn)
	}
	for _, c := range p.consumers {
		if ot, ok := relays.AddSubscriber(p.id, c.id, c.track, true); ok {
			c.attachOut(ot)
		}
	}
	p.transport.logger.Info().Str("producer_id", p.id).Str("kind", string(p.kind)).Msg("producer receiving")
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) RtpParameters() core.RtpParameters { return p.params }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	if p.relay != nil {
		p.relay.Pause()
	}
	return nil
}

func (p *Producer) Resume(context.Context) error {
	p.mu.Lock()
	p.paused = false
	if p.relay != nil {
		p.relay.Resume()
	}
	p.mu.Unlock()
	p.requestKeyFrame()
	return nil
}

// setTap forwards every received packet to fn as well; nil removes it.
func (p *Producer) setTap(key string, fn func(*rtp.Packet)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn == nil {
		delete(p.taps, key)
	} else {
		p.taps[key] = fn
	}
	if p.relay != nil {
		p.relay.SetTap(key, fn)
	}
}

func (p *Producer) audioLevelID() uint8 {
	return headerExtensionID(p.params, AudioLevelURI)
}

func (p *Producer) requestKeyFrame() {
	if p.kind != domain.KindVideo {
		return
	}
	p.transport.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}})
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
	if p.relay == nil {
		return
	}
	if ot, ok := p.transport.router.relays.AddSubscriber(p.id, c.id, c.track, true); ok {
		c.attachOut(ot)
	}
}

func (p *Producer) detach(consumerID string) {
	p.mu.Lock()
	delete(p.consumers, consumerID)
	p.mu.Unlock()
	p.transport.router.relays.MarkSubscriberDelete(p.id, consumerID)
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = nil
	hooks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	p.transport.router.removeProducer(p.id)
	p.transport.forgetProducer(p.id)
	if err := p.receiver.Stop(); err != nil {
		p.transport.logger.Debug().Err(err).Str("producer_id", p.id).Msg("receiver stop")
	}
	for _, c := range consumers {
		c.producerClosed()
	}
	for _, fn := range hooks {
		fn()
	}
}
