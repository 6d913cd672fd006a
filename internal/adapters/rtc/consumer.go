package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicehub/internal/app/sfu"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

type Consumer struct {
	id         string
	producer   *Producer
	transport  *Transport
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	sendParams webrtc.RTPSendParameters
	params     core.RtpParameters

	mu              sync.Mutex
	out             *sfu.OutTrack
	paused          bool
	closed          bool
	onProducerClose []func()
}

func newConsumer(t *Transport, p *Producer, paused bool) (*Consumer, error) {
	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(p.codec.capability(), id, p.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.engine.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	var ssrc uint32
	if len(sendParams.Encodings) > 0 {
		ssrc = uint32(sendParams.Encodings[0].SSRC)
	}

	c := &Consumer{
		id:         id,
		producer:   p,
		transport:  t,
		track:      track,
		sender:     sender,
		sendParams: sendParams,
		paused:     paused,
	}
	c.params = core.RtpParameters{
		Codecs: []core.RtpCodecParameters{{
			MimeType:     p.codec.mimeType,
			PayloadType:  p.codec.payloadType,
			ClockRate:    p.codec.clockRate,
			Channels:     p.codec.channels,
			Parameters:   p.codec.params,
			RtcpFeedback: p.codec.feedback,
		}},
		Encodings: []core.RtpEncodingParameters{{Ssrc: ssrc}},
		Rtcp:      &core.RtcpParameters{Cname: p.id, ReducedSize: true},
	}
	return c, nil
}

// start begins sending once the transport is connected.
func (c *Consumer) start() {
	if err := c.sender.Send(c.sendParams); err != nil {
		c.transport.logger.Error().Err(err).Str("consumer_id", c.id).Msg("send")
		c.Close()
		return
	}
	go c.readRTCP()
}

// readRTCP passes key frame requests of the receiving client upstream.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) attachOut(ot *sfu.OutTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = ot
	if !c.paused {
		ot.MarkOk()
	}
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producer.id }

func (c *Consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *Consumer) RtpParameters() core.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Resume(context.Context) error {
	c.mu.Lock()
	c.paused = false
	if c.out != nil {
		c.out.MarkOk()
	}
	c.mu.Unlock()
	c.producer.requestKeyFrame()
	return nil
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClose = append(c.onProducerClose, fn)
}

func (c *Consumer) producerClosed() {
	c.mu.Lock()
	hooks := c.onProducerClose
	c.onProducerClose = nil
	c.mu.Unlock()
	c.Close()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.out != nil {
		c.out.MarkDelete()
	}
	c.mu.Unlock()

	c.producer.detach(c.id)
	c.transport.forgetConsumer(c.id)
	if err := c.sender.Stop(); err != nil {
		c.transport.logger.Debug().Err(err).Str("consumer_id", c.id).Msg("sender stop")
	}
}
