package core

import (
	"context"
	"time"

	"github.com/dkeye/voicehub/internal/domain"
)

// MediaEngine hands out routers. Done is closed when the engine dies; the
// process cannot recover from that.
type MediaEngine interface {
	CreateRouter(ctx context.Context) (Router, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Router is a per-room media switch.
type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	// CanConsume checks the producer exists on this router and caps can receive it.
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context) (Transport, error)
	CreateAudioLevelObserver(ctx context.Context, opts AudioLevelOptions) (AudioLevelObserver, error)
	Close()
}

type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportFailed     TransportState = "failed"
	TransportClosed     TransportState = "closed"
)

type ProducerOptions struct {
	Kind          domain.MediaKind
	RtpParameters RtpParameters
}

type ConsumerOptions struct {
	ProducerID      string
	RtpCapabilities RtpCapabilities
	Paused          bool
}

type Transport interface {
	ID() string
	Params() TransportParams
	State() TransportState
	Connect(ctx context.Context, dtls DtlsParameters, ice *IceParameters) error
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	// OnClose fires once, whoever closed the transport.
	OnClose(func())
	// Close also closes every producer and consumer created on it.
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	OnClose(func())
	// Close fires OnProducerClose on every consumer of this producer.
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	OnProducerClose(func())
	Close()
}

type AudioLevelOptions struct {
	MaxEntries int
	// Threshold in dBov, e.g. -80.
	Threshold int
	Interval  time.Duration
}

// AudioVolume is a producer's level in dBov (0 loudest, -127 silent).
type AudioVolume struct {
	ProducerID string `json:"producerId"`
	Volume     int    `json:"volume"`
}

type AudioLevelObserver interface {
	AddProducer(ctx context.Context, producerID string) error
	RemoveProducer(ctx context.Context, producerID string) error
	// OnVolumes receives the loudest producers above threshold, loudest first.
	OnVolumes(func([]AudioVolume))
	OnSilence(func())
	Close()
}
