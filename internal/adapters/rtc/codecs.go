package rtc

import (
	"strings"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/pion/webrtc/v4"
)

// AudioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

const audioLevelID = 1

type codec struct {
	kind        domain.MediaKind
	mimeType    string
	payloadType uint8
	clockRate   uint32
	channels    uint16
	fmtp        string
	params      map[string]any
	feedback    []core.RtcpFeedback
}

var videoFeedback = []core.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

var supportedCodecs = []codec{
	{
		kind:        domain.KindAudio,
		mimeType:    webrtc.MimeTypeOpus,
		payloadType: 111,
		clockRate:   48000,
		channels:    2,
		fmtp:        "minptime=10;useinbandfec=1",
		params:      map[string]any{"minptime": 10, "useinbandfec": 1},
	},
	{
		kind:        domain.KindVideo,
		mimeType:    webrtc.MimeTypeVP8,
		payloadType: 96,
		clockRate:   90000,
		feedback:    videoFeedback,
	},
	{
		kind:        domain.KindVideo,
		mimeType:    webrtc.MimeTypeH264,
		payloadType: 102,
		clockRate:   90000,
		fmtp:        "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		params: map[string]any{
			"level-asymmetry-allowed": 1,
			"packetization-mode":      1,
			"profile-level-id":        "42e01f",
		},
		feedback: videoFeedback,
	},
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func (c codec) capability() webrtc.RTPCodecCapability {
	fb := make([]webrtc.RTCPFeedback, 0, len(c.feedback))
	for _, f := range c.feedback {
		fb = append(fb, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.mimeType,
		ClockRate:    c.clockRate,
		Channels:     c.channels,
		SDPFmtpLine:  c.fmtp,
		RTCPFeedback: fb,
	}
}

// registerCodecs fills a pion media engine with the codecs routers offer.
func registerCodecs(m *webrtc.MediaEngine) error {
	for _, c := range supportedCodecs {
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: c.capability(),
			PayloadType:        webrtc.PayloadType(c.payloadType),
		}, codecType(c.kind))
		if err != nil {
			return err
		}
	}
	return m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: AudioLevelURI}, webrtc.RTPCodecTypeAudio)
}

// capabilities is what every router advertises to clients.
func capabilities() core.RtpCapabilities {
	caps := core.RtpCapabilities{
		HeaderExtensions: []core.RtpHeaderExtension{{
			Kind:        string(domain.KindAudio),
			URI:         AudioLevelURI,
			PreferredID: audioLevelID,
			Direction:   "sendrecv",
		}},
	}
	for _, c := range supportedCodecs {
		caps.Codecs = append(caps.Codecs, core.RtpCodecCapability{
			Kind:                 string(c.kind),
			MimeType:             c.mimeType,
			PreferredPayloadType: c.payloadType,
			ClockRate:            c.clockRate,
			Channels:             c.channels,
			Parameters:           c.params,
			RtcpFeedback:         c.feedback,
		})
	}
	return caps
}

// lookupCodec finds the supported codec carrying params' primary codec.
func lookupCodec(kind domain.MediaKind, params core.RtpParameters) (codec, bool) {
	primary, ok := params.PrimaryCodec()
	if !ok {
		return codec{}, false
	}
	for _, c := range supportedCodecs {
		if c.kind != kind || !strings.EqualFold(c.mimeType, primary.MimeType) || c.clockRate != primary.ClockRate {
			continue
		}
		return c, true
	}
	return codec{}, false
}

// headerExtensionID returns the id the client negotiated for uri, or 0.
func headerExtensionID(params core.RtpParameters, uri string) uint8 {
	for _, ext := range params.HeaderExtensions {
		if ext.URI == uri && ext.ID > 0 && ext.ID < 256 {
			return uint8(ext.ID)
		}
	}
	return 0
}
