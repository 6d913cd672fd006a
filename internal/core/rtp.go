package core

import "strings"

// The types below follow the JSON shape browsers' mediasoup-client produces
// and expects, so they travel over signaling untouched.

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 string         `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        string `json:"kind,omitempty"`
	URI         string `json:"uri"`
	PreferredID int    `json:"preferredId"`
	Direction   string `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI     string `json:"uri"`
	ID      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc       uint32 `json:"ssrc,omitempty"`
	Rid        string `json:"rid,omitempty"`
	MaxBitrate int    `json:"maxBitrate,omitempty"`
	Dtx        bool   `json:"dtx,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters                `json:"rtcp,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportParams is what a client needs to build its side of a transport.
type TransportParams struct {
	ID             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// Match returns the capability that can carry the given codec, if any.
// Mime types compare case-insensitively; audio channel counts must agree.
func (c RtpCapabilities) Match(codec RtpCodecParameters) (RtpCodecCapability, bool) {
	for _, cc := range c.Codecs {
		if !strings.EqualFold(cc.MimeType, codec.MimeType) {
			continue
		}
		if cc.ClockRate != codec.ClockRate {
			continue
		}
		if cc.Channels != 0 && codec.Channels != 0 && cc.Channels != codec.Channels {
			continue
		}
		return cc, true
	}
	return RtpCodecCapability{}, false
}

// PrimaryCodec is the first non-RTX codec of the parameters.
func (p RtpParameters) PrimaryCodec() (RtpCodecParameters, bool) {
	for _, c := range p.Codecs {
		if strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx") {
			continue
		}
		return c, true
	}
	return RtpCodecParameters{}, false
}

// CanConsume reports whether a consumer with caps can receive a producer
// sending with params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	codec, ok := params.PrimaryCodec()
	if !ok {
		return false
	}
	_, ok = caps.Match(codec)
	return ok
}
