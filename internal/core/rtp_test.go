package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func opusCaps() RtpCapabilities {
	return RtpCapabilities{Codecs: []RtpCodecCapability{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func TestCanConsume(t *testing.T) {
	opus := RtpParameters{Codecs: []RtpCodecParameters{{MimeType: "audio/OPUS", PayloadType: 111, ClockRate: 48000, Channels: 2}}}
	require.True(t, CanConsume(opus, opusCaps()))

	h264 := RtpParameters{Codecs: []RtpCodecParameters{{MimeType: "video/H264", PayloadType: 102, ClockRate: 90000}}}
	require.False(t, CanConsume(h264, opusCaps()))

	require.False(t, CanConsume(RtpParameters{}, opusCaps()))
}

func TestPrimaryCodecSkipsRtx(t *testing.T) {
	p := RtpParameters{Codecs: []RtpCodecParameters{
		{MimeType: "video/rtx", PayloadType: 97, ClockRate: 90000},
		{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
	}}
	c, ok := p.PrimaryCodec()
	require.True(t, ok)
	require.Equal(t, "video/VP8", c.MimeType)
}

func TestEncodeEvent(t *testing.T) {
	f, err := EncodeEvent(EventNewProducer, map[string]string{"producerId": "p1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"new-producer","data":{"producerId":"p1"}}`, string(f))

	f, err = EncodeEvent(EventKickedUser, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"kickedUser"}`, string(f))
}
