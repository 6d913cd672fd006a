package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketSink receives forwarded packets. *webrtc.TrackLocalStaticRTP is one.
type PacketSink interface {
	WriteRTP(pkt *rtp.Packet) error
}

// OutTrack is a single consumer of a relay.
type OutTrack struct {
	Sink  PacketSink
	state atomic.Int32
}

// NewOutTrack starts muted; consumers are created paused.
func NewOutTrack(sink PacketSink, muted bool) *OutTrack {
	ot := &OutTrack{Sink: sink}
	if muted {
		ot.MarkMuted()
	}
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

// MarkDelete is final.
func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
