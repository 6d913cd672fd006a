package app

import "github.com/dkeye/voicehub/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose outbound queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, event string) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID, string) BackpressureAction {
	return KickMember
}

// LenientPolicy only drops the event; used when clients are known to resync.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.SessionID, string) BackpressureAction {
	return DropFrame
}
