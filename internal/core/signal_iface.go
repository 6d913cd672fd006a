package core

import "encoding/json"

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Event is a server-initiated message pushed to a connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func EncodeEvent(typ string, data any) (Frame, error) {
	return json.Marshal(Event{Type: typ, Data: data})
}

// Server event names.
const (
	EventConnectionSuccess = "connection-success"
	EventNewProducer       = "new-producer"
	EventProducerClosed    = "producerClosed"
	EventRemoteClosed      = "producer-closed"
	EventActiveSpeakers    = "active-speakers"
	EventUsersList         = "updateUsersList"
	EventKickedUser        = "kickedUser"
	EventLeaveConfirmed    = "leaveConfirmed"
	EventError             = "error"
)
