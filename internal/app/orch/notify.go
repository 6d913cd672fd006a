package orch

import (
	"errors"
	"slices"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type newProducerEvent struct {
	ProducerID string `json:"producerId"`
}

type producerClosedEvent struct {
	ProducerID string `json:"producerId"`
}

type remoteClosedEvent struct {
	RemoteProducerID string `json:"remoteProducerId"`
}

type activeSpeakersEvent struct {
	ActiveSpeakers []core.AudioVolume `json:"activeSpeakers"`
}

type usersListEvent struct {
	Rooms []domain.RoomUsers `json:"rooms"`
}

func (o *Orchestrator) notifyNewProducer(targets []core.SessionID, producerID string) {
	for _, sid := range targets {
		o.emit(sid, core.EventNewProducer, newProducerEvent{ProducerID: producerID})
	}
}

// refreshPresence sends each distinct tenant's full users list to every
// connection in its presence entry.
func (o *Orchestrator) refreshPresence(tenants ...domain.TenantID) {
	seen := make([]domain.TenantID, 0, len(tenants))
	for _, t := range tenants {
		if slices.Contains(seen, t) {
			continue
		}
		seen = append(seen, t)
		recipients, rooms := o.Registry.PresenceSnapshot(t)
		if len(recipients) == 0 {
			continue
		}
		frame, err := core.EncodeEvent(core.EventUsersList, usersListEvent{Rooms: rooms})
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("encode users list")
			continue
		}
		for _, sid := range recipients {
			o.send(sid, core.EventUsersList, frame)
		}
	}
}

// OnVolumes is called by the room's audio level observer.
func (o *Orchestrator) OnVolumes(room domain.RoomName, volumes []core.AudioVolume) {
	o.broadcastRoom(room, core.EventActiveSpeakers, activeSpeakersEvent{ActiveSpeakers: volumes})
}

func (o *Orchestrator) OnSilence(room domain.RoomName) {
	o.broadcastRoom(room, core.EventActiveSpeakers, activeSpeakersEvent{ActiveSpeakers: []core.AudioVolume{}})
}

func (o *Orchestrator) broadcastRoom(room domain.RoomName, typ string, data any) {
	members := o.Registry.RoomMembers(room)
	if len(members) == 0 {
		return
	}
	frame, err := core.EncodeEvent(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", typ).Msg("encode event")
		return
	}
	for _, sid := range members {
		o.send(sid, typ, frame)
	}
}

func (o *Orchestrator) emit(sid core.SessionID, typ string, data any) {
	frame, err := core.EncodeEvent(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", typ).Msg("encode event")
		return
	}
	o.send(sid, typ, frame)
}

// send enqueues without blocking; a full queue goes to the policy.
func (o *Orchestrator) send(sid core.SessionID, typ string, frame core.Frame) {
	conn, ok := o.Registry.Signal(sid)
	if !ok {
		return
	}
	if err := conn.TrySend(frame); errors.Is(err, core.ErrBackpressure) {
		o.Backpressure(sid, typ)
	}
}

// Backpressure applies the policy to a connection whose outbound queue
// rejected a frame of type typ.
func (o *Orchestrator) Backpressure(sid core.SessionID, typ string) {
	action := app.KickMember
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(sid, typ)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("event", typ).Msg("outbound queue full, kicking")
		o.Metrics.RecordBackpressure("kick")
		o.Registry.Cancel(sid)
	case app.MarkSlow, app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("event", typ).Msg("outbound queue full, dropped")
		o.Metrics.RecordBackpressure("drop")
	}
}
