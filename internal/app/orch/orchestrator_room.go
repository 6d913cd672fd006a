package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

// SetServer moves the connection's presence to tenant and refreshes every
// tenant that saw the change.
func (o *Orchestrator) SetServer(sid core.SessionID, tenant domain.TenantID, userName, userID string) error {
	user, err := domain.NewUser(userID, userName)
	if err != nil {
		return fmt.Errorf("set server: %w: %w", core.ErrBadRequest, err)
	}
	touched, err := o.Registry.SetServer(sid, tenant, user)
	if err != nil {
		return fmt.Errorf("set server: %w", err)
	}
	o.refreshPresence(touched...)
	return nil
}

// JoinRoom authorizes the join with the backend, then puts the connection
// into the room. Joining the same room again returns the earlier answer.
// The caller sends the result and then calls Ready.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.SessionID, req JoinRequest) (JoinResult, error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("room", string(req.Room)).Logger()

	if req.Room == "" {
		return JoinResult{}, fmt.Errorf("join: %w: empty room name", core.ErrBadRequest)
	}
	if peer, ok := o.Registry.Peer(sid); ok {
		if peer.Member.Room != req.Room {
			return JoinResult{}, fmt.Errorf("join %q: %w", req.Room, core.ErrAlreadyJoined)
		}
		room, ok := o.Registry.Room(peer.Member.Room)
		if !ok || room.Router == nil {
			return JoinResult{}, fmt.Errorf("join %q: %w", req.Room, core.ErrRoomNotFound)
		}
		logger.Debug().Msg("duplicate join absorbed")
		return JoinResult{RtpCapabilities: room.Router.RtpCapabilities(), MuteStatus: peer.Member.MuteStatus}, nil
	}

	user, err := domain.NewUser(req.UserID, req.UserName)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join: %w: %w", core.ErrBadRequest, err)
	}

	grant, err := o.Gateway.AuthorizeJoin(ctx, string(req.Room), req.Credential)
	if err != nil {
		logger.Warn().Err(err).Msg("join not authorized")
		return JoinResult{}, authError("join", err)
	}

	room, err := o.Rooms.GetOrCreateRoom(ctx, req.Room, req.Tenant, sid)
	if err != nil {
		return JoinResult{}, err
	}

	member := domain.NewMember(user, req.Tenant, req.Room)
	member.MuteStatus = grant.MuteStatus
	presenceTenant, err := o.Registry.AttachPeer(sid, *member)
	if err != nil {
		o.Rooms.Leave(req.Room, sid)
		logger.Warn().Err(err).Msg("attach peer")
		return JoinResult{}, fmt.Errorf("join %q: %w", req.Room, err)
	}

	logger.Info().Str("tenant", string(req.Tenant)).Str("user_id", string(user.ID)).Msg("joined room")
	o.refreshPresence(presenceTenant, room.Tenant)

	return JoinResult{RtpCapabilities: room.Router.RtpCapabilities(), MuteStatus: grant.MuteStatus}, nil
}

// Ready makes a joined peer a fan-out target and replays the producers that
// were published before it arrived.
func (o *Orchestrator) Ready(sid core.SessionID) {
	replay, err := o.Registry.MarkReady(sid)
	if err != nil {
		return
	}
	if !o.Opts.ReplayOnJoin {
		return
	}
	for _, p := range replay {
		o.emit(sid, core.EventNewProducer, newProducerEvent{ProducerID: p.ID})
	}
}

// KickUser asks the target connection's client to leave.
func (o *Orchestrator) KickUser(sid, target core.SessionID) ActionResult {
	if _, ok := o.Registry.Signal(target); !ok {
		return ActionResult{Success: false, Message: "User not found."}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("target", string(target)).Msg("kick user")
	o.emit(target, core.EventKickedUser, nil)
	return ActionResult{Success: true, Message: "User kicked successfully."}
}

// LeaveRoom tears the peer down after the backend agrees. voiceChannelID
// defaults to the room name.
func (o *Orchestrator) LeaveRoom(ctx context.Context, sid core.SessionID, credential, voiceChannelID string) error {
	peer, ok := o.Registry.Peer(sid)
	if !ok {
		return fmt.Errorf("leave: %w", core.ErrPeerNotFound)
	}
	if voiceChannelID == "" {
		voiceChannelID = string(peer.Member.Room)
	}
	if err := o.Gateway.AuthorizeLeave(ctx, voiceChannelID, credential); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("leave not authorized")
		return authError("leave", err)
	}

	td := o.Registry.Detach(sid, false)
	o.release(td)
	o.refreshAfterTeardown(td)
	o.emit(sid, core.EventLeaveConfirmed, nil)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(peer.Member.Room)).Msg("left room")
	return nil
}

// Disconnect is the terminal transition; it needs no authorization and may
// run while another request of the same connection is in flight.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Registry.Unbind(sid)
	td := o.Registry.Detach(sid, true)
	o.release(td)
	o.refreshAfterTeardown(td)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Bool("joined", td.Joined).Msg("disconnected")
}

// release closes engine handles of a detached peer. Consumers go first so
// their own producer-close hooks find nothing left to do.
func (o *Orchestrator) release(td app.Teardown) {
	if !td.Joined {
		return
	}
	for _, c := range td.Consumers {
		c.Consumer.Close()
	}
	room, _ := o.Registry.Room(td.Peer.Member.Room)
	for _, p := range td.Producers {
		o.unobserve(room, p)
		p.Producer.Close()
	}
	for _, t := range td.Transports {
		t.Transport.Close()
	}
}

func (o *Orchestrator) refreshAfterTeardown(td app.Teardown) {
	tenants := td.Tenants
	if td.Joined {
		if room, ok := o.Registry.Room(td.Peer.Member.Room); ok {
			tenants = append(tenants, room.Tenant)
		}
	}
	o.refreshPresence(tenants...)
}

type ResetResult struct {
	Rooms      int `json:"rooms"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
	Transports int `json:"transports"`
}

// Reset drops all state and closes every engine entity.
func (o *Orchestrator) Reset() ResetResult {
	res := o.Registry.Reset()
	for _, c := range res.Consumers {
		c.Consumer.Close()
	}
	for _, p := range res.Producers {
		p.Producer.Close()
	}
	for _, t := range res.Transports {
		t.Transport.Close()
	}
	for _, r := range res.Rooms {
		if r.Observer != nil {
			r.Observer.Close()
		}
		if r.Router != nil {
			r.Router.Close()
		}
	}
	return ResetResult{
		Rooms:      len(res.Rooms),
		Producers:  len(res.Producers),
		Consumers:  len(res.Consumers),
		Transports: len(res.Transports),
	}
}
