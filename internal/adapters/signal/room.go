package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type setServerPayload struct {
	TenantID string `json:"tenantId"`
	ServerID string `json:"serverId"`
	UserName string `json:"userName"`
	UserID   string `json:"userId"`
}

func (ctl *SignalWSController) handleSetServer(
	_ context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p setServerPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	tenant := domain.TenantID(pick(p.TenantID, p.ServerID))
	if err := ctl.Orch.SetServer(sid, tenant, p.UserName, p.UserID); err != nil {
		return err
	}
	if len(env.ID) > 0 {
		ctl.reply(conn, env, struct{}{})
	}
	return nil
}

type joinPayload struct {
	RoomName    string `json:"roomName"`
	UserName    string `json:"userName"`
	UserID      string `json:"userId"`
	TenantID    string `json:"tenantId"`
	ServerID    string `json:"serverId"`
	Credential  string `json:"credential"`
	AccessToken string `json:"accessToken"`
}

func (ctl *SignalWSController) handleJoinRoom(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p joinPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomName).Msg("join")

	res, err := ctl.Orch.JoinRoom(ctx, sid, orch.JoinRequest{
		Room:       domain.RoomName(p.RoomName),
		UserName:   p.UserName,
		UserID:     p.UserID,
		Tenant:     domain.TenantID(pick(p.TenantID, p.ServerID)),
		Credential: pick(p.Credential, p.AccessToken),
	})
	if err != nil {
		return err
	}
	ctl.reply(conn, env, res)
	// Replayed new-producer events must follow the join response.
	ctl.Orch.Ready(sid)
	return nil
}

type leavePayload struct {
	Credential     string `json:"credential"`
	AccessToken    string `json:"accessToken"`
	VoiceChannelID string `json:"voiceChannelId"`
}

func (ctl *SignalWSController) handleLeaveRoom(
	ctx context.Context,
	sid core.SessionID,
	_ *WsSignalConn,
	env envelope,
) error {
	var p leavePayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	return ctl.Orch.LeaveRoom(ctx, sid, pick(p.Credential, p.AccessToken), p.VoiceChannelID)
}

type kickPayload struct {
	TargetSocketID string `json:"targetSocketId"`
}

func (ctl *SignalWSController) handleKickUser(
	_ context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p kickPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	ctl.reply(conn, env, ctl.Orch.KickUser(sid, core.SessionID(p.TargetSocketID)))
	return nil
}
