package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type mutePayload struct {
	UserID      string `json:"userId"`
	Credential  string `json:"credential"`
	AccessToken string `json:"accessToken"`
}

func (ctl *SignalWSController) handleMuteUser(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	return ctl.moderate(ctx, sid, conn, env, ctl.Orch.MuteUserByID)
}

func (ctl *SignalWSController) handleUnmuteUser(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	return ctl.moderate(ctx, sid, conn, env, ctl.Orch.UnmuteUserByID)
}

func (ctl *SignalWSController) moderate(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
	action func(context.Context, domain.UserID, string) (orch.ActionResult, error),
) error {
	var p mutePayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	res, err := action(ctx, domain.UserID(p.UserID), pick(p.Credential, p.AccessToken))
	if err != nil {
		return err
	}
	log.Info().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("type", env.Type).
		Str("target", p.UserID).
		Bool("success", res.Success).
		Msg("moderation")
	ctl.reply(conn, env, res)
	return nil
}
