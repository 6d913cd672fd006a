package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/core"
)

func (ctl *SignalWSController) handlePing(
	_ context.Context,
	_ core.SessionID,
	conn *WsSignalConn,
	_ envelope,
) error {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp.Type, resp)
	return nil
}
