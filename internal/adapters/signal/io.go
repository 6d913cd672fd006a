package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// envelope is a client request. ID is echoed in the ack when present.
type envelope struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ackMessage struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data any             `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

type handlerFunc func(ctx context.Context, sid core.SessionID, conn *WsSignalConn, env envelope) error

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping":                   ctl.handlePing,
		"setServer":              ctl.handleSetServer,
		"joinRoom":               ctl.handleJoinRoom,
		"leaveRoom":              ctl.handleLeaveRoom,
		"kickUser":               ctl.handleKickUser,
		"createWebRtcTransport":  ctl.handleCreateTransport,
		"transport-connect":      ctl.handleTransportConnect,
		"transport-recv-connect": ctl.handleTransportRecvConnect,
		"transport-produce":      ctl.handleProduce,
		"getProducers":           ctl.handleGetProducers,
		"consume":                ctl.handleConsume,
		"consumer-resume":        ctl.handleConsumerResume,
		"stopProducer":           ctl.handleStopProducer,
		"muteUserById":           ctl.handleMuteUser,
		"unmuteUserById":         ctl.handleUnmuteUser,
	}
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()
	var ping <-chan time.Time
	if ctl.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ping:
			deadline := time.Now().Add(ctl.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			ctl.flush(c)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := ctl.write(c, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// flush writes what is already queued without waiting for more.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok || ctl.write(c, data) != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump owns the connection lifetime: when reading stops, the session is
// torn down right away, even if a request is still being handled.
func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	sid core.SessionID,
	c *WsSignalConn,
	inbox chan<- []byte,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		close(inbox)
		cancel()
		ctl.Orch.Disconnect(sid)
		if ctl.limiter != nil {
			ctl.limiter.Forget(sid)
		}
		ctl.Metrics.ConnectionClosed()
		c.Close()
	}()

	if ctl.cfg.PingPeriod > 0 {
		pongWait := ctl.cfg.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if ctl.limiter != nil && !ctl.limiter.Allow(sid) {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limited")
			ctl.sendEvent(c, core.EventError, errorBody{Error: "rate_limited"})
			continue
		}
		select {
		case inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handlePump runs the requests of one connection in arrival order.
func (ctl *SignalWSController) handlePump(ctx context.Context, sid core.SessionID, c *WsSignalConn, inbox <-chan []byte) {
	for data := range inbox {
		if ctx.Err() != nil {
			continue
		}
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendEvent(c, core.EventError, errorBody{Error: "bad_payload"})
		return
	}

	h, ok := ctl.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.replyError(c, env, fmt.Errorf("unknown request %q", env.Type))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, ctl.cfg.RequestTimeout)
	defer cancel()

	err := ctl.safeCall(reqCtx, h, sid, c, env)
	ctl.Metrics.RecordSignal(env.Type, err)
	if err != nil {
		ev := log.Error()
		if orch.IsClientError(err) {
			ev = log.Warn()
		}
		ev.Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("request failed")
		ctl.replyError(c, env, err)
	}
}

func (ctl *SignalWSController) safeCall(
	ctx context.Context,
	h handlerFunc,
	sid core.SessionID,
	c *WsSignalConn,
	env envelope,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("module", "signal").
				Str("sid", string(sid)).
				Str("type", env.Type).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			err = fmt.Errorf("internal error")
		}
	}()
	return h(ctx, sid, c, env)
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	return nil
}

// sendJSON queues v; a full queue goes through the same backpressure policy
// as orchestrator events.
func (ctl *SignalWSController) sendJSON(c *WsSignalConn, typ string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); errors.Is(err, core.ErrBackpressure) {
		ctl.Orch.Backpressure(c.sid, typ)
	}
}

func (ctl *SignalWSController) sendEvent(c *WsSignalConn, typ string, data any) {
	ctl.sendJSON(c, typ, core.Event{Type: typ, Data: data})
}

func (ctl *SignalWSController) reply(c *WsSignalConn, env envelope, data any) {
	ctl.sendJSON(c, "ack", ackMessage{Type: "ack", ID: env.ID, Data: data})
}

// replyError answers a request that carries an id with an error ack, and
// falls back to an error event otherwise.
func (ctl *SignalWSController) replyError(c *WsSignalConn, env envelope, err error) {
	if len(env.ID) == 0 {
		ctl.sendEvent(c, core.EventError, errorBody{Error: err.Error()})
		return
	}
	ctl.reply(c, env, errorBody{Error: err.Error()})
}

// pick returns the first non-empty value; clients use both field spellings.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
