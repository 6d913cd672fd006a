package signal

import (
	"context"
	"errors"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type createTransportPayload struct {
	Consumer bool `json:"consumer"`
}

func (ctl *SignalWSController) handleCreateTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p createTransportPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	params, err := ctl.Orch.CreateTransport(ctx, sid, p.Consumer)
	if err != nil {
		return err
	}
	ctl.reply(conn, env, map[string]any{"params": params})
	return nil
}

type connectPayload struct {
	DtlsParameters            core.DtlsParameters `json:"dtlsParameters"`
	IceParameters             *core.IceParameters `json:"iceParameters,omitempty"`
	ServerConsumerTransportID string              `json:"serverConsumerTransportId"`
}

func (ctl *SignalWSController) handleTransportConnect(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p connectPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	if err := ctl.Orch.ConnectTransport(ctx, sid, "", p.DtlsParameters, p.IceParameters); err != nil {
		return err
	}
	ctl.ackIfAsked(conn, env)
	return nil
}

func (ctl *SignalWSController) handleTransportRecvConnect(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p connectPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	if p.ServerConsumerTransportID == "" {
		return core.ErrBadRequest
	}
	if err := ctl.Orch.ConnectTransport(ctx, sid, p.ServerConsumerTransportID, p.DtlsParameters, p.IceParameters); err != nil {
		return err
	}
	ctl.ackIfAsked(conn, env)
	return nil
}

type producePayload struct {
	Kind          string             `json:"kind"`
	RtpParameters core.RtpParameters `json:"rtpParameters"`
	AppData       struct {
		Source string `json:"source"`
	} `json:"appData"`
	Credential  string `json:"credential"`
	AccessToken string `json:"accessToken"`
}

func (ctl *SignalWSController) handleProduce(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p producePayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	kind, err := domain.ParseMediaKind(p.Kind)
	if err != nil {
		return err
	}
	res, err := ctl.Orch.Produce(ctx, sid, orch.ProduceRequest{
		Kind:          kind,
		RtpParameters: p.RtpParameters,
		Source:        domain.Source(p.AppData.Source),
		Credential:    pick(p.Credential, p.AccessToken),
	})
	if err != nil {
		return err
	}
	ctl.reply(conn, env, res)
	return nil
}

func (ctl *SignalWSController) handleGetProducers(
	_ context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	ids, err := ctl.Orch.GetProducers(sid)
	if err != nil {
		return err
	}
	ctl.reply(conn, env, ids)
	return nil
}

type consumePayload struct {
	RtpCapabilities           core.RtpCapabilities `json:"rtpCapabilities"`
	RemoteProducerID          string               `json:"remoteProducerId"`
	ServerConsumerTransportID string               `json:"serverConsumerTransportId"`
}

func (ctl *SignalWSController) handleConsume(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p consumePayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	params, err := ctl.Orch.Consume(ctx, sid, orch.ConsumeRequest{
		ProducerID:      p.RemoteProducerID,
		RtpCapabilities: p.RtpCapabilities,
		TransportID:     p.ServerConsumerTransportID,
	})
	if err != nil {
		// Clients read consume failures from params.error.
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("producer_id", p.RemoteProducerID).Msg("consume failed")
		msg := err.Error()
		if errors.Is(err, core.ErrCannotConsume) {
			msg = core.ErrCannotConsume.Error()
		}
		ctl.reply(conn, env, map[string]any{"params": errorBody{Error: msg}})
		return nil
	}
	ctl.reply(conn, env, map[string]any{"params": params})
	return nil
}

type resumePayload struct {
	ServerConsumerID string `json:"serverConsumerId"`
}

func (ctl *SignalWSController) handleConsumerResume(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p resumePayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	if err := ctl.Orch.ResumeConsumer(ctx, sid, p.ServerConsumerID); err != nil {
		return err
	}
	ctl.ackIfAsked(conn, env)
	return nil
}

type stopProducerPayload struct {
	ProducerID  string `json:"producerId"`
	Credential  string `json:"credential"`
	AccessToken string `json:"accessToken"`
}

func (ctl *SignalWSController) handleStopProducer(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) error {
	var p stopProducerPayload
	if err := decodeData(env, &p); err != nil {
		return err
	}
	if err := ctl.Orch.StopProducer(ctx, sid, p.ProducerID, pick(p.Credential, p.AccessToken)); err != nil {
		return err
	}
	ctl.ackIfAsked(conn, env)
	return nil
}

func (ctl *SignalWSController) ackIfAsked(conn *WsSignalConn, env envelope) {
	if len(env.ID) > 0 {
		ctl.reply(conn, env, struct{}{})
	}
}
