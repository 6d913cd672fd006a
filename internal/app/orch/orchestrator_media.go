package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func (o *Orchestrator) joinedRoom(sid core.SessionID) (app.Peer, app.Room, error) {
	peer, ok := o.Registry.Peer(sid)
	if !ok {
		return app.Peer{}, app.Room{}, core.ErrPeerNotFound
	}
	room, ok := o.Registry.Room(peer.Member.Room)
	if !ok || room.Router == nil {
		return app.Peer{}, app.Room{}, core.ErrRoomNotFound
	}
	return peer, room, nil
}

// CreateTransport returns the parameters of the peer's transport for the
// role, allocating one on the room router when none is open.
func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, receiver bool) (core.TransportParams, error) {
	peer, room, err := o.joinedRoom(sid)
	if err != nil {
		return core.TransportParams{}, fmt.Errorf("create transport: %w", err)
	}
	if e, ok := o.Registry.OpenTransport(sid, receiver); ok {
		return e.Transport.Params(), nil
	}

	t, err := room.Router.CreateWebRtcTransport(ctx)
	if err != nil {
		return core.TransportParams{}, engineError("create transport", err)
	}
	entry := &app.TransportEntry{
		ID:        t.ID(),
		SID:       sid,
		Room:      peer.Member.Room,
		Receiver:  receiver,
		Transport: t,
	}
	if err := o.Registry.AddTransport(entry); err != nil {
		t.Close()
		return core.TransportParams{}, fmt.Errorf("create transport: %w", err)
	}
	t.OnClose(func() { o.Registry.RemoveTransport(entry.ID) })

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("transport_id", entry.ID).
		Bool("receiver", receiver).
		Msg("transport created")
	return t.Params(), nil
}

// ConnectTransport connects the send transport when transportID is empty,
// otherwise the named receive transport. Only a new transport is connected.
func (o *Orchestrator) ConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	transportID string,
	dtls core.DtlsParameters,
	ice *core.IceParameters,
) error {
	var (
		e  *app.TransportEntry
		ok bool
	)
	if transportID == "" {
		e, ok = o.Registry.OpenTransport(sid, false)
	} else {
		e, ok = o.Registry.Transport(transportID)
		ok = ok && e.SID == sid && e.Receiver
	}
	if !ok {
		return fmt.Errorf("connect transport %q: %w", transportID, core.ErrTransportNotFound)
	}
	if state := e.Transport.State(); state != core.TransportNew {
		log.Debug().Str("module", "orch").Str("transport_id", e.ID).Str("state", string(state)).Msg("connect ignored")
		return nil
	}
	if err := e.Transport.Connect(ctx, dtls, ice); err != nil {
		return engineError("connect transport", err)
	}
	return nil
}

// Produce publishes a track on the peer's send transport and tells the rest
// of the room about it.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, req ProduceRequest) (ProduceResult, error) {
	if !req.Source.Valid() {
		return ProduceResult{}, fmt.Errorf("produce: %w: unknown source %q", core.ErrBadRequest, req.Source)
	}
	peer, room, err := o.joinedRoom(sid)
	if err != nil {
		return ProduceResult{}, fmt.Errorf("produce: %w", err)
	}
	te, ok := o.Registry.OpenTransport(sid, false)
	if !ok {
		return ProduceResult{}, fmt.Errorf("produce: %w", core.ErrTransportNotFound)
	}
	if req.Kind == domain.KindVideo {
		if err := o.Gateway.AuthorizeStreamToggle(ctx, req.Credential); err != nil {
			return ProduceResult{}, authError("produce", err)
		}
	}

	p, err := te.Transport.Produce(ctx, core.ProducerOptions{Kind: req.Kind, RtpParameters: req.RtpParameters})
	if err != nil {
		return ProduceResult{}, engineError("produce", err)
	}
	entry := &app.ProducerEntry{
		ID:       p.ID(),
		SID:      sid,
		Room:     peer.Member.Room,
		User:     peer.Member.User,
		Source:   req.Source,
		Producer: p,
	}
	p.OnClose(func() { o.producerGone(entry.ID) })

	targets, othersExist, err := o.Registry.AddProducer(entry, !o.Opts.NotifyAllMembers)
	if err != nil {
		p.Close()
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("producer_id", entry.ID).Msg("producer rolled back")
		return ProduceResult{}, fmt.Errorf("produce: %w", err)
	}

	o.observe(ctx, room, entry)

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(entry.Room)).
		Str("producer_id", entry.ID).
		Str("kind", string(req.Kind)).
		Str("source", string(req.Source)).
		Int("targets", len(targets)).
		Msg("producer created")

	o.notifyNewProducer(targets, entry.ID)
	o.refreshPresence(room.Tenant)

	return ProduceResult{ID: entry.ID, ProducersExist: othersExist}, nil
}

// producerGone handles a producer the engine closed on its own, e.g. when
// its transport died.
func (o *Orchestrator) producerGone(id string) {
	e, _, ok := o.Registry.RemoveProducer(id)
	if !ok {
		return
	}
	room, _ := o.Registry.Room(e.Room)
	o.unobserve(room, e)
	log.Info().Str("module", "orch").Str("sid", string(e.SID)).Str("producer_id", id).Msg("producer closed by engine")
	o.refreshPresence(room.Tenant)
}

// observe adds a speech producer to the room's observer. A teardown that
// ran meanwhile has already called unobserve, so the add is undone.
func (o *Orchestrator) observe(ctx context.Context, room app.Room, e *app.ProducerEntry) {
	if room.Observer == nil || !e.Source.TracksSpeech(e.Producer.Kind()) {
		return
	}
	if _, ok := o.Registry.Producer(e.ID); !ok {
		return
	}
	if err := room.Observer.AddProducer(ctx, e.ID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("producer_id", e.ID).Msg("observer add producer")
		return
	}
	if _, ok := o.Registry.Producer(e.ID); !ok {
		o.unobserve(room, e)
	}
}

func (o *Orchestrator) unobserve(room app.Room, e *app.ProducerEntry) {
	if room.Observer == nil || !e.Source.TracksSpeech(e.Producer.Kind()) {
		return
	}
	if err := room.Observer.RemoveProducer(context.Background(), e.ID); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("producer_id", e.ID).Msg("observer remove producer")
	}
}

// GetProducers lists producers in the caller's room owned by others.
func (o *Orchestrator) GetProducers(sid core.SessionID) ([]string, error) {
	return o.Registry.OtherProducerIDs(sid)
}

// Consume creates a paused consumer for a remote producer on the caller's
// receive transport.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, req ConsumeRequest) (ConsumeParams, error) {
	peer, room, err := o.joinedRoom(sid)
	if err != nil {
		return ConsumeParams{}, fmt.Errorf("consume: %w", err)
	}
	te, ok := o.Registry.Transport(req.TransportID)
	if !ok || te.SID != sid || !te.Receiver {
		return ConsumeParams{}, fmt.Errorf("consume: %w", core.ErrTransportNotFound)
	}
	pe, ok := o.Registry.Producer(req.ProducerID)
	if !ok {
		return ConsumeParams{}, fmt.Errorf("consume %q: %w", req.ProducerID, core.ErrProducerNotFound)
	}
	if !room.Router.CanConsume(req.ProducerID, req.RtpCapabilities) {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("producer_id", req.ProducerID).Msg("cannot consume")
		return ConsumeParams{}, fmt.Errorf("consume %q: %w", req.ProducerID, core.ErrCannotConsume)
	}

	c, err := te.Transport.Consume(ctx, core.ConsumerOptions{
		ProducerID:      req.ProducerID,
		RtpCapabilities: req.RtpCapabilities,
		Paused:          true,
	})
	if err != nil {
		return ConsumeParams{}, engineError("consume", err)
	}
	entry := &app.ConsumerEntry{
		ID:         c.ID(),
		SID:        sid,
		Room:       peer.Member.Room,
		ProducerID: req.ProducerID,
		Consumer:   c,
	}
	c.OnProducerClose(func() { o.consumerOrphaned(entry) })
	if err := o.Registry.AddConsumer(entry); err != nil {
		c.Close()
		return ConsumeParams{}, fmt.Errorf("consume: %w", err)
	}

	return ConsumeParams{
		ID:               entry.ID,
		ProducerID:       req.ProducerID,
		Kind:             c.Kind(),
		RtpParameters:    c.RtpParameters(),
		ServerConsumerID: entry.ID,
		UserName:         pe.User.Username,
		Source:           pe.Source,
	}, nil
}

// consumerOrphaned runs when the producer behind a consumer closes. The
// registry removal makes the notification happen once.
func (o *Orchestrator) consumerOrphaned(e *app.ConsumerEntry) {
	if _, ok := o.Registry.RemoveConsumer(e.ID); !ok {
		return
	}
	e.Consumer.Close()
	o.emit(e.SID, core.EventRemoteClosed, remoteClosedEvent{RemoteProducerID: e.ProducerID})
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, sid core.SessionID, consumerID string) error {
	e, ok := o.Registry.Consumer(consumerID)
	if !ok || e.SID != sid {
		return fmt.Errorf("resume %q: %w", consumerID, core.ErrConsumerNotFound)
	}
	if !e.Consumer.Paused() {
		return nil
	}
	if err := e.Consumer.Resume(ctx); err != nil {
		return engineError("resume consumer", err)
	}
	return nil
}

// StopProducer closes one of the caller's producers after the backend
// allows the stream toggle.
func (o *Orchestrator) StopProducer(ctx context.Context, sid core.SessionID, producerID, credential string) error {
	if err := o.Gateway.AuthorizeStreamToggle(ctx, credential); err != nil {
		return authError("stop producer", err)
	}
	if e, ok := o.Registry.Producer(producerID); !ok || e.SID != sid {
		return fmt.Errorf("stop producer %q: %w", producerID, core.ErrProducerNotFound)
	}
	e, members, ok := o.Registry.RemoveProducer(producerID)
	if !ok {
		return fmt.Errorf("stop producer %q: %w", producerID, core.ErrProducerNotFound)
	}
	room, _ := o.Registry.Room(e.Room)
	o.unobserve(room, e)
	e.Producer.Close()

	for _, member := range members {
		o.emit(member, core.EventProducerClosed, producerClosedEvent{ProducerID: producerID})
	}
	o.refreshPresence(room.Tenant)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("producer_id", producerID).Msg("producer stopped")
	return nil
}

func (o *Orchestrator) MuteUserByID(ctx context.Context, userID domain.UserID, credential string) (ActionResult, error) {
	return o.setUserMute(ctx, userID, credential, true)
}

func (o *Orchestrator) UnmuteUserByID(ctx context.Context, userID domain.UserID, credential string) (ActionResult, error) {
	return o.setUserMute(ctx, userID, credential, false)
}

// setUserMute pauses or resumes every audio producer of the user, across all
// of the user's connections, then records the state with the backend.
func (o *Orchestrator) setUserMute(ctx context.Context, userID domain.UserID, credential string, mute bool) (ActionResult, error) {
	if err := userID.Validate(); err != nil {
		return ActionResult{}, fmt.Errorf("mute: %w: %w", core.ErrBadRequest, err)
	}
	producers := o.Registry.ProducersOfUser(userID, domain.KindAudio)
	if len(producers) == 0 {
		return ActionResult{
			Success: false,
			Message: fmt.Sprintf("No audio producers found for user %s", userID),
		}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range producers {
		p := e.Producer
		g.Go(func() error {
			if mute {
				return p.Pause(gctx)
			}
			return p.Resume(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user_id", string(userID)).Bool("mute", mute).Msg("toggle producers")
		return ActionResult{Success: false, Message: err.Error()}, nil
	}

	if err := o.Gateway.SetMuteState(ctx, userID, credential); err != nil {
		// the media side already changed; the backend catches up on the next toggle
		log.Error().Err(err).Str("module", "orch").Str("user_id", string(userID)).Msg("set mute state")
	}

	n := len(producers)
	if mute {
		return ActionResult{
			Success:        true,
			Message:        fmt.Sprintf("User %s muted successfully.", userID),
			MutedProducers: &n,
		}, nil
	}
	return ActionResult{
		Success:          true,
		Message:          fmt.Sprintf("User %s unmuted successfully.", userID),
		MutedProducers:   &n,
		UnmutedProducers: &n,
	}, nil
}

// IsClientError tells request errors from server-side ones.
func IsClientError(err error) bool {
	for _, target := range []error{
		core.ErrBadRequest,
		core.ErrAuthorization,
		core.ErrPeerNotFound,
		core.ErrRoomNotFound,
		core.ErrTransportNotFound,
		core.ErrProducerNotFound,
		core.ErrConsumerNotFound,
		core.ErrAlreadyJoined,
		core.ErrCannotConsume,
		core.ErrPeerClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
