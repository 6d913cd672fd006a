package orch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/testutil/fakemedia"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCreateReceiveTransportIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")

	first, err := h.o.CreateTransport(context.Background(), "a", true)
	require.NoError(t, err)
	second, err := h.o.CreateTransport(context.Background(), "a", true)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	send, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, send.ID)
	again, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	require.Equal(t, send.ID, again.ID)

	require.Equal(t, 2, h.reg.Stats().Transports)
}

func TestCreateTransportRequiresJoin(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.connect("a")
	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.ErrorIs(t, err, core.ErrPeerNotFound)
}

func TestCreateTransportEngineFailure(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.engine.FailTransport = errors.New("no ports")

	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.ErrorIs(t, err, core.ErrRoutingEngine)
	require.Zero(t, h.reg.Stats().Transports)
}

func TestConnectTransportOnlyOnce(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	send, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)
	recv, err := h.o.CreateTransport(context.Background(), "a", true)
	require.NoError(t, err)

	dtls := core.DtlsParameters{Role: "client"}
	require.NoError(t, h.o.ConnectTransport(context.Background(), "a", "", dtls, nil))
	require.NoError(t, h.o.ConnectTransport(context.Background(), "a", "", dtls, nil))
	require.NoError(t, h.o.ConnectTransport(context.Background(), "a", recv.ID, dtls, nil))

	router := h.engine.Routers()[0]
	for _, tr := range router.Transports() {
		require.Equal(t, 1, tr.Connects(), tr.ID())
	}

	// a send transport id is not a receive transport
	err = h.o.ConnectTransport(context.Background(), "a", send.ID, dtls, nil)
	require.ErrorIs(t, err, core.ErrTransportNotFound)
}

func TestNewProducerReachesEveryOtherMemberOnce(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	h.join("c", "general", "t1", "u3")
	h.join("x", "elsewhere", "t1", "u4")

	pid := h.produce("a", domain.KindVideo, domain.SourceCamera)

	require.Zero(t, h.conns["a"].count(core.EventNewProducer))
	require.Zero(t, h.conns["x"].count(core.EventNewProducer))
	for _, sid := range []core.SessionID{"b", "c"} {
		events := h.conns[sid].ofType(core.EventNewProducer)
		require.Len(t, events, 1, sid)
		require.Equal(t, pid, decode[newProducerEvent](t, events[0]).ProducerID)
	}
}

func TestNewProducerHoldersOnly(t *testing.T) {
	opts := DefaultOptions()
	opts.NotifyAllMembers = false
	h := newHarness(t, opts).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	h.join("c", "general", "t1", "u3")
	h.produce("b", domain.KindAudio, domain.SourceMicrophone)

	h.produce("a", domain.KindAudio, domain.SourceMicrophone)
	// c publishes nothing and only saw nothing; b was told about a
	require.Zero(t, h.conns["c"].count(core.EventNewProducer))
	require.Equal(t, 1, h.conns["b"].count(core.EventNewProducer))
}

func TestProduceResult(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)

	res, err := h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters(), Source: domain.SourceMicrophone})
	require.NoError(t, err)
	require.False(t, res.ProducersExist)

	res, err = h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters(), Source: domain.SourceScreenAudio})
	require.NoError(t, err)
	require.True(t, res.ProducersExist)

	obs := h.engine.Routers()[0].Observer()
	ids, err := h.o.GetProducers("a")
	require.NoError(t, err)
	require.Empty(t, ids)

	h.join("b", "general", "t1", "u2")
	ids, err = h.o.GetProducers("b")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.True(t, obs.Has(ids[0]))
	require.False(t, obs.Has(ids[1]), "screen audio is not observed")
}

func TestProduceRequiresSendTransport(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	_, err := h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters()})
	require.ErrorIs(t, err, core.ErrTransportNotFound)

	_, err = h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, Source: "hologram"})
	require.ErrorIs(t, err, core.ErrBadRequest)
}

func TestVideoProduceNeedsStreamToggle(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.gw.EXPECT().AuthorizeJoin(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.JoinGrant{}, nil)
	h.gw.EXPECT().AuthorizeStreamToggle(gomock.Any(), "bad").Return(core.ErrAuthorization)
	h.join("a", "general", "t1", "u1")
	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)

	_, err = h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindVideo, RtpParameters: fakemedia.VP8Parameters(), Credential: "bad"})
	require.ErrorIs(t, err, core.ErrAuthorization)
	require.Zero(t, h.reg.Stats().Producers)
}

func TestDisconnectDuringProduceLeavesNoProducer(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	h.engine.ProduceHook = func(context.Context) {
		close(started)
		<-release
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters()})
		errCh <- err
	}()

	<-started
	h.o.Disconnect("a")
	close(release)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, core.ErrPeerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("produce did not return")
	}
	require.Zero(t, h.reg.Stats().Producers)
	ids, err := h.o.GetProducers("b")
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Zero(t, h.conns["b"].count(core.EventNewProducer))
}

func TestDisconnectBeforeObserverAddLeavesProducerUnobserved(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	_, err := h.o.CreateTransport(context.Background(), "a", false)
	require.NoError(t, err)

	obs := h.engine.Routers()[0].Observer()
	obs.AddHook = func(string) { h.o.Disconnect("a") }

	res, err := h.o.Produce(context.Background(), "a", ProduceRequest{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters(), Source: domain.SourceMicrophone})
	require.NoError(t, err)
	require.False(t, obs.Has(res.ID))
	require.Zero(t, h.reg.Stats().Producers)
}

func TestConsume(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)

	params := h.consume("b", pid)
	require.Equal(t, pid, params.ProducerID)
	require.Equal(t, params.ID, params.ServerConsumerID)
	require.Equal(t, domain.KindAudio, params.Kind)
	require.Equal(t, "name-a", params.UserName)
	require.Equal(t, domain.SourceMicrophone, params.Source)

	e, ok := h.reg.Consumer(params.ID)
	require.True(t, ok)
	require.True(t, e.Consumer.Paused())

	require.NoError(t, h.o.ResumeConsumer(context.Background(), "b", params.ID))
	require.False(t, e.Consumer.Paused())
	require.NoError(t, h.o.ResumeConsumer(context.Background(), "b", params.ID))
	require.Equal(t, 1, e.Consumer.(*fakemedia.Consumer).ResumeCalls())

	err := h.o.ResumeConsumer(context.Background(), "a", params.ID)
	require.ErrorIs(t, err, core.ErrConsumerNotFound)
}

func TestConsumeIncompatibleCapabilities(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)
	tp, err := h.o.CreateTransport(context.Background(), "b", true)
	require.NoError(t, err)

	_, err = h.o.Consume(context.Background(), "b", ConsumeRequest{
		ProducerID:      pid,
		RtpCapabilities: core.RtpCapabilities{Codecs: []core.RtpCodecCapability{{Kind: "audio", MimeType: "audio/PCMU", ClockRate: 8000}}},
		TransportID:     tp.ID,
	})
	require.ErrorIs(t, err, core.ErrCannotConsume)
	require.Zero(t, h.reg.Stats().Consumers)

	_, err = h.o.Consume(context.Background(), "b", ConsumeRequest{ProducerID: "nope", TransportID: tp.ID})
	require.ErrorIs(t, err, core.ErrProducerNotFound)
}

func TestStopProducerNotifiesEachConsumerOnce(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	consumers := []core.SessionID{"b", "c", "d"}
	for i, sid := range consumers {
		h.join(sid, "general", "t1", "u"+string(rune('2'+i)))
	}
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)
	for _, sid := range consumers {
		h.consume(sid, pid)
	}
	require.Len(t, h.reg.ConsumersOf(pid), 3)

	require.NoError(t, h.o.StopProducer(context.Background(), "a", pid, "tok"))

	for _, sid := range consumers {
		closed := h.conns[sid].ofType(core.EventRemoteClosed)
		require.Len(t, closed, 1, sid)
		require.Equal(t, pid, decode[remoteClosedEvent](t, closed[0]).RemoteProducerID)
		require.Equal(t, 1, h.conns[sid].count(core.EventProducerClosed), sid)
	}
	require.Equal(t, 1, h.conns["a"].count(core.EventProducerClosed))
	require.Zero(t, h.conns["a"].count(core.EventRemoteClosed))
	require.Empty(t, h.reg.ConsumersOf(pid))
	require.Zero(t, h.reg.Stats().Consumers)

	err := h.o.StopProducer(context.Background(), "a", pid, "tok")
	require.ErrorIs(t, err, core.ErrProducerNotFound)
}

func TestStopProducerOfAnotherConnection(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)

	err := h.o.StopProducer(context.Background(), "b", pid, "tok")
	require.ErrorIs(t, err, core.ErrProducerNotFound)
	require.Equal(t, 1, h.reg.Stats().Producers)
}

func TestDisconnectClosesRemoteConsumers(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)
	h.consume("b", pid)

	h.o.Disconnect("a")
	require.Equal(t, 1, h.conns["b"].count(core.EventRemoteClosed))
	require.Equal(t, core.Stats{Rooms: 1, Peers: 1, Transports: 1}, h.reg.Stats())
	require.Empty(t, h.reg.PresenceTenants("a"))

	// second disconnect is a no-op
	h.o.Disconnect("a")
}

func TestMuteWithoutAudioProducers(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.gw.EXPECT().AuthorizeJoin(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.JoinGrant{}, nil).AnyTimes()
	h.gw.EXPECT().AuthorizeStreamToggle(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h.join("a", "general", "t1", "u1")
	vid := h.produce("a", domain.KindVideo, domain.SourceCamera)

	res, err := h.o.MuteUserByID(context.Background(), "u1", "tok")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "No audio producers found for user u1", res.Message)

	p, _ := h.reg.Producer(vid)
	require.Zero(t, p.Producer.(*fakemedia.Producer).PauseCalls())
}

func TestMuteAcrossConnections(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.gw.EXPECT().AuthorizeJoin(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.JoinGrant{}, nil).AnyTimes()
	h.gw.EXPECT().AuthorizeStreamToggle(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		h.gw.EXPECT().SetMuteState(gomock.Any(), domain.UserID("u1"), "tok").Return(nil),
		h.gw.EXPECT().SetMuteState(gomock.Any(), domain.UserID("u1"), "tok").Return(errors.New("backend down")),
	)

	h.join("a", "general", "t1", "u1")
	h.join("a2", "music", "t1", "u1")
	h.join("b", "general", "t1", "u2")
	ids := []string{
		h.produce("a", domain.KindAudio, domain.SourceMicrophone),
		h.produce("a2", domain.KindAudio, domain.SourceMicrophone),
		h.produce("a2", domain.KindAudio, domain.SourceScreenAudio),
	}
	vid := h.produce("a", domain.KindVideo, domain.SourceCamera)
	other := h.produce("b", domain.KindAudio, domain.SourceMicrophone)

	res, err := h.o.MuteUserByID(context.Background(), "u1", "tok")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "User u1 muted successfully.", res.Message)
	require.Equal(t, 3, *res.MutedProducers)
	require.Nil(t, res.UnmutedProducers)

	fake := func(id string) *fakemedia.Producer {
		p, ok := h.reg.Producer(id)
		require.True(t, ok)
		return p.Producer.(*fakemedia.Producer)
	}
	for _, id := range ids {
		require.Equal(t, 1, fake(id).PauseCalls())
		require.True(t, fake(id).Paused())
	}
	require.Zero(t, fake(vid).PauseCalls())
	require.Zero(t, fake(other).PauseCalls())

	// backend failure is logged, not reported
	res, err = h.o.UnmuteUserByID(context.Background(), "u1", "tok")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, *res.UnmutedProducers)
	for _, id := range ids {
		require.Equal(t, 1, fake(id).ResumeCalls())
		require.False(t, fake(id).Paused())
	}
}

func TestMuteRejectsEmptyUserID(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	_, err := h.o.MuteUserByID(context.Background(), "", "tok")
	require.ErrorIs(t, err, core.ErrBadRequest)
}

func TestEngineClosedTransportDropsItsProducers(t *testing.T) {
	h := newHarness(t, DefaultOptions()).allowAll()
	h.join("a", "general", "t1", "u1")
	pid := h.produce("a", domain.KindAudio, domain.SourceMicrophone)

	e, ok := h.reg.OpenTransport("a", false)
	require.True(t, ok)
	e.Transport.Close()

	_, ok = h.reg.Producer(pid)
	require.False(t, ok)
	_, ok = h.reg.OpenTransport("a", false)
	require.False(t, ok)
	peer, _ := h.reg.Peer("a")
	require.Empty(t, peer.Transports)
	require.Empty(t, peer.Producers)
}
