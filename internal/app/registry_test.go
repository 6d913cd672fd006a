package app

import (
	"context"
	"testing"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/testutil/fakemedia"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func joined(t *testing.T, reg *Registry, rm *RoomManager, sid core.SessionID, room domain.RoomName) {
	t.Helper()
	reg.BindSignal(sid, nopConn{}, func() {})
	_, err := rm.GetOrCreateRoom(context.Background(), room, "t1", sid)
	require.NoError(t, err)
	user, _ := domain.NewUser("u-"+string(sid), string(sid))
	_, err = reg.AttachPeer(sid, *domain.NewMember(user, "t1", room))
	require.NoError(t, err)
}

func produce(t *testing.T, reg *Registry, sid core.SessionID, kind domain.MediaKind) *ProducerEntry {
	t.Helper()
	peer, ok := reg.Peer(sid)
	require.True(t, ok)
	room, _ := reg.Room(peer.Member.Room)
	tr, err := room.Router.CreateWebRtcTransport(context.Background())
	require.NoError(t, err)
	params := fakemedia.OpusParameters()
	if kind == domain.KindVideo {
		params = fakemedia.VP8Parameters()
	}
	p, err := tr.Produce(context.Background(), core.ProducerOptions{Kind: kind, RtpParameters: params})
	require.NoError(t, err)
	e := &ProducerEntry{ID: p.ID(), SID: sid, Room: peer.Member.Room, User: peer.Member.User, Producer: p}
	_, _, err = reg.AddProducer(e, false)
	require.NoError(t, err)
	return e
}

func TestAttachPeerRequiresBoundSession(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.CreateRoom("general", "t1")
	require.NoError(t, err)

	_, err = reg.AttachPeer("ghost", domain.Member{Room: "general", Tenant: "t1"})
	require.ErrorIs(t, err, core.ErrPeerClosed)

	reg.BindSignal("s1", nopConn{}, nil)
	_, err = reg.AttachPeer("s1", domain.Member{Room: "missing", Tenant: "t1"})
	require.ErrorIs(t, err, core.ErrRoomNotFound)

	_, err = reg.AttachPeer("s1", domain.Member{Room: "general", Tenant: "t1"})
	require.NoError(t, err)
	_, err = reg.AttachPeer("s1", domain.Member{Room: "general", Tenant: "t1"})
	require.ErrorIs(t, err, core.ErrAlreadyJoined)

	require.Equal(t, []core.SessionID{"s1"}, reg.RoomMembers("general"))
}

func TestAddProducerTargetsReadyOthersOnce(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	joined(t, reg, rm, "b", "general")
	joined(t, reg, rm, "c", "general")
	joined(t, reg, rm, "x", "other")
	for _, sid := range []core.SessionID{"a", "b", "x"} {
		_, err := reg.MarkReady(sid)
		require.NoError(t, err)
	}

	room, _ := reg.Room("general")
	tr, err := room.Router.CreateWebRtcTransport(context.Background())
	require.NoError(t, err)
	p, err := tr.Produce(context.Background(), core.ProducerOptions{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters()})
	require.NoError(t, err)

	targets, othersExist, err := reg.AddProducer(&ProducerEntry{ID: p.ID(), SID: "a", Room: "general", Producer: p}, false)
	require.NoError(t, err)
	require.False(t, othersExist)
	// c is not ready yet, x is in another room
	require.Equal(t, []core.SessionID{"b"}, targets)
}

func TestAddProducerHoldersOnly(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		joined(t, reg, rm, sid, "general")
		_, err := reg.MarkReady(sid)
		require.NoError(t, err)
	}
	produce(t, reg, "b", domain.KindAudio)

	room, _ := reg.Room("general")
	tr, _ := room.Router.CreateWebRtcTransport(context.Background())
	p, err := tr.Produce(context.Background(), core.ProducerOptions{Kind: domain.KindAudio, RtpParameters: fakemedia.OpusParameters()})
	require.NoError(t, err)
	targets, othersExist, err := reg.AddProducer(&ProducerEntry{ID: p.ID(), SID: "a", Room: "general", Producer: p}, true)
	require.NoError(t, err)
	require.True(t, othersExist)
	require.Equal(t, []core.SessionID{"b"}, targets)
}

func TestMarkReadyReplaysOtherProducers(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	pa := produce(t, reg, "a", domain.KindAudio)
	joined(t, reg, rm, "b", "general")
	produce(t, reg, "b", domain.KindVideo)

	replay, err := reg.MarkReady("b")
	require.NoError(t, err)
	require.Len(t, replay, 1)
	require.Equal(t, pa.ID, replay[0].ID)

	ids, err := reg.OtherProducerIDs("b")
	require.NoError(t, err)
	require.Equal(t, []string{pa.ID}, ids)

	_, err = reg.MarkReady("nobody")
	require.ErrorIs(t, err, core.ErrPeerNotFound)
}

func TestDetachRemovesOwnedEntities(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	joined(t, reg, rm, "b", "general")
	_, err := reg.SetServer("a", "t1", domain.User{ID: "ua", Username: "a"})
	require.NoError(t, err)

	room, _ := reg.Room("general")
	tr, err := room.Router.CreateWebRtcTransport(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.AddTransport(&TransportEntry{ID: tr.ID(), SID: "a", Room: "general", Transport: tr}))
	pa := produce(t, reg, "a", domain.KindAudio)
	pb := produce(t, reg, "b", domain.KindAudio)

	c, err := tr.Consume(context.Background(), core.ConsumerOptions{ProducerID: pb.ID})
	require.NoError(t, err)
	require.NoError(t, reg.AddConsumer(&ConsumerEntry{ID: c.ID(), SID: "a", Room: "general", ProducerID: pb.ID, Consumer: c}))

	td := reg.Detach("a", false)
	require.True(t, td.Joined)
	require.Len(t, td.Producers, 1)
	require.Equal(t, pa.ID, td.Producers[0].ID)
	require.Len(t, td.Consumers, 1)
	require.Len(t, td.Transports, 1)
	require.Equal(t, []domain.TenantID{"t1"}, td.Tenants)

	_, ok := reg.Peer("a")
	require.False(t, ok)
	require.Equal(t, []core.SessionID{"b"}, reg.RoomMembers("general"))
	require.Empty(t, reg.ConsumersOf(pb.ID))
	require.Equal(t, core.Stats{Rooms: 1, Peers: 1, Transports: 0, Producers: 1, Consumers: 0}, reg.Stats())

	// presence entry stays, without a room
	users := reg.Presence("t1")
	require.Len(t, users, 2)
	for _, u := range users {
		if u.SocketID == "a" {
			require.Nil(t, u.Room)
		}
	}

	_, _, err = reg.AddProducer(&ProducerEntry{ID: "late", SID: "a", Room: "general"}, false)
	require.ErrorIs(t, err, core.ErrPeerClosed)
	require.ErrorIs(t, reg.AddTransport(&TransportEntry{ID: "late", SID: "a"}), core.ErrPeerClosed)
}

func TestRemoveConsumerOnce(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	joined(t, reg, rm, "b", "general")
	pa := produce(t, reg, "a", domain.KindAudio)

	require.ErrorIs(t, reg.AddConsumer(&ConsumerEntry{ID: "c0", SID: "b", ProducerID: "missing"}), core.ErrProducerNotFound)
	require.NoError(t, reg.AddConsumer(&ConsumerEntry{ID: "c1", SID: "b", Room: "general", ProducerID: pa.ID}))

	_, ok := reg.RemoveConsumer("c1")
	require.True(t, ok)
	_, ok = reg.RemoveConsumer("c1")
	require.False(t, ok)
}

func TestProducersOfUserAcrossConnections(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	reg.BindSignal("a", nopConn{}, nil)
	reg.BindSignal("b", nopConn{}, nil)
	for _, sid := range []core.SessionID{"a", "b"} {
		_, err := rm.GetOrCreateRoom(context.Background(), "general", "t1", sid)
		require.NoError(t, err)
		_, err = reg.AttachPeer(sid, domain.Member{User: domain.User{ID: "same", Username: "x"}, Tenant: "t1", Room: "general"})
		require.NoError(t, err)
	}
	produce(t, reg, "a", domain.KindAudio)
	produce(t, reg, "b", domain.KindAudio)
	produce(t, reg, "b", domain.KindVideo)

	require.Len(t, reg.ProducersOfUser("same", domain.KindAudio), 2)
	require.Len(t, reg.ProducersOfUser("same", domain.KindVideo), 1)
	require.Empty(t, reg.ProducersOfUser("other", domain.KindAudio))
}

func TestResetClearsEverythingButSessions(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	produce(t, reg, "a", domain.KindAudio)

	res := reg.Reset()
	require.Len(t, res.Rooms, 1)
	require.Len(t, res.Producers, 1)
	require.Equal(t, core.Stats{}, reg.Stats())
	require.Empty(t, reg.Rooms())

	_, ok := reg.Signal("a")
	require.True(t, ok)
}

func TestCancel(t *testing.T) {
	reg := NewRegistry()
	require.False(t, reg.Cancel("nobody"))

	canceled := false
	reg.BindSignal("a", nopConn{}, func() { canceled = true })
	require.True(t, reg.Cancel("a"))
	require.True(t, canceled)

	reg.Unbind("a")
	_, ok := reg.Signal("a")
	require.False(t, ok)
}
