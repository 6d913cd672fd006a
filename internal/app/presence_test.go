package app

import (
	"testing"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/testutil/fakemedia"
	"github.com/stretchr/testify/require"
)

func TestSetServerMovesBetweenTenants(t *testing.T) {
	reg := NewRegistry()
	alice := domain.User{ID: "u1", Username: "alice"}
	reg.BindSignal("s1", nopConn{}, nil)

	touched, err := reg.SetServer("s1", "t1", alice)
	require.NoError(t, err)
	require.Equal(t, []domain.TenantID{"t1"}, touched)

	touched, err = reg.SetServer("s1", "t2", alice)
	require.NoError(t, err)
	require.Equal(t, []domain.TenantID{"t1", "t2"}, touched)
	require.Empty(t, reg.Presence("t1"))
	require.Len(t, reg.Presence("t2"), 1)
	require.Equal(t, []domain.TenantID{"t2"}, reg.PresenceTenants("s1"))
}

func TestSetServerRefreshKeepsRoom(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.CreateRoom("general", "t1")
	require.NoError(t, err)
	reg.BindSignal("s1", nopConn{}, nil)
	_, err = reg.SetServer("s1", "t1", domain.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	_, err = reg.AttachPeer("s1", domain.Member{User: domain.User{ID: "u1", Username: "alice"}, Tenant: "t1", Room: "general"})
	require.NoError(t, err)

	_, err = reg.SetServer("s1", "t1", domain.User{ID: "u1", Username: "alice2"})
	require.NoError(t, err)
	users := reg.Presence("t1")
	require.Len(t, users, 1)
	require.Equal(t, "alice2", users[0].User.Username)
	require.NotNil(t, users[0].Room)
	require.Equal(t, domain.RoomName("general"), *users[0].Room)
}

func TestAttachPeerWithoutSetServerAddsPresence(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.CreateRoom("general", "t1")
	require.NoError(t, err)
	reg.BindSignal("s1", nopConn{}, nil)

	tenant, err := reg.AttachPeer("s1", domain.Member{User: domain.User{Username: "bob"}, Tenant: "t1", Room: "general"})
	require.NoError(t, err)
	require.Equal(t, domain.TenantID("t1"), tenant)
	require.Len(t, reg.Presence("t1"), 1)
}

func TestPresenceSnapshotListsProducersPerRoom(t *testing.T) {
	reg := NewRegistry()
	rm := NewRoomManager(reg, fakemedia.New(), core.AudioLevelOptions{})
	joined(t, reg, rm, "a", "general")
	joined(t, reg, rm, "b", "music")
	reg.BindSignal("watcher", nopConn{}, nil)
	for sid, u := range map[core.SessionID]domain.User{
		"a":       {ID: "ua", Username: "a"},
		"b":       {ID: "ub", Username: "b"},
		"watcher": {ID: "uw", Username: "w"},
	} {
		_, err := reg.SetServer(sid, "t1", u)
		require.NoError(t, err)
	}
	pa := produce(t, reg, "a", domain.KindAudio)

	recipients, rooms := reg.PresenceSnapshot("t1")
	require.ElementsMatch(t, []core.SessionID{"a", "b", "watcher"}, recipients)
	require.Len(t, rooms, 2)
	require.Equal(t, domain.RoomName("general"), rooms[0].RoomName)
	require.Equal(t, []domain.ProducerView{pa.View()}, rooms[0].Users)
	require.Equal(t, domain.RoomName("music"), rooms[1].RoomName)
	require.Empty(t, rooms[1].Users)

	recipients, rooms = reg.PresenceSnapshot("nobody")
	require.Nil(t, recipients)
	require.Nil(t, rooms)
}

func TestDetachDropPresence(t *testing.T) {
	reg := NewRegistry()
	reg.BindSignal("s1", nopConn{}, nil)
	_, err := reg.SetServer("s1", "t1", domain.User{Username: "x"})
	require.NoError(t, err)
	td := reg.Detach("s1", true)
	require.False(t, td.Joined)
	require.Equal(t, []domain.TenantID{"t1"}, td.Tenants)
	require.Empty(t, reg.Presence("t1"))
}

func TestSetServerAfterUnbindLeavesNoPresence(t *testing.T) {
	reg := NewRegistry()
	reg.BindSignal("s1", nopConn{}, nil)
	reg.Detach("s1", true)
	reg.Unbind("s1")

	_, err := reg.SetServer("s1", "t1", domain.User{ID: "u1", Username: "alice"})
	require.ErrorIs(t, err, core.ErrPeerClosed)
	require.Empty(t, reg.Presence("t1"))
	require.Empty(t, reg.PresenceTenants("s1"))
}
