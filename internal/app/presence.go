package app

import (
	"slices"
	"strings"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

// SetServer moves a connection's presence to tenant. Other tenants lose the
// entry; in the target it is upserted, keeping the current room on refresh.
// It returns every tenant whose presence view changed, or ErrPeerClosed once
// the connection is gone.
func (r *Registry) SetServer(sid core.SessionID, tenant domain.TenantID, user domain.User) ([]domain.TenantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return nil, core.ErrPeerClosed
	}

	touched := r.removePresenceLocked(sid, tenant)
	t := r.tenantLocked(tenant)
	if i := indexPresence(t.presence, sid); i >= 0 {
		t.presence[i].User = user
	} else {
		t.presence = append(t.presence, &presenceEntry{SID: sid, User: user})
	}
	touched = append(touched, tenant)

	log.Info().
		Str("module", "app.registry").
		Str("sid", string(sid)).
		Str("tenant", string(tenant)).
		Str("username", user.Username).
		Msg("presence set")
	return touched, nil
}

func indexPresence(list []*presenceEntry, sid core.SessionID) int {
	return slices.IndexFunc(list, func(e *presenceEntry) bool { return e.SID == sid })
}

// removePresenceLocked drops sid from every tenant except keep.
func (r *Registry) removePresenceLocked(sid core.SessionID, keep domain.TenantID) []domain.TenantID {
	var touched []domain.TenantID
	for id, t := range r.tenants {
		if id == keep {
			continue
		}
		if i := indexPresence(t.presence, sid); i >= 0 {
			t.presence = slices.Delete(t.presence, i, i+1)
			touched = append(touched, id)
		}
	}
	slices.SortFunc(touched, func(a, b domain.TenantID) int { return strings.Compare(string(a), string(b)) })
	return touched
}

// setPresenceRoomLocked sets the room on whatever presence entry sid has. A
// connection that never called SetServer is added to fallback.
func (r *Registry) setPresenceRoomLocked(
	sid core.SessionID,
	room *domain.RoomName,
	fallback domain.TenantID,
	user domain.User,
) domain.TenantID {
	for id, t := range r.tenants {
		if i := indexPresence(t.presence, sid); i >= 0 {
			t.presence[i].Room = room
			return id
		}
	}
	t := r.tenantLocked(fallback)
	t.presence = append(t.presence, &presenceEntry{SID: sid, User: user, Room: room})
	return fallback
}

func (r *Registry) clearPresenceRoomLocked(sid core.SessionID) (domain.TenantID, bool) {
	for id, t := range r.tenants {
		if i := indexPresence(t.presence, sid); i >= 0 {
			t.presence[i].Room = nil
			return id, true
		}
	}
	return "", false
}

// PresenceTenants returns the tenants listing sid.
func (r *Registry) PresenceTenants(sid core.SessionID) []domain.TenantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TenantID
	for id, t := range r.tenants {
		if indexPresence(t.presence, sid) >= 0 {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Presence(tenant domain.TenantID) []domain.PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenant]
	if !ok {
		return nil
	}
	out := make([]domain.PresenceUser, 0, len(t.presence))
	for _, e := range t.presence {
		pu := domain.PresenceUser{SocketID: string(e.SID), User: e.User}
		if e.Room != nil {
			room := *e.Room
			pu.Room = &room
		}
		out = append(out, pu)
	}
	return out
}

// PresenceSnapshot builds the full users list of a tenant: every producer of
// every room the tenant owns, plus the connections to deliver it to.
func (r *Registry) PresenceSnapshot(tenant domain.TenantID) ([]core.SessionID, []domain.RoomUsers) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenant]
	if !ok {
		return nil, nil
	}
	recipients := make([]core.SessionID, 0, len(t.presence))
	for _, e := range t.presence {
		recipients = append(recipients, e.SID)
	}
	rooms := make([]domain.RoomUsers, 0, len(t.rooms))
	for _, name := range t.rooms {
		ru := domain.RoomUsers{RoomName: name, Users: []domain.ProducerView{}}
		for _, id := range r.producerOrder {
			if e := r.producers[id]; e.Room == name {
				ru.Users = append(ru.Users, e.View())
			}
		}
		rooms = append(rooms, ru)
	}
	return recipients, rooms
}
