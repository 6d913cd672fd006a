package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Peer is a connection that joined a room. It owns ids only; the entities
// live in the registry maps.
type Peer struct {
	SID        core.SessionID
	Member     domain.Member
	Transports []string
	Producers  []string
	Consumers  []string
	// Ready is set once the join response went out; only ready peers get
	// new-producer notifications.
	Ready bool
}

func (p *Peer) clone() Peer {
	c := *p
	c.Transports = slices.Clone(p.Transports)
	c.Producers = slices.Clone(p.Producers)
	c.Consumers = slices.Clone(p.Consumers)
	return c
}

// Room is a value snapshot; Router and Observer stay nil until the first join.
type Room struct {
	Name     domain.RoomName
	Tenant   domain.TenantID
	Router   core.Router
	Observer core.AudioLevelObserver
	Members  []core.SessionID
}

func (r *Room) clone() Room {
	c := *r
	c.Members = slices.Clone(r.Members)
	return c
}

type tenantEntry struct {
	rooms    []domain.RoomName
	presence []*presenceEntry
}

type presenceEntry struct {
	SID  core.SessionID
	User domain.User
	Room *domain.RoomName
}

// Registry is the single serialization point for peers, rooms, media
// entities and presence. Nothing that may block or call back into the
// registry runs under its lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	peers    map[core.SessionID]*Peer

	rooms     map[domain.RoomName]*Room
	roomOrder []domain.RoomName
	tenants   map[domain.TenantID]*tenantEntry

	transports        map[string]*TransportEntry
	producers         map[string]*ProducerEntry
	producerOrder     []string
	consumers         map[string]*ConsumerEntry
	producerConsumers map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
	r.resetLocked()
	return r
}

func (r *Registry) resetLocked() {
	r.peers = make(map[core.SessionID]*Peer)
	r.rooms = make(map[domain.RoomName]*Room)
	r.roomOrder = nil
	r.tenants = make(map[domain.TenantID]*tenantEntry)
	r.transports = make(map[string]*TransportEntry)
	r.producers = make(map[string]*ProducerEntry)
	r.producerOrder = nil
	r.consumers = make(map[string]*ConsumerEntry)
	r.producerConsumers = make(map[string]map[string]struct{})
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Cancel cancels the connection context; the adapter then closes the socket.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) tenantLocked(id domain.TenantID) *tenantEntry {
	t, ok := r.tenants[id]
	if !ok {
		t = &tenantEntry{}
		r.tenants[id] = t
	}
	return t
}

// AttachPeer records a joined peer and puts it into its room's member list
// and presence. The room must already exist. It returns the tenant whose
// presence changed.
func (r *Registry) AttachPeer(sid core.SessionID, member domain.Member) (domain.TenantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return "", core.ErrPeerClosed
	}
	if _, ok := r.peers[sid]; ok {
		return "", core.ErrAlreadyJoined
	}
	room, ok := r.rooms[member.Room]
	if !ok {
		return "", core.ErrRoomNotFound
	}
	r.peers[sid] = &Peer{SID: sid, Member: member}
	if !slices.Contains(room.Members, sid) {
		room.Members = append(room.Members, sid)
	}
	name := member.Room
	tenant := r.setPresenceRoomLocked(sid, &name, member.Tenant, member.User)

	log.Info().
		Str("module", "app.registry").
		Str("sid", string(sid)).
		Str("room", string(member.Room)).
		Str("tenant", string(member.Tenant)).
		Msg("peer attached")
	return tenant, nil
}

func (r *Registry) Peer(sid core.SessionID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[sid]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// MarkReady flips the peer to ready and returns the producers of other
// connections in its room, in creation order, so they can be replayed. Only
// the first call returns anything.
func (r *Registry) MarkReady(sid core.SessionID) ([]*ProducerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[sid]
	if !ok {
		return nil, core.ErrPeerNotFound
	}
	if p.Ready {
		return nil, nil
	}
	p.Ready = true
	var out []*ProducerEntry
	for _, id := range r.producerOrder {
		e := r.producers[id]
		if e.Room == p.Member.Room && e.SID != sid {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Registry) Room(name domain.RoomName) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return Room{}, false
	}
	return room.clone(), true
}

// RoomMembers returns the member connections of a room in join order.
func (r *Registry) RoomMembers(name domain.RoomName) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.rooms[name]; ok {
		return slices.Clone(room.Members)
	}
	return nil
}

// CreateRoom pre-creates a room without a router.
func (r *Registry) CreateRoom(name domain.RoomName, tenant domain.TenantID) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[name]; ok {
		return Room{}, core.ErrRoomExists
	}
	room := r.insertRoomLocked(name, tenant)
	log.Info().Str("module", "app.registry").Str("room", string(name)).Str("tenant", string(tenant)).Msg("room pre-created")
	return room.clone(), nil
}

func (r *Registry) insertRoomLocked(name domain.RoomName, tenant domain.TenantID) *Room {
	room := &Room{Name: name, Tenant: tenant}
	r.rooms[name] = room
	r.roomOrder = append(r.roomOrder, name)
	t := r.tenantLocked(tenant)
	t.rooms = append(t.rooms, name)
	return room
}

// joinExisting appends sid to a room that already has a router.
func (r *Registry) joinExisting(name domain.RoomName, sid core.SessionID) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok || room.Router == nil {
		return Room{}, false
	}
	if !slices.Contains(room.Members, sid) {
		room.Members = append(room.Members, sid)
	}
	return room.clone(), true
}

// installRouter stores a freshly created router and observer. A pre-created
// room keeps its tenant. If another router got there first, installed is
// false and the caller owns the handles it passed in.
func (r *Registry) installRouter(
	name domain.RoomName,
	tenant domain.TenantID,
	router core.Router,
	observer core.AudioLevelObserver,
) (room Room, installed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rooms[name]
	if ok && existing.Router != nil {
		return existing.clone(), false
	}
	if !ok {
		existing = r.insertRoomLocked(name, tenant)
	}
	existing.Router = router
	existing.Observer = observer
	return existing.clone(), true
}

func (r *Registry) removeRoomMember(name domain.RoomName, sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[name]; ok {
		room.Members = slices.DeleteFunc(room.Members, func(s core.SessionID) bool { return s == sid })
	}
}

func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.roomOrder))
	for _, name := range r.roomOrder {
		out = append(out, r.roomInfoLocked(r.rooms[name]))
	}
	return out
}

func (r *Registry) TenantRooms(tenant domain.TenantID) ([]core.RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenant]
	if !ok {
		return nil, false
	}
	out := make([]core.RoomInfo, 0, len(t.rooms))
	for _, name := range t.rooms {
		out = append(out, r.roomInfoLocked(r.rooms[name]))
	}
	return out, true
}

func (r *Registry) roomInfoLocked(room *Room) core.RoomInfo {
	return core.RoomInfo{
		Name:      room.Name,
		Tenant:    room.Tenant,
		Peers:     len(room.Members),
		HasRouter: room.Router != nil,
	}
}

// Teardown is everything a connection owned at the moment it was detached.
type Teardown struct {
	Peer       Peer
	Joined     bool
	Consumers  []*ConsumerEntry
	Producers  []*ProducerEntry
	Transports []*TransportEntry
	// Tenants whose presence view changed.
	Tenants []domain.TenantID
}

// Detach atomically removes a peer and every entity it owns. With
// dropPresence the connection also leaves presence, otherwise only its room
// is cleared there. Later registrations for sid fail with ErrPeerClosed.
func (r *Registry) Detach(sid core.SessionID, dropPresence bool) Teardown {
	r.mu.Lock()
	defer r.mu.Unlock()

	var td Teardown
	if p, ok := r.peers[sid]; ok {
		td.Joined = true
		td.Peer = p.clone()
		for _, id := range p.Consumers {
			if e, ok := r.removeConsumerLocked(id); ok {
				td.Consumers = append(td.Consumers, e)
			}
		}
		for _, id := range p.Producers {
			if e, ok := r.removeProducerLocked(id); ok {
				td.Producers = append(td.Producers, e)
			}
		}
		for _, id := range p.Transports {
			if e, ok := r.transports[id]; ok {
				delete(r.transports, id)
				td.Transports = append(td.Transports, e)
			}
		}
		if room, ok := r.rooms[p.Member.Room]; ok {
			room.Members = slices.DeleteFunc(room.Members, func(s core.SessionID) bool { return s == sid })
		}
		delete(r.peers, sid)
	}

	if dropPresence {
		td.Tenants = r.removePresenceLocked(sid, "")
	} else if tenant, ok := r.clearPresenceRoomLocked(sid); ok {
		td.Tenants = []domain.TenantID{tenant}
	}

	if td.Joined {
		log.Info().
			Str("module", "app.registry").
			Str("sid", string(sid)).
			Str("room", string(td.Peer.Member.Room)).
			Int("producers", len(td.Producers)).
			Int("consumers", len(td.Consumers)).
			Int("transports", len(td.Transports)).
			Msg("peer detached")
	}
	return td
}

// ResetResult lists the engine handles dropped by Reset; the caller closes them.
type ResetResult struct {
	Consumers  []*ConsumerEntry
	Producers  []*ProducerEntry
	Transports []*TransportEntry
	Rooms      []Room
}

// Reset forgets every room, peer, media entity and presence entry. Live
// signaling sessions stay bound.
func (r *Registry) Reset() ResetResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res ResetResult
	for _, e := range r.consumers {
		res.Consumers = append(res.Consumers, e)
	}
	for _, id := range r.producerOrder {
		res.Producers = append(res.Producers, r.producers[id])
	}
	for _, e := range r.transports {
		res.Transports = append(res.Transports, e)
	}
	for _, name := range r.roomOrder {
		res.Rooms = append(res.Rooms, r.rooms[name].clone())
	}
	r.resetLocked()
	log.Warn().Str("module", "app.registry").Int("rooms", len(res.Rooms)).Msg("registry reset")
	return res
}

func (r *Registry) Stats() core.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.Stats{
		Rooms:      len(r.rooms),
		Peers:      len(r.peers),
		Transports: len(r.transports),
		Producers:  len(r.producers),
		Consumers:  len(r.consumers),
	}
}
