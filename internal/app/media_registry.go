package app

import (
	"slices"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
)

type TransportEntry struct {
	ID        string
	SID       core.SessionID
	Room      domain.RoomName
	Receiver  bool
	Transport core.Transport
}

type ProducerEntry struct {
	ID       string
	SID      core.SessionID
	Room     domain.RoomName
	User     domain.User
	Source   domain.Source
	Producer core.Producer
}

func (e *ProducerEntry) View() domain.ProducerView {
	return domain.ProducerView{
		SocketID:   string(e.SID),
		UserName:   e.User.Username,
		UserID:     e.User.ID,
		ProducerID: e.ID,
		Source:     e.Source,
	}
}

type ConsumerEntry struct {
	ID         string
	SID        core.SessionID
	Room       domain.RoomName
	ProducerID string
	Consumer   core.Consumer
}

func (r *Registry) AddTransport(e *TransportEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[e.SID]
	if !ok {
		return core.ErrPeerClosed
	}
	r.transports[e.ID] = e
	p.Transports = append(p.Transports, e.ID)
	return nil
}

// OpenTransport returns the peer's transport of the given role that is not
// closed yet.
func (r *Registry) OpenTransport(sid core.SessionID, receiver bool) (*TransportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[sid]
	if !ok {
		return nil, false
	}
	for _, id := range p.Transports {
		e, ok := r.transports[id]
		if !ok || e.Receiver != receiver {
			continue
		}
		if e.Transport.State() == core.TransportClosed {
			continue
		}
		return e, true
	}
	return nil, false
}

func (r *Registry) Transport(id string) (*TransportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.transports[id]
	return e, ok
}

func (r *Registry) RemoveTransport(id string) (*TransportEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.transports[id]
	if !ok {
		return nil, false
	}
	delete(r.transports, id)
	if p, ok := r.peers[e.SID]; ok {
		p.Transports = slices.DeleteFunc(p.Transports, func(s string) bool { return s == id })
	}
	return e, true
}

// AddProducer records a producer and, in the same critical section, computes
// who must be told about it: every other ready member of the room, once.
// With holdersOnly only members that publish in the room themselves count.
// othersExist reports whether any other producer exists in the registry.
func (r *Registry) AddProducer(e *ProducerEntry, holdersOnly bool) (targets []core.SessionID, othersExist bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[e.SID]
	if !ok {
		return nil, false, core.ErrPeerClosed
	}
	othersExist = len(r.producers) > 0
	r.producers[e.ID] = e
	r.producerOrder = append(r.producerOrder, e.ID)
	p.Producers = append(p.Producers, e.ID)

	room, ok := r.rooms[e.Room]
	if !ok {
		return nil, othersExist, nil
	}
	seen := make(map[core.SessionID]struct{}, len(room.Members))
	for _, sid := range room.Members {
		if sid == e.SID {
			continue
		}
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		peer, ok := r.peers[sid]
		if !ok || !peer.Ready {
			continue
		}
		if holdersOnly && !r.holdsProducerLocked(peer) {
			continue
		}
		targets = append(targets, sid)
	}
	return targets, othersExist, nil
}

func (r *Registry) holdsProducerLocked(p *Peer) bool {
	for _, id := range p.Producers {
		if e, ok := r.producers[id]; ok && e.Room == p.Member.Room {
			return true
		}
	}
	return false
}

func (r *Registry) Producer(id string) (*ProducerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.producers[id]
	return e, ok
}

// ProducersOfUser returns every producer of the given kind owned by uid on
// any connection.
func (r *Registry) ProducersOfUser(uid domain.UserID, kind domain.MediaKind) []*ProducerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ProducerEntry
	for _, id := range r.producerOrder {
		e := r.producers[id]
		if e.User.ID == uid && e.Producer.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// OtherProducerIDs lists producers in the caller's room owned by other
// connections.
func (r *Registry) OtherProducerIDs(sid core.SessionID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[sid]
	if !ok {
		return nil, core.ErrPeerNotFound
	}
	out := []string{}
	for _, id := range r.producerOrder {
		e := r.producers[id]
		if e.Room == p.Member.Room && e.SID != sid {
			out = append(out, id)
		}
	}
	return out, nil
}

// RemoveProducer drops a producer and returns the room members at that moment.
func (r *Registry) RemoveProducer(id string) (*ProducerEntry, []core.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.removeProducerLocked(id)
	if !ok {
		return nil, nil, false
	}
	var members []core.SessionID
	if room, ok := r.rooms[e.Room]; ok {
		members = slices.Clone(room.Members)
	}
	return e, members, true
}

func (r *Registry) removeProducerLocked(id string) (*ProducerEntry, bool) {
	e, ok := r.producers[id]
	if !ok {
		return nil, false
	}
	delete(r.producers, id)
	r.producerOrder = slices.DeleteFunc(r.producerOrder, func(s string) bool { return s == id })
	if p, ok := r.peers[e.SID]; ok {
		p.Producers = slices.DeleteFunc(p.Producers, func(s string) bool { return s == id })
	}
	return e, true
}

// AddConsumer fails with ErrProducerNotFound if the producer went away while
// the consumer was being created.
func (r *Registry) AddConsumer(e *ConsumerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[e.SID]
	if !ok {
		return core.ErrPeerClosed
	}
	if _, ok := r.producers[e.ProducerID]; !ok {
		return core.ErrProducerNotFound
	}
	r.consumers[e.ID] = e
	p.Consumers = append(p.Consumers, e.ID)
	set, ok := r.producerConsumers[e.ProducerID]
	if !ok {
		set = make(map[string]struct{})
		r.producerConsumers[e.ProducerID] = set
	}
	set[e.ID] = struct{}{}
	return nil
}

func (r *Registry) Consumer(id string) (*ConsumerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.consumers[id]
	return e, ok
}

// ConsumersOf returns the consumers viewing a producer.
func (r *Registry) ConsumersOf(producerID string) []*ConsumerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConsumerEntry, 0, len(r.producerConsumers[producerID]))
	for id := range r.producerConsumers[producerID] {
		out = append(out, r.consumers[id])
	}
	return out
}

// RemoveConsumer reports ok only to the first caller for a given id.
func (r *Registry) RemoveConsumer(id string) (*ConsumerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeConsumerLocked(id)
}

func (r *Registry) removeConsumerLocked(id string) (*ConsumerEntry, bool) {
	e, ok := r.consumers[id]
	if !ok {
		return nil, false
	}
	delete(r.consumers, id)
	if set, ok := r.producerConsumers[e.ProducerID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.producerConsumers, e.ProducerID)
		}
	}
	if p, ok := r.peers[e.SID]; ok {
		p.Consumers = slices.DeleteFunc(p.Consumers, func(s string) bool { return s == id })
	}
	return e, true
}
