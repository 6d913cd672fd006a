package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager holds the relays of one router, keyed by producer id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for the producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, producerID string, src PacketSource) *Relay {
	logger := log.With().
		Str("module", "sfu").
		Str("producer_id", producerID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(producerID, src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[producerID]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[producerID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches a consumer's sink to the producer's relay.
func (m *RelayManager) AddSubscriber(producerID, consumerID string, sink PacketSink, muted bool) (*OutTrack, bool) {
	relay, ok := m.Relay(producerID)
	if !ok {
		return nil, false
	}
	ot := NewOutTrack(sink, muted)
	relay.AddOutTrack(consumerID, ot)
	return ot, true
}

// MarkSubscriberDelete marks the consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(producerID, consumerID string) {
	relay, ok := m.Relay(producerID)
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(consumerID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if ok {
		delete(m.relays, producerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// StopAll stops every relay, e.g. when the router closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.markAllDelete()
		relay.cancel()
	}
}

func (m *RelayManager) Relay(producerID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[producerID]
	return relay, ok
}

// HasRelay reports whether a relay exists for the producer.
func (m *RelayManager) HasRelay(producerID string) bool {
	_, ok := m.Relay(producerID)
	return ok
}
