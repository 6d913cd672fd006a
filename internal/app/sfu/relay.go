package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource yields the packets of one incoming track.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Relay copies packets of one producer to all of its consumers.
type Relay struct {
	ProducerID string
	Src        PacketSource

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
	taps      map[string]func(*rtp.Packet)

	paused atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(producerID string, src PacketSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		ProducerID: producerID,
		Src:        src,
		outTracks:  make(map[string]*OutTrack),
		taps:       make(map[string]func(*rtp.Packet)),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// loop reads RTP packets from the source and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		if r.paused.Load() {
			continue
		}
		r.tap(pkt)
		r.forward(pkt, logger)
	}
}

func (r *Relay) tap(pkt *rtp.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.taps {
		fn(pkt)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []string
	for consumerID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("consumer_id", consumerID).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *Relay) OutTrack(consumerID string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumerID]
	return ot, ok
}

// SetTap registers fn to see every forwarded packet; nil removes it.
// fn runs on the relay goroutine and must not block.
func (r *Relay) SetTap(key string, fn func(*rtp.Packet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.taps, key)
		return
	}
	r.taps[key] = fn
}

// Pause stops forwarding without tearing down consumers.
func (r *Relay) Pause()  { r.paused.Store(true) }
func (r *Relay) Resume() { r.paused.Store(false) }

func (r *Relay) Paused() bool { return r.paused.Load() }

// Done is closed when the loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }
