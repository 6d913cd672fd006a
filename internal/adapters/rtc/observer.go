package rtc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"go.uber.org/atomic"
)

const defaultObserverInterval = 400 * time.Millisecond

// levelSource is a producer as seen by the observer.
type levelSource interface {
	setTap(key string, fn func(*rtp.Packet))
	audioLevelID() uint8
}

// levelMeter averages the RFC 6464 levels seen during one interval.
type levelMeter struct {
	extID uint8
	sum   atomic.Int64
	count atomic.Int64
}

func (m *levelMeter) observe(pkt *rtp.Packet) {
	if m.extID == 0 {
		return
	}
	raw := pkt.GetExtension(m.extID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	m.sum.Add(int64(ext.Level))
	m.count.Inc()
}

// drain returns the mean level in dBov and resets the meter.
func (m *levelMeter) drain() (int, bool) {
	n := m.count.Swap(0)
	sum := m.sum.Swap(0)
	if n == 0 {
		return 0, false
	}
	return -int(sum / n), true
}

// Observer reports the loudest audio producers of a router every interval.
type Observer struct {
	key    string
	opts   core.AudioLevelOptions
	lookup func(id string) (levelSource, bool)

	mu        sync.Mutex
	meters    map[string]*levelMeter
	sources   map[string]levelSource
	onVolumes []func([]core.AudioVolume)
	onSilence []func()
	silent    bool
	closed    bool
	cancel    context.CancelFunc
}

func newObserver(opts core.AudioLevelOptions, lookup func(id string) (levelSource, bool)) *Observer {
	if opts.Interval <= 0 {
		opts.Interval = defaultObserverInterval
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1
	}
	return &Observer{
		key:     "observer:" + uuid.NewString(),
		opts:    opts,
		lookup:  lookup,
		meters:  make(map[string]*levelMeter),
		sources: make(map[string]levelSource),
		silent:  true,
	}
}

func (o *Observer) start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	go func() {
		ticker := time.NewTicker(o.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.tick()
			}
		}
	}()
}

func (o *Observer) AddProducer(_ context.Context, producerID string) error {
	src, ok := o.lookup(producerID)
	if !ok {
		return core.ErrProducerNotFound
	}
	m := &levelMeter{extID: src.audioLevelID()}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return core.ErrRoutingEngine
	}
	o.meters[producerID] = m
	o.sources[producerID] = src
	o.mu.Unlock()
	src.setTap(o.key, m.observe)
	return nil
}

func (o *Observer) RemoveProducer(_ context.Context, producerID string) error {
	o.mu.Lock()
	src, ok := o.sources[producerID]
	delete(o.meters, producerID)
	delete(o.sources, producerID)
	o.mu.Unlock()
	if !ok {
		return core.ErrProducerNotFound
	}
	src.setTap(o.key, nil)
	return nil
}

func (o *Observer) OnVolumes(fn func([]core.AudioVolume)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onVolumes = append(o.onVolumes, fn)
}

func (o *Observer) OnSilence(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSilence = append(o.onSilence, fn)
}

// tick emits the volumes of one interval. Silence is reported once after
// the last interval that had speakers.
func (o *Observer) tick() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	var volumes []core.AudioVolume
	for id, m := range o.meters {
		level, ok := m.drain()
		if !ok || level < o.opts.Threshold {
			continue
		}
		volumes = append(volumes, core.AudioVolume{ProducerID: id, Volume: level})
	}
	slices.SortFunc(volumes, func(a, b core.AudioVolume) int {
		if a.Volume != b.Volume {
			return b.Volume - a.Volume
		}
		if a.ProducerID < b.ProducerID {
			return -1
		}
		return 1
	})
	if len(volumes) > o.opts.MaxEntries {
		volumes = volumes[:o.opts.MaxEntries]
	}

	var (
		volumeHooks  []func([]core.AudioVolume)
		silenceHooks []func()
	)
	switch {
	case len(volumes) > 0:
		o.silent = false
		volumeHooks = slices.Clone(o.onVolumes)
	case !o.silent:
		o.silent = true
		silenceHooks = slices.Clone(o.onSilence)
	}
	o.mu.Unlock()

	for _, fn := range volumeHooks {
		fn(volumes)
	}
	for _, fn := range silenceHooks {
		fn()
	}
}

func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	cancel := o.cancel
	sources := o.sources
	o.sources = nil
	o.meters = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, src := range sources {
		src.setTap(o.key, nil)
	}
}
