package fakemedia

import (
	"context"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
)

type Observer struct {
	Options core.AudioLevelOptions
	// AddHook runs at the start of AddProducer, outside the lock.
	AddHook func(producerID string)

	mu        sync.Mutex
	closed    bool
	producers map[string]struct{}
	onVolumes []func([]core.AudioVolume)
	onSilence []func()
}

func (o *Observer) AddProducer(ctx context.Context, producerID string) error {
	if o.AddHook != nil {
		o.AddHook(producerID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.producers[producerID] = struct{}{}
	return nil
}

func (o *Observer) RemoveProducer(ctx context.Context, producerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.producers, producerID)
	return nil
}

func (o *Observer) Has(producerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.producers[producerID]
	return ok
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

// EmitVolumes fires the volumes subscribers synchronously.
func (o *Observer) EmitVolumes(v []core.AudioVolume) {
	o.mu.Lock()
	hooks := o.onVolumes
	o.mu.Unlock()
	for _, fn := range hooks {
		fn(v)
	}
}

func (o *Observer) EmitSilence() {
	o.mu.Lock()
	hooks := o.onSilence
	o.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (o *Observer) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.onVolumes)
}

func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

func (o *Observer) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
