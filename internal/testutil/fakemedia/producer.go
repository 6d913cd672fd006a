package fakemedia

import (
	"context"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
)

type Producer struct {
	router *Router
	id     string
	kind   domain.MediaKind
	params core.RtpParameters

	mu          sync.Mutex
	paused      bool
	closed      bool
	pauseCalls  int
	resumeCalls int
	consumers   []*Consumer
	onClose     []func()
}

func (p *Producer) ID() string                        { return p.id }
func (p *Producer) Kind() domain.MediaKind            { return p.kind }
func (p *Producer) RtpParameters() core.RtpParameters { return p.params }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseCalls++
	p.paused = true
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeCalls++
	p.paused = false
	return nil
}

func (p *Producer) PauseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseCalls
}

func (p *Producer) ResumeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeCalls
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) addConsumer(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers = append(p.consumers, c)
	return true
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := p.consumers
	hooks := p.onClose
	p.mu.Unlock()

	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()

	for _, c := range consumers {
		c.producerClosed()
	}
	for _, fn := range hooks {
		fn()
	}
}

type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	params     core.RtpParameters

	mu              sync.Mutex
	paused          bool
	closed          bool
	resumeCalls     int
	onProducerClose []func()
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producerID }
func (c *Consumer) Kind() domain.MediaKind            { return c.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeCalls++
	c.paused = false
	return nil
}

func (c *Consumer) ResumeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeCalls
}

func (c *Consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProducerClose = append(c.onProducerClose, fn)
}

func (c *Consumer) producerClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	hooks := c.onProducerClose
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	c.Close()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
