package relay

import (
	"errors"
	"sync"
)

// Bus is a broadcast transport: every message published on a named channel
// reaches every current subscriber of that name, the publisher's own
// subscription included.
type Bus interface {
	Join(name string, deliver func([]byte)) (Channel, error)
}

// Channel is one subscription to a Bus.
type Channel interface {
	Publish(payload []byte) error
	Close() error
}

// ErrChannelClosed is returned when publishing on a released channel.
var ErrChannelClosed = errors.New("relay: channel closed")

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu          sync.RWMutex
	subs        map[string]map[*memoryChannel]struct{}
	partitioned bool
	publishErr  error
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memoryChannel]struct{}),
	}
}

// Partition makes every later publish vanish without an error, the way
// browser storage partitioning isolates BroadcastChannel per window.
func (b *MemoryBus) Partition(on bool) {
	b.mu.Lock()
	b.partitioned = on
	b.mu.Unlock()
}

// FailPublish makes every later publish return err. Nil restores delivery.
func (b *MemoryBus) FailPublish(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Join implements Bus.
func (b *MemoryBus) Join(name string, deliver func([]byte)) (Channel, error) {
	ch := &memoryChannel{bus: b, name: name, deliver: deliver}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[name] == nil {
		b.subs[name] = make(map[*memoryChannel]struct{})
	}
	b.subs[name][ch] = struct{}{}
	return ch, nil
}

// Subscribers returns the number of open channels for name.
func (b *MemoryBus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *MemoryBus) publish(name string, payload []byte) error {
	b.mu.RLock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.RUnlock()
		return err
	}
	if b.partitioned {
		b.mu.RUnlock()
		return nil
	}
	targets := make([]*memoryChannel, 0, len(b.subs[name]))
	for ch := range b.subs[name] {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		ch.deliver(buf)
	}
	return nil
}

func (b *MemoryBus) leave(ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if group, ok := b.subs[ch.name]; ok {
		delete(group, ch)
		if len(group) == 0 {
			delete(b.subs, ch.name)
		}
	}
}

type memoryChannel struct {
	bus     *MemoryBus
	name    string
	deliver func([]byte)

	mu     sync.Mutex
	closed bool
}

func (c *memoryChannel) Publish(payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.bus.publish(c.name, payload)
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.bus.leave(c)
	return nil
}
