package broadcast

import (
	"context"
	"sync"
)

// MemoryBus hosts named broadcast channels inside one process.
//
// Each connection has an unbounded inbox drained by its own goroutine, so
// a slow receiver never blocks a sender.
type MemoryBus struct {
	mu       sync.Mutex
	channels map[string]map[*memoryConn]struct{}
	down     bool
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string]map[*memoryConn]struct{})}
}

// Open joins a channel.
func (b *MemoryBus) Open(ctx context.Context, channel string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, ErrChannelDown
	}

	c := &memoryConn{
		bus:     b,
		channel: channel,
		inbox:   newQueue[[]byte](),
		out:     make(chan []byte),
		done:    make(chan struct{}),
	}
	members, ok := b.channels[channel]
	if !ok {
		members = make(map[*memoryConn]struct{})
		b.channels[channel] = members
	}
	members[c] = struct{}{}

	go c.pump()
	return c, nil
}

// Sever drops every connection on a channel, as if the channel were lost.
func (b *MemoryBus) Sever(channel string) {
	b.mu.Lock()
	members := b.channels[channel]
	delete(b.channels, channel)
	b.mu.Unlock()

	for c := range members {
		c.shutdown()
	}
}

// SetDown makes Open fail while down is true. Taking the bus down also
// severs every open connection.
func (b *MemoryBus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	var names []string
	if down {
		for name := range b.channels {
			names = append(names, name)
		}
	}
	b.mu.Unlock()

	for _, name := range names {
		b.Sever(name)
	}
}

// Members returns the number of open connections on a channel.
func (b *MemoryBus) Members(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}

func (b *MemoryBus) publish(from *memoryConn, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[from.channel][from]; !ok {
		return ErrConnClosed
	}
	for c := range b.channels[from.channel] {
		if c == from {
			continue
		}
		c.inbox.Enqueue(append([]byte(nil), payload...))
	}
	return nil
}

func (b *MemoryBus) leave(c *memoryConn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if members, ok := b.channels[c.channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(b.channels, c.channel)
		}
	}
}

type memoryConn struct {
	bus     *MemoryBus
	channel string
	inbox   *queue[[]byte]
	out     chan []byte
	done    chan struct{}
	once    sync.Once
}

func (c *memoryConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.bus.publish(c, payload)
}

func (c *memoryConn) Receive() <-chan []byte {
	return c.out
}

func (c *memoryConn) Close() error {
	c.bus.leave(c)
	c.shutdown()
	return nil
}

func (c *memoryConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.inbox.Close()
	})
}

// pump moves inbox payloads to the receive channel and closes it on shutdown.
func (c *memoryConn) pump() {
	defer close(c.out)
	for {
		for {
			payload, ok := c.inbox.TryDequeue()
			if !ok {
				break
			}
			select {
			case c.out <- payload:
			case <-c.done:
				return
			}
		}
		select {
		case <-c.done:
			return
		case <-c.inbox.Wait():
		}
	}
}
