package messaging

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/metrics"
)

// DefaultQueueSize is the per-subscriber backlog of a Hub channel.
const DefaultQueueSize = 256

// Hub is an in-process Transport. Tabs created in one process share a Hub the
// way browser tabs of one origin share BroadcastChannel names.
type Hub struct {
	mu        sync.RWMutex
	channels  map[string]map[*hubChannel]struct{}
	queueSize int
	log       zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		channels:  make(map[string]map[*hubChannel]struct{}),
		queueSize: DefaultQueueSize,
		log:       logx.Component("hub"),
	}
}

// Open subscribes handler to name. Each subscriber has its own queue and
// delivery goroutine, so a slow handler only delays itself.
func (h *Hub) Open(name string, handler Handler) (Channel, error) {
	c := &hubChannel{
		hub:     h,
		name:    name,
		handler: handler,
		queue:   make(chan []byte, h.queueSize),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	peers, ok := h.channels[name]
	if !ok {
		peers = make(map[*hubChannel]struct{})
		h.channels[name] = peers
	}
	peers[c] = struct{}{}
	h.mu.Unlock()

	go c.deliver()
	return c, nil
}

// Subscribers returns the number of open channels for name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

// publish fans data out to every peer of from. It runs under the read lock so
// that two posts from one sender are enqueued in order.
func (h *Hub) publish(from *hubChannel, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for peer := range h.channels[from.name] {
		if peer == from {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case peer.queue <- buf:
		case <-peer.done:
		default:
			metrics.BusEventsTotal.WithLabelValues("dropped").Inc()
			h.log.Warn().Str("channel", from.name).Msg("subscriber queue full, event dropped")
		}
	}
}

func (h *Hub) remove(c *hubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := h.channels[c.name]
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.channels, c.name)
	}
}

type hubChannel struct {
	hub     *Hub
	name    string
	handler Handler
	queue   chan []byte
	done    chan struct{}

	postMu    sync.Mutex // orders concurrent Posts from this channel
	closeOnce sync.Once
}

func (c *hubChannel) Post(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.postMu.Lock()
	c.hub.publish(c, data)
	c.postMu.Unlock()
	return nil
}

func (c *hubChannel) Close() error {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		close(c.done)
	})
	return nil
}

func (c *hubChannel) deliver() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			c.handler(data)
		}
	}
}
