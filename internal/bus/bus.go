// Package bus implements the presence and message protocol tabs run over a
// broadcast channel. A tab connects once with its user; the connection
// announces it with JOIN, answers other tabs' JOINs with PRESENCE, forwards
// MESSAGE and presence events to the tab's callbacks and says LEAVE when it
// goes away.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/messaging"
	"github.com/nexus/chat-app/internal/metrics"
	"github.com/nexus/chat-app/internal/model"
	"github.com/nexus/chat-app/internal/presence"
	"github.com/nexus/chat-app/internal/protocol"
	"github.com/nexus/chat-app/internal/store"
)

// DefaultChannel is the broadcast channel name shared by all tabs.
const DefaultChannel = "nexus_global_chat_v2"

// MessageHandler receives chat messages from other tabs.
type MessageHandler func(msg model.Message)

// PresenceHandler receives presence changes. ts is the sender's clock in unix
// ms, for last-write-wins merging.
type PresenceHandler func(u model.User, kind presence.Kind, ts int64)

// Bus owns at most one live connection for a tab.
type Bus struct {
	transport messaging.Transport
	store     *store.Store
	channel   string
	log       zerolog.Logger

	connectMu sync.Mutex // serializes Connect
	mu        sync.Mutex // guards active
	active    *Conn
}

// New returns a Bus that opens channel on transport and persists outgoing
// messages to st.
func New(transport messaging.Transport, st *store.Store, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{
		transport: transport,
		store:     st,
		channel:   channel,
		log:       logx.Component("bus"),
	}
}

// Active returns the live connection, or nil.
func (b *Bus) Active() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Connect closes any previous connection, opens the channel and announces u
// with JOIN. Cancelling ctx acts as the tab going away: the connection says
// LEAVE and closes.
func (b *Bus) Connect(ctx context.Context, u model.User, onMessage MessageHandler, onPresence PresenceHandler) (*Conn, error) {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	if prev := b.Active(); prev != nil {
		b.log.Debug().Str("conn", prev.id).Msg("closing previous connection")
		_ = prev.Close()
	}

	c := &Conn{
		bus:        b,
		id:         uuid.NewString(),
		self:       u.Sanitized(),
		onMessage:  onMessage,
		onPresence: onPresence,
		ready:      make(chan struct{}),
		stop:       make(chan struct{}),
	}
	c.log = b.log.With().Str("conn", c.id).Str("user", u.Name).Logger()

	ch, err := b.transport.Open(b.channel, c.handle)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", b.channel, err)
	}
	c.ch = ch
	close(c.ready)

	b.mu.Lock()
	b.active = c
	b.mu.Unlock()

	if err := c.post(protocol.NewUserEvent(protocol.TypeJoin, c.id, c.Self())); err != nil {
		c.log.Warn().Err(err).Msg("join broadcast failed")
	}

	go c.watch(ctx)

	c.log.Info().Str("channel", b.channel).Msg("connected")
	return c, nil
}

func (b *Bus) release(c *Conn) {
	b.mu.Lock()
	if b.active == c {
		b.active = nil
	}
	b.mu.Unlock()
}

// Conn is a live bus connection. It is the handle returned by Connect and
// released with Close.
type Conn struct {
	bus *Bus
	id  string
	ch  messaging.Channel
	log zerolog.Logger

	selfMu sync.RWMutex
	self   model.User

	onMessage  MessageHandler
	onPresence PresenceHandler
	eventMu    sync.Mutex // one handler invocation at a time

	ready     chan struct{}
	stop      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// ID identifies this connection in the "from" field of its events.
func (c *Conn) ID() string {
	return c.id
}

// Self returns the user this connection announces.
func (c *Conn) Self() model.User {
	c.selfMu.RLock()
	defer c.selfMu.RUnlock()
	return c.self
}

// SetSelf replaces the user announced in later PRESENCE and LEAVE events.
func (c *Conn) SetSelf(u model.User) {
	c.selfMu.Lock()
	c.self = u.Sanitized()
	c.selfMu.Unlock()
}

// MaxPayload returns the largest encoded event the channel accepts, or 0 if
// it has no limit.
func (c *Conn) MaxPayload() int {
	return messaging.MaxPayload(c.ch)
}

// Fits reports messaging.ErrTooLarge if msg would not fit in one payload.
func (c *Conn) Fits(msg model.Message) error {
	_, err := c.encodeMessage(msg)
	return err
}

// SendMessage stores msg in the local history, then broadcasts it. A message
// too large for the channel is neither stored nor sent.
func (c *Conn) SendMessage(ctx context.Context, msg model.Message) error {
	data, err := c.encodeMessage(msg)
	if err != nil {
		return err
	}
	c.bus.store.SaveMessage(ctx, msg)
	return c.send(protocol.TypeMessage, data)
}

func (c *Conn) encodeMessage(msg model.Message) ([]byte, error) {
	data, err := protocol.Encode(protocol.NewMessageEvent(c.id, msg))
	if err != nil {
		return nil, err
	}
	if max := c.MaxPayload(); max > 0 && len(data) > max {
		return nil, fmt.Errorf("bus: message %s is %d bytes, channel max %d: %w", msg.ID, len(data), max, messaging.ErrTooLarge)
	}
	return data, nil
}

// BroadcastUserUpdate announces a changed user record to all tabs.
func (c *Conn) BroadcastUserUpdate(u model.User) error {
	return c.post(protocol.NewUserEvent(protocol.TypeUserUpdate, c.id, u))
}

// Close broadcasts LEAVE, stops the unload watcher and closes the channel.
// Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if perr := c.post(protocol.NewUserEvent(protocol.TypeLeave, c.id, c.Self())); perr != nil {
			c.log.Warn().Err(perr).Msg("leave broadcast failed")
		}
		c.closed.Store(true)
		close(c.stop)
		err = c.ch.Close()
		c.bus.release(c)
		c.log.Info().Msg("disconnected")
	})
	return err
}

func (c *Conn) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.log.Debug().Msg("context done, leaving")
		_ = c.Close()
	case <-c.stop:
	}
}

func (c *Conn) post(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	return c.send(e.Type, data)
}

func (c *Conn) send(typ string, data []byte) error {
	if c.closed.Load() {
		return messaging.ErrClosed
	}
	if err := c.ch.Post(data); err != nil {
		return fmt.Errorf("bus: post %s: %w", typ, err)
	}
	metrics.BusEventsTotal.WithLabelValues("sent").Inc()
	return nil
}

func (c *Conn) handle(data []byte) {
	<-c.ready

	e, err := protocol.Decode(data)
	if err != nil {
		metrics.BusEventsTotal.WithLabelValues("ignored").Inc()
		c.log.Warn().Err(err).Msg("undecodable event dropped")
		return
	}
	if e.From == c.id {
		metrics.BusEventsTotal.WithLabelValues("ignored").Inc()
		return
	}

	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	if c.closed.Load() {
		return
	}

	metrics.BusEventsTotal.WithLabelValues("received").Inc()
	metrics.BusEventsByType.WithLabelValues(e.Type).Inc()

	ts := e.Ts
	if ts == 0 {
		ts = model.NowMillis()
	}

	switch e.Type {
	case protocol.TypeMessage:
		c.onMessage(*e.Message)

	case protocol.TypeJoin:
		c.onPresence(*e.User, presence.Join, ts)
		err := c.post(protocol.NewUserEvent(protocol.TypePresence, c.id, c.Self()))
		if err != nil && !errors.Is(err, messaging.ErrClosed) {
			c.log.Warn().Err(err).Msg("presence reply failed")
		}

	case protocol.TypePresence, protocol.TypeUserUpdate:
		c.onPresence(*e.User, presence.Update, ts)

	case protocol.TypeLeave:
		c.onPresence(*e.User, presence.Leave, ts)
	}
}
