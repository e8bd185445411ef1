package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/logx"
)

// SubjectTabs prefixes the NATS subject of every broadcast channel
// (tabs.<channel name>).
const SubjectTabs = "tabs"

// NATSClient is a Transport over a single NATS connection. The connection is
// opened with NoEcho, so one NATSClient per tab gives the no-self-delivery
// rule for free.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[*natsChannel]struct{}
	log  zerolog.Logger
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "nexus-tab",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logx.Component("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.NoEcho(),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected")
			} else {
				log.Warn().Msg("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[*natsChannel]struct{}),
		log:  log,
	}, nil
}

// Open subscribes to tabs.<name>. NATS invokes the handler of one
// subscription sequentially, in publish order per publisher.
func (c *NATSClient) Open(name string, handler Handler) (Channel, error) {
	subject := SubjectTabs + "." + name
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	ch := &natsChannel{client: c, subject: subject, sub: sub}
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subs {
		if err := ch.sub.Drain(); err != nil {
			c.log.Warn().Err(err).Str("subject", ch.subject).Msg("drain failed")
		}
	}
	c.subs = make(map[*natsChannel]struct{})

	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("connection drain failed")
	}
	c.log.Info().Msg("client closed")
}

type natsChannel struct {
	client  *NATSClient
	subject string
	sub     *nats.Subscription

	mu     sync.Mutex
	closed bool
}

func (ch *natsChannel) Post(data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrClosed
	}
	if max := ch.MaxPayload(); max > 0 && len(data) > max {
		return fmt.Errorf("nats publish %s: %d bytes over max_payload %d: %w", ch.subject, len(data), max, ErrTooLarge)
	}
	if err := ch.client.conn.Publish(ch.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", ch.subject, err)
	}
	// Flush so a LEAVE posted right before Close reaches the server.
	if err := ch.client.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush %s: %w", ch.subject, err)
	}
	return nil
}

// MaxPayload is the max_payload the server announced on connect.
func (ch *natsChannel) MaxPayload() int {
	return int(ch.client.conn.MaxPayload())
}

func (ch *natsChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	ch.client.mu.Lock()
	delete(ch.client.subs, ch)
	ch.client.mu.Unlock()

	if err := ch.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", ch.subject, err)
	}
	return nil
}
