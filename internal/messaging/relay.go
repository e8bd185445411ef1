package messaging

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/logx"
)

// RelayConfig holds the relay client settings.
type RelayConfig struct {
	URL           string        // ws://localhost:8090/ws
	DialTimeout   time.Duration // handshake timeout
	MaxFrameBytes int           // must not exceed the server's frame cap
}

// DefaultRelayConfig returns sensible defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           "ws://localhost:8090/ws",
		DialTimeout:   5 * time.Second,
		MaxFrameBytes: 4 << 20,
	}
}

// RelayClient is a Transport that reaches other tabs through the WebSocket
// relay server. Each Open dials its own connection; the relay never echoes a
// frame back to the connection that sent it.
type RelayClient struct {
	config RelayConfig
	log    zerolog.Logger
}

// NewRelayClient returns a relay transport. No connection is made until Open.
func NewRelayClient(config RelayConfig) *RelayClient {
	return &RelayClient{config: config, log: logx.Component("relay-client")}
}

// Open dials the relay for the named channel and starts reading frames.
func (r *RelayClient) Open(name string, handler Handler) (Channel, error) {
	u, err := url.Parse(r.config.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid url %q: %w", r.config.URL, err)
	}
	q := u.Query()
	q.Set("channel", name)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.DialTimeout)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", u.Redacted(), err)
	}

	ch := &relayChannel{
		conn:     conn,
		maxFrame: r.config.MaxFrameBytes,
		log:      r.log.With().Str("channel", name).Logger(),
		done:     make(chan struct{}),
	}
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	go ch.readLoop(src, handler)

	r.log.Info().Str("channel", name).Str("url", u.Redacted()).Msg("connected")
	return ch, nil
}

type relayChannel struct {
	conn     net.Conn
	maxFrame int
	writeMu  sync.Mutex // serializes frames from Post and control replies
	log      zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Write lets the control frame handler reply to pings under writeMu.
func (ch *relayChannel) Write(p []byte) (int, error) {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.Write(p)
}

func (ch *relayChannel) Post(data []byte) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}
	if ch.maxFrame > 0 && len(data) > ch.maxFrame {
		return fmt.Errorf("relay: %d byte frame over %d: %w", len(data), ch.maxFrame, ErrTooLarge)
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(ch.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

// MaxPayload is the configured frame cap.
func (ch *relayChannel) MaxPayload() int {
	return ch.maxFrame
}

func (ch *relayChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.writeMu.Lock()
		_ = wsutil.WriteClientMessage(ch.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}

func (ch *relayChannel) readLoop(src io.Reader, handler Handler) {
	rw := struct {
		io.Reader
		io.Writer
	}{src, ch}

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			select {
			case <-ch.done:
			default:
				ch.log.Warn().Err(err).Msg("read failed, live updates stopped")
			}
			return
		}
		if op != ws.OpText {
			continue
		}
		handler(data)
	}
}
