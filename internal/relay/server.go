// Package relay is a WebSocket fan-out server that lets tabs in different
// processes share a broadcast channel. A connection joins the channel named
// in its "channel" query parameter; every text frame it sends is written to
// all other connections on that channel in the order received.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/metrics"
	"github.com/nexus/chat-app/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the relay.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8090"
	MaxConnections int           // hard cap on total connections
	MaxFrameBytes  int64         // frames larger than this close the connection
	WriteTimeout   time.Duration // per-frame write timeout
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults. The frame
// cap leaves room for a 2 MB attachment after base64 encoding.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8090",
		MaxConnections: 10000,
		MaxFrameBytes:  4 << 20,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket and relays frames between the
// connections of each channel. Every connection is served by its own
// goroutine.
type Server struct {
	config     ServerConfig
	conns      *ConnectionManager
	limiter    *ratelimit.Limiter // nil disables rate limiting
	httpServer *http.Server
	log        zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time
}

// NewServer creates a Server. limiter may be nil.
func NewServer(config ServerConfig, limiter *ratelimit.Limiter) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		limiter:   limiter,
		log:       logx.Component("relay"),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Router returns the HTTP routes of the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleUpgrade)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start runs the heartbeat and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Router(),
	}

	StartHeartbeat(s, s.config.Heartbeat)

	s.log.Info().
		Str("listen_addr", s.config.ListenAddr).
		Int("max_connections", s.config.MaxConnections).
		Msg("relay listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay: http server error: %w", err)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ok, _ := s.limiter.Allow(r.Context(), ip, ratelimit.RuleConnect); !ok {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.NewString(), channel, conn)
	s.conns.Add(c)
	metrics.RelayConnections.Inc()
	s.log.Info().Str("conn", c.ID).Str("channel", channel).Int("total", s.conns.Count()).Msg("new connection")

	go s.serve(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Channels    int    `json:"channels"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Channels:    s.conns.Channels(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serve reads frames from c until it fails or closes. Control frames are
// answered in place; text frames are fanned out.
func (s *Server) serve(c *Connection) {
	defer s.RemoveConnection(c)

	controlHandler := wsutil.ControlFrameHandler(c, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: controlHandler,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		c.touch()

		if hdr.OpCode.IsControl() {
			if err := controlHandler(hdr, rd); err != nil {
				return
			}
			continue
		}
		if hdr.Length > s.config.MaxFrameBytes {
			s.log.Warn().Str("conn", c.ID).Int64("length", hdr.Length).Msg("frame too large")
			return
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return
		}
		metrics.RelayFramesTotal.WithLabelValues("in").Inc()

		if s.limiter != nil {
			if ok, _ := s.limiter.Allow(context.Background(), c.ID, ratelimit.RuleFrame); !ok {
				metrics.RelayFramesTotal.WithLabelValues("limited").Inc()
				continue
			}
		}
		s.fanout(c, data)
	}
}

// fanout writes data to every other connection on the sender's channel.
func (s *Server) fanout(from *Connection, data []byte) {
	start := time.Now()
	for _, peer := range s.conns.Peers(from.Channel, from.ID) {
		if err := peer.WriteMessage(data, s.config.WriteTimeout); err != nil {
			s.log.Warn().Err(err).Str("conn", peer.ID).Msg("write failed")
			s.RemoveConnection(peer)
			continue
		}
		metrics.RelayFramesTotal.WithLabelValues("out").Inc()
	}
	metrics.RelayFanoutLatency.Observe(time.Since(start).Seconds())
}

// RemoveConnection unregisters and closes c. Concurrent calls for the same
// connection are safe; only the first has an effect.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.RelayConnections.Dec()
	s.log.Info().Str("conn", c.ID).Str("channel", c.Channel).Int("total", s.conns.Count()).Msg("connection closed")
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and the heartbeat and closes every
// connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down relay")
	s.closeOnce.Do(func() { close(s.done) })

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown error")
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	s.log.Info().Msg("relay stopped, all connections closed")
	return err
}
