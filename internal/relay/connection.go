package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one tab's WebSocket connection to the relay.
type Connection struct {
	ID        string    // connection ID (UUID)
	Channel   string    // broadcast channel this connection joined
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastSeen atomic.Int64 // unix nanos of the last frame read
	writeMu  sync.Mutex   // serializes writes to this connection
}

func newConnection(id, channel string, conn net.Conn) *Connection {
	c := &Connection{ID: id, Channel: channel, Conn: conn, CreatedAt: time.Now()}
	c.touch()
	return c
}

// LastSeen returns the time of the last frame received on the connection.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// WriteMessage sends a text frame. A positive timeout bounds the write.
func (c *Connection) WriteMessage(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Write implements io.Writer under the write mutex, for control frame replies
// produced while reading.
func (c *Connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.Write(p)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of connections indexed by ID and
// by channel.
type ConnectionManager struct {
	mu        sync.RWMutex
	byID      map[string]*Connection
	byChannel map[string]map[string]*Connection // channel -> id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:      make(map[string]*Connection),
		byChannel: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	peers, ok := cm.byChannel[conn.Channel]
	if !ok {
		peers = make(map[string]*Connection)
		cm.byChannel[conn.Channel] = peers
	}
	peers[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters and closes the connection. It returns false if the
// connection was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		peers := cm.byChannel[conn.Channel]
		delete(peers, id)
		if len(peers) == 0 {
			delete(cm.byChannel, conn.Channel)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection with the given ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// Count returns the number of registered connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// Channels returns the number of channels with at least one connection.
func (cm *ConnectionManager) Channels() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byChannel)
}

// Peers returns a snapshot of the connections on channel, excluding the one
// with ID except.
func (cm *ConnectionManager) Peers(channel, except string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	peers := cm.byChannel[channel]
	out := make([]*Connection, 0, len(peers))
	for id, c := range peers {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

// All returns a snapshot of every connection.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		out = append(out, c)
	}
	return out
}
