// Package chat is the per-tab chat controller. A Session owns the tab's view
// of the message history and of who is online, connects to the bus for the
// logged-in user and turns user input into messages or commands.
//
// Mistakes a user can make (unknown user, bad arguments, missing permission,
// oversized file) are reported through the Notifier and are not errors.
// Methods only return errors for infrastructure failures.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/bus"
	"github.com/nexus/chat-app/internal/errs"
	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/metrics"
	"github.com/nexus/chat-app/internal/model"
	"github.com/nexus/chat-app/internal/presence"
	"github.com/nexus/chat-app/internal/store"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Notifier shows a message to the user.
type Notifier func(msg string)

// EventKind says what changed in the view.
type EventKind int

const (
	EventMessage EventKind = iota
	EventPresence
	EventSelf
	EventCleared
)

// Event describes a view change for renderers.
type Event struct {
	Kind     EventKind
	Message  *model.Message
	User     *model.User
	Presence presence.Kind
}

// Option configures a Session.
type Option func(*Session)

// WithNotifier sets the sink for user-visible errors.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notify = n }
}

// Session is one tab's chat view.
type Session struct {
	store  *store.Store
	bus    *bus.Bus
	notify Notifier
	log    zerolog.Logger

	state atomic.Int32

	mu       sync.Mutex
	self     model.User
	messages []model.Message
	seen     map[string]struct{}
	conn     *bus.Conn

	online *presence.Map

	subsMu sync.RWMutex
	subs   []func(Event)
}

// NewSession prepares a session for user. Nothing is loaded or connected
// until Mount.
func NewSession(st *store.Store, b *bus.Bus, user model.User, opts ...Option) *Session {
	s := &Session{
		store:  st,
		bus:    b,
		notify: func(string) {},
		log:    logx.Component("chat").With().Str("user", user.Name).Logger(),
		self:   user.Sanitized(),
		seen:   make(map[string]struct{}),
		online: presence.NewMap(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Mount loads the stored history, marks the user online in the local view
// and connects to the bus. Cancelling ctx later disconnects the bus the same
// way closing the tab would.
func (s *Session) Mount(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("chat: mount in state %s", s.State())
	}

	history := s.store.GetMessages(ctx)
	s.mu.Lock()
	s.messages = s.messages[:0]
	s.seen = make(map[string]struct{}, len(history))
	for _, m := range history {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	self := s.self
	s.mu.Unlock()

	s.online.Reset()
	s.online.Apply(self, presence.Join, model.NowMillis())
	metrics.OnlineUsers.Set(float64(s.online.Len()))

	conn, err := s.bus.Connect(ctx, self, s.receive, s.presenceChanged)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("chat: connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	// Catch any self update that arrived while connecting.
	conn.SetSelf(s.self)
	s.mu.Unlock()

	s.state.Store(int32(StateConnected))
	s.log.Info().Int("history", len(history)).Msg("mounted")
	return nil
}

// Unmount says LEAVE and closes the bus connection.
func (s *Session) Unmount() error {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.state.Store(int32(StateDisconnected))
	s.log.Info().Msg("unmounted")
	return err
}

// Subscribe registers fn for view changes. fn runs on the goroutine that
// caused the change and must not block.
func (s *Session) Subscribe(fn func(Event)) {
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

// Self returns the logged-in user as currently known, including balance
// changes made by the operator.
func (s *Session) Self() model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Messages returns a copy of the visible message list.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// OnlineUsers returns the users this tab believes are online.
func (s *Session) OnlineUsers() []model.User {
	return s.online.Online()
}

// Submit handles one line of user input. Input starting with "/" is tried as
// a command first; anything else, including unrecognized commands, is sent as
// a chat message.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		handled, err := s.runCommand(ctx, text)
		if handled || err != nil {
			return err
		}
	}
	return s.send(ctx, model.NewMessage(s.Self().ID, text))
}

// ClearHistory removes the stored history and empties this tab's list. Other
// tabs keep theirs.
func (s *Session) ClearHistory(ctx context.Context) {
	s.store.ClearMessages(ctx)
	s.mu.Lock()
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
	s.emit(Event{Kind: EventCleared})
}

// send appends msg optimistically and hands it to the bus, which persists it
// before broadcasting.
func (s *Session) send(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errs.NewError(errs.ErrTransportClose)
	}

	s.appendMessage(msg)
	if err := conn.SendMessage(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("broadcast failed")
		return fmt.Errorf("chat: send: %w", err)
	}
	return nil
}

// receive is the bus message callback.
func (s *Session) receive(msg model.Message) {
	s.appendMessage(msg)
}

func (s *Session) appendMessage(msg model.Message) {
	s.mu.Lock()
	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, Message: &msg})
}

// presenceChanged is the bus presence callback.
func (s *Session) presenceChanged(u model.User, kind presence.Kind, ts int64) {
	s.mu.Lock()
	selfID := s.self.ID
	s.mu.Unlock()

	// Another tab of the same account leaving does not take this one offline.
	if kind == presence.Leave && u.ID == selfID {
		return
	}
	if !s.online.Apply(u, kind, ts) {
		return
	}
	metrics.OnlineUsers.Set(float64(s.online.Len()))
	s.emit(Event{Kind: EventPresence, User: &u, Presence: kind})

	if u.ID == selfID {
		s.updateSelf(u)
	}
}

// patchPresence applies a local edit of an online user's record without
// touching the timestamp the entry was observed at.
func (s *Session) patchPresence(u model.User) {
	if !s.online.Patch(u) {
		return
	}
	s.emit(Event{Kind: EventPresence, User: &u, Presence: presence.Update})

	s.mu.Lock()
	isSelf := u.ID == s.self.ID
	s.mu.Unlock()
	if isSelf {
		s.updateSelf(u)
	}
}

// updateSelf merges a remote record of this tab's user. The role claim is
// local and never taken from the bus.
func (s *Session) updateSelf(u model.User) {
	s.mu.Lock()
	u.Role = s.self.Role
	u.Password = ""
	u.IsOnline = true
	s.self = u
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.SetSelf(u)
	}
	s.emit(Event{Kind: EventSelf, User: &u})
}

func (s *Session) emit(e Event) {
	s.subsMu.RLock()
	subs := s.subs
	s.subsMu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
