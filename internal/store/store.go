// Package store is the tab-local database: users, the bounded message history
// and the session marker, serialized as JSON into a kv.Storage.
//
// Storage is treated as an unreliable cache. No method returns an error; read
// failures degrade to empty results and write failures are logged (and, for
// user records, surfaced through the alert callback).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexus/chat-app/internal/errs"
	"github.com/nexus/chat-app/internal/kv"
	"github.com/nexus/chat-app/internal/logx"
	"github.com/nexus/chat-app/internal/model"
)

// Storage keys.
const (
	KeyUsers    = "nexus_db_users"
	KeyMessages = "nexus_db_messages"
	KeySession  = "nexus_session"
)

// MaxMessages is the number of most recent messages kept in history.
const MaxMessages = 50

// AttachmentPlaceholder replaces the content of a message whose attachment
// had to be dropped to fit in storage.
const AttachmentPlaceholder = "⚠️ (attachment not saved: storage full)"

// Store reads and writes the chat tables.
type Store struct {
	kv    kv.Storage
	mu    sync.Mutex // serializes read-modify-write cycles of this tab
	log   zerolog.Logger
	alert func(msg string)
}

// Option configures a Store.
type Option func(*Store)

// WithAlert sets the callback used to show storage warnings to the user.
func WithAlert(fn func(msg string)) Option {
	return func(s *Store) { s.alert = fn }
}

// New returns a Store over the given storage.
func New(storage kv.Storage, opts ...Option) *Store {
	s := &Store{
		kv:    storage,
		log:   logx.Component("store"),
		alert: func(string) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUsers returns all users keyed by lower-cased name.
func (s *Store) GetUsers(ctx context.Context) map[string]model.User {
	users := make(map[string]model.User)
	if !s.read(ctx, KeyUsers, &users) || users == nil {
		return make(map[string]model.User)
	}
	return users
}

// SaveUser inserts or replaces the user under its lower-cased name.
func (s *Store) SaveUser(ctx context.Context, u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.GetUsers(ctx)
	users[u.Key()] = u
	if err := s.write(ctx, KeyUsers, users); err != nil {
		s.log.Error().Err(err).Str("user", u.Name).Msg("save user failed")
		s.alert(errs.NewError(errs.ErrStorageFailed).Message)
	}
}

// FindUser looks a user up by name, ignoring case.
func (s *Store) FindUser(ctx context.Context, name string) (model.User, bool) {
	u, ok := s.GetUsers(ctx)[model.NameKey(name)]
	return u, ok
}

// UpdateUserCoins sets the coin balance of an existing user to amount. It
// returns false and writes nothing if the user does not exist, and returns
// false if the write fails.
func (s *Store) UpdateUserCoins(ctx context.Context, name string, amount int) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.GetUsers(ctx)
	key := model.NameKey(name)
	u, ok := users[key]
	if !ok {
		return model.User{}, false
	}
	u.Coins = amount
	users[key] = u
	if err := s.write(ctx, KeyUsers, users); err != nil {
		s.log.Error().Err(err).Str("user", u.Name).Msg("update coins failed")
		s.alert(errs.NewError(errs.ErrStorageFailed).Message)
		return model.User{}, false
	}
	return u, true
}

// GetMessages returns the stored history, oldest first.
func (s *Store) GetMessages(ctx context.Context) []model.Message {
	var msgs []model.Message
	if !s.read(ctx, KeyMessages, &msgs) || msgs == nil {
		return []model.Message{}
	}
	return msgs
}

// SaveMessage appends msg to the history and keeps the newest MaxMessages.
// If the write fails and msg carries an attachment, it is retried once with
// the attachment stripped. A second failure drops msg from history.
func (s *Store) SaveMessage(ctx context.Context, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.GetMessages(ctx)
	err := s.write(ctx, KeyMessages, truncate(append(history, msg)))
	if err == nil {
		return
	}

	if msg.Attachment == nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message dropped from history")
		return
	}

	s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("retrying save without attachment")
	stripped := msg
	stripped.Attachment = nil
	stripped.Content = AttachmentPlaceholder
	if err := s.write(ctx, KeyMessages, truncate(append(history, stripped))); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message dropped from history")
	}
}

// ClearMessages removes the stored history.
func (s *Store) ClearMessages(ctx context.Context) {
	if err := s.kv.RemoveItem(ctx, KeyMessages); err != nil {
		s.log.Error().Err(err).Msg("clear messages failed")
	}
}

// GetSession returns the user of the last login, if any.
func (s *Store) GetSession(ctx context.Context) (model.User, bool) {
	var u model.User
	if !s.read(ctx, KeySession, &u) || u.ID == "" {
		return model.User{}, false
	}
	return u, true
}

// SetSession records u as the logged-in user. The credential is not stored.
func (s *Store) SetSession(ctx context.Context, u model.User) {
	if err := s.write(ctx, KeySession, u.Sanitized()); err != nil {
		s.log.Error().Err(err).Str("user", u.Name).Msg("save session failed")
	}
}

// ClearSession removes the session marker.
func (s *Store) ClearSession(ctx context.Context) {
	if err := s.kv.RemoveItem(ctx, KeySession); err != nil {
		s.log.Error().Err(err).Msg("clear session failed")
	}
}

// Wipe removes every key owned by the store.
func (s *Store) Wipe(ctx context.Context) {
	for _, key := range []string{KeyUsers, KeyMessages, KeySession} {
		if err := s.kv.RemoveItem(ctx, key); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("wipe failed")
		}
	}
}

// read decodes key into v. It returns false when the key is missing or
// unreadable.
func (s *Store) read(ctx context.Context, key string, v any) bool {
	data, err := s.kv.GetItem(ctx, key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("key", key).Msg("read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt value ignored")
		return false
	}
	return true
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.SetItem(ctx, key, data)
}

func truncate(msgs []model.Message) []model.Message {
	if len(msgs) > MaxMessages {
		return msgs[len(msgs)-MaxMessages:]
	}
	return msgs
}
