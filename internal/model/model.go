// Package model holds the records shared by the store, the bus and the chat
// session: users and chat messages, in their JSON wire form.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemSenderID is the sender of messages generated by the chat itself.
const SystemSenderID = "system"

// RoleOperator grants access to privileged slash commands.
const RoleOperator = "operator"

// User is a registered account. Password is only ever held by the local store
// and is stripped before the record leaves the tab.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Color     string `json:"color"`
	IsOnline  bool   `json:"isOnline"`
	Coins     int    `json:"coins"`
	Role      string `json:"role,omitempty"`
}

// Key is the case-insensitive lookup key of the user's name.
func (u User) Key() string {
	return NameKey(u.Name)
}

// Sanitized returns a copy without the credential.
func (u User) Sanitized() User {
	u.Password = ""
	return u
}

// IsOperator reports whether the user holds the operator capability.
func (u User) IsOperator() bool {
	return u.Role == RoleOperator
}

// NameKey normalizes a user name for storage lookups.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewUserID returns a fresh user id.
func NewUserID() string {
	return "user_" + uuid.NewString()
}

// Attachment kinds.
const (
	AttachmentImage = "image"
	AttachmentVideo = "video"
)

// Attachment is an inline media payload. URL is a data: reference.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Message is a single chat line. Content is always set and doubles as the
// fallback label for stickers and attachments.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	Content    string      `json:"content"`
	Timestamp  int64       `json:"timestamp"` // unix ms
	IsSystem   bool        `json:"isSystem,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	StickerURL string      `json:"stickerUrl,omitempty"`
}

// NewMessage builds a message from sender with a fresh id and the current
// time.
func NewMessage(senderID, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// NewSystemMessage builds a message attributed to the chat itself.
func NewSystemMessage(content string) Message {
	m := NewMessage(SystemSenderID, content)
	m.IsSystem = true
	return m
}

// NowMillis returns the current unix time in milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
