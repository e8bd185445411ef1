package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitized_StripsCredential(t *testing.T) {
	u := User{ID: "user_1", Name: "Alice", Password: "secret", Coins: 5}
	s := u.Sanitized()
	if s.Password != "" {
		t.Fatalf("expected empty password, got %q", s.Password)
	}
	if u.Password != "secret" {
		t.Error("Sanitized must not modify the receiver")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "password") {
		t.Errorf("expected no password field in %s", data)
	}
}

func TestNameKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Bob", "bob"},
		{"  DYLAN2408R2 ", "dylan2408r2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NameKey(tt.in); got != tt.want {
			t.Errorf("NameKey(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestNewSystemMessage(t *testing.T) {
	m := NewSystemMessage("hello")
	if !m.IsSystem || m.SenderID != SystemSenderID {
		t.Errorf("expected system message, got %+v", m)
	}
	if m.ID == "" || m.Timestamp == 0 {
		t.Errorf("expected id and timestamp, got %+v", m)
	}
	other := NewSystemMessage("hello")
	if other.ID == m.ID {
		t.Error("expected distinct message ids")
	}
}

func TestMessage_WireFormat(t *testing.T) {
	m := Message{
		ID: "m1", SenderID: "user_1", Content: "Sent a sticker", Timestamp: 42,
		StickerURL: "https://example.com/s.gif",
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"m1","senderId":"user_1","content":"Sent a sticker","timestamp":42,"stickerUrl":"https://example.com/s.gif"}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}
