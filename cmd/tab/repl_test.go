package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexus/chat-app/internal/bus"
	"github.com/nexus/chat-app/internal/chat"
	"github.com/nexus/chat-app/internal/kv"
	"github.com/nexus/chat-app/internal/messaging"
	"github.com/nexus/chat-app/internal/model"
	"github.com/nexus/chat-app/internal/store"
)

func newTestTab(t *testing.T) (*app, *chat.Session, *renderer) {
	t.Helper()
	st := store.New(kv.NewMemory(0))
	u := model.User{ID: model.NewUserID(), Name: "alice"}
	sess := chat.NewSession(st, bus.New(messaging.NewHub(), st, "test"), u)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := sess.Mount(ctx); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { _ = sess.Unmount() })
	return &app{store: st}, sess, &renderer{store: st, sess: sess}
}

func TestHandleLine_Verbs(t *testing.T) {
	a, sess, r := newTestTab(t)
	ctx := context.Background()

	quit, err := a.handleLine(ctx, sess, r, "/quit")
	if err != nil || !quit {
		t.Fatalf("expected /quit to quit, got quit=%v err=%v", quit, err)
	}

	for _, line := range []string{"", "   ", "/sticker", "/sticker 0", "/sticker 9", "/sticker x", "/attach", "/who", "/help"} {
		if quit, err := a.handleLine(ctx, sess, r, line); quit || err != nil {
			t.Errorf("%q: expected no-op, got quit=%v err=%v", line, quit, err)
		}
	}
	if n := len(sess.Messages()); n != 0 {
		t.Fatalf("expected no messages from local verbs, got %d", n)
	}

	if _, err := a.handleLine(ctx, sess, r, "/sticker 2"); err != nil {
		t.Fatalf("/sticker 2: %v", err)
	}
	if _, err := a.handleLine(ctx, sess, r, "hello there"); err != nil {
		t.Fatalf("text: %v", err)
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].StickerURL != chat.Stickers[1] {
		t.Errorf("expected second sticker, got %q", msgs[0].StickerURL)
	}
	if msgs[1].Content != "hello there" {
		t.Errorf("unexpected content %q", msgs[1].Content)
	}

	if _, err := a.handleLine(ctx, sess, r, "/clear"); err != nil {
		t.Fatalf("/clear: %v", err)
	}
	if n := len(sess.Messages()); n != 0 {
		t.Errorf("expected empty view after /clear, got %d", n)
	}
}

func TestHandleLine_Attach(t *testing.T) {
	a, sess, r := newTestTab(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cat picture.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.handleLine(ctx, sess, r, "/attach "+path); err != nil {
		t.Fatalf("/attach: %v", err)
	}
	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Attachment == nil {
		t.Fatalf("expected one attachment message, got %+v", msgs)
	}
	if got := msgs[0].Attachment; got.Name != "cat picture.png" || got.Type != model.AttachmentImage {
		t.Errorf("unexpected attachment %+v", got)
	}

	if _, err := a.handleLine(ctx, sess, r, "/attach "+filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		path string
		data []byte
		want string
	}{
		{"photo.png", nil, "image/png"},
		{"noext", []byte("GIF89a......"), "image/gif"},
	}
	for _, tt := range tests {
		if got := detectMIME(tt.path, tt.data); got != tt.want {
			t.Errorf("detectMIME(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
