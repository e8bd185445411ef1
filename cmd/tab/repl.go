package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nexus/chat-app/internal/chat"
	"github.com/nexus/chat-app/internal/model"
	"github.com/nexus/chat-app/internal/presence"
)

const help = `Commands:
  /sticker <1-5>              send a sticker
  /attach <path>              send an image or video (max 2 MB)
  /clear                      clear the chat history
  /who                        list online users
  /coins set <name> <amount>  set a balance (operator only)
  /quit                       close the tab`

// run mounts a chat session for u and drives it from stdin until /quit, EOF,
// or ctx is cancelled.
func (a *app) run(ctx context.Context, u model.User) error {
	if err := a.openTransport(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := chat.NewSession(a.store, a.newBus(), u, chat.WithNotifier(alert))

	// Rendering happens on its own goroutine so a panic while drawing can be
	// caught and turned into the recovery prompt.
	events := make(chan chat.Event, 256)
	crashed := make(chan any, 1)
	sess.Subscribe(func(e chat.Event) {
		select {
		case events <- e:
		default:
		}
	})

	r := &renderer{store: a.store, sess: sess}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				crashed <- p
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				r.render(ctx, e)
			}
		}
	}()

	if err := sess.Mount(ctx); err != nil {
		return err
	}
	defer sess.Unmount()

	r.banner(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for stdin.Scan() {
			lines <- stdin.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return nil
		case p := <-crashed:
			return a.offerWipe(ctx, sess, p, lines)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.safeHandleLine(ctx, sess, r, line, crashed)
			if err != nil {
				alert(err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

// safeHandleLine runs handleLine, reporting a panic on crashed so the loop
// can offer recovery instead of dying.
func (a *app) safeHandleLine(ctx context.Context, sess *chat.Session, r *renderer, line string, crashed chan<- any) (quit bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			select {
			case crashed <- p:
			default:
			}
		}
	}()
	return a.handleLine(ctx, sess, r, line)
}

// handleLine runs the local verbs and hands everything else to the session.
func (a *app) handleLine(ctx context.Context, sess *chat.Session, r *renderer, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "/quit":
		return true, nil
	case "/help":
		fmt.Println(help)
		return false, nil
	case "/who":
		r.who()
		return false, nil
	case "/clear":
		sess.ClearHistory(ctx)
		return false, nil
	case "/sticker":
		if len(fields) != 2 {
			fmt.Println("Usage: /sticker <1-5>")
			return false, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(chat.Stickers) {
			fmt.Printf("Pick a sticker between 1 and %d.\n", len(chat.Stickers))
			return false, nil
		}
		return false, sess.SendSticker(ctx, chat.Stickers[n-1])
	case "/attach":
		path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if path == "" {
			fmt.Println("Usage: /attach <path>")
			return false, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return false, fmt.Errorf("read attachment: %w", err)
		}
		return false, sess.SendAttachment(ctx, filepath.Base(path), detectMIME(path, data), data)
	}
	return false, sess.Submit(ctx, line)
}

// offerWipe shows the crash and offers to erase all local data, which is the
// only way out of a corrupted store.
func (a *app) offerWipe(ctx context.Context, sess *chat.Session, p any, lines <-chan string) error {
	_ = sess.Unmount()
	fmt.Printf("\n💥 The tab crashed: %v\n", p)
	fmt.Print("Wipe all local data (accounts, history, session)? [y/N] ")

	select {
	case <-ctx.Done():
	case line := <-lines:
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			a.store.Wipe(ctx)
			fmt.Println("Local data erased. Start the tab again to continue.")
		}
	}
	return fmt.Errorf("tab crashed: %v", p)
}

func detectMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

type renderer struct {
	store interface {
		GetUsers(ctx context.Context) map[string]model.User
	}
	sess *chat.Session
}

func (r *renderer) banner(ctx context.Context) {
	self := r.sess.Self()
	role := ""
	if self.IsOperator() {
		role = " (operator)"
	}
	fmt.Printf("Logged in as %s%s, %d coins. Type /help for commands.\n", self.Name, role, self.Coins)
	for _, m := range r.sess.Messages() {
		r.message(ctx, m)
	}
}

func (r *renderer) render(ctx context.Context, e chat.Event) {
	switch e.Kind {
	case chat.EventMessage:
		r.message(ctx, *e.Message)
	case chat.EventPresence:
		switch e.Presence {
		case presence.Join:
			fmt.Printf("\n→ %s joined\n", e.User.Name)
		case presence.Leave:
			fmt.Printf("\n← %s left\n", e.User.Name)
		}
	case chat.EventSelf:
		fmt.Printf("\n💰 Your balance is now %d coins.\n", e.User.Coins)
	case chat.EventCleared:
		fmt.Println("\nHistory cleared.")
	}
}

func (r *renderer) message(ctx context.Context, m model.Message) {
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	if m.IsSystem {
		fmt.Printf("\n[%s] %s\n", ts, m.Content)
		return
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, r.senderName(ctx, m.SenderID), m.Content)
	switch {
	case m.StickerURL != "":
		line += " " + m.StickerURL
	case m.Attachment != nil:
		line += fmt.Sprintf(" (%s, %d bytes inline)", m.Attachment.Name, len(m.Attachment.URL))
	}
	fmt.Printf("\n%s\n", line)
}

func (r *renderer) senderName(ctx context.Context, id string) string {
	for _, u := range r.sess.OnlineUsers() {
		if u.ID == id {
			return u.Name
		}
	}
	for _, u := range r.store.GetUsers(ctx) {
		if u.ID == id {
			return u.Name
		}
	}
	return "Unknown"
}

func (r *renderer) who() {
	users := r.sess.OnlineUsers()
	fmt.Printf("%d online:\n", len(users))
	for _, u := range users {
		fmt.Printf("  %-20s %6d coins\n", u.Name, u.Coins)
	}
}
