package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/nexus/chat-app/internal/errs"
	"github.com/nexus/chat-app/internal/messaging"
	"github.com/nexus/chat-app/internal/model"
)

// MaxAttachmentBytes caps attachments so one file cannot exhaust the shared
// storage quota.
const MaxAttachmentBytes = 2 * 1024 * 1024

// StickerLabel is the content of sticker messages.
const StickerLabel = "Sent a sticker"

// Stickers is the built-in sticker set.
var Stickers = []string{
	"https://media.giphy.com/media/VzKu9VlK434g8/giphy.gif",      // creeper
	"https://media.giphy.com/media/Wp7gDqIuQO4t601ZqC/giphy.gif", // diamond
	"https://media.giphy.com/media/d1E2VyhFsxawRbeo/giphy.gif",   // steve dancing
	"https://media.giphy.com/media/kFgzrTt798d2w/giphy.gif",      // pig
	"https://media.giphy.com/media/139eZBmH1HTyPk8/giphy.gif",    // tnt
}

// SendSticker sends a sticker message.
func (s *Session) SendSticker(ctx context.Context, url string) error {
	msg := model.NewMessage(s.Self().ID, StickerLabel)
	msg.StickerURL = url
	return s.send(ctx, msg)
}

// SendAttachment sends data as an inline image or video attachment. Files
// over MaxAttachmentBytes are rejected with a notice.
func (s *Session) SendAttachment(ctx context.Context, name, mimeType string, data []byte) error {
	if len(data) > MaxAttachmentBytes {
		s.notify(errs.NewError(errs.ErrFileTooLarge, MaxAttachmentBytes/(1024*1024)).Message)
		return nil
	}

	kind := AttachmentKind(mimeType)
	content := "📎 Attached an image"
	if kind == model.AttachmentVideo {
		content = "📎 Attached a video"
	}

	msg := model.NewMessage(s.Self().ID, content)
	msg.Attachment = &model.Attachment{
		Type: kind,
		URL:  DataURL(mimeType, data),
		Name: name,
	}

	// The bus may cap payloads below MaxAttachmentBytes once base64 and the
	// event envelope are added (NATS defaults to 1 MB).
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		if err := conn.Fits(msg); errors.Is(err, messaging.ErrTooLarge) {
			s.notify(errs.NewError(errs.ErrTooLargeToSend, conn.MaxPayload()/1024).Message)
			return nil
		} else if err != nil {
			return err
		}
	}
	return s.send(ctx, msg)
}

// AttachmentKind maps a MIME type to an attachment kind. Everything that is
// not video/* is shown as an image.
func AttachmentKind(mimeType string) string {
	if strings.HasPrefix(strings.ToLower(mimeType), "video/") {
		return model.AttachmentVideo
	}
	return model.AttachmentImage
}

// DataURL encodes data as a base64 data: URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
