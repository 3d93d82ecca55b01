package ingress

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bigkaa/worklog/internal/domain/mediakind"
	"github.com/bigkaa/worklog/internal/telegram"
)

// Kind - вид входящего обновления.
type Kind string

const (
	KindStart        Kind = "start_command"
	KindHelp         Kind = "help_command"
	KindCancel       Kind = "cancel_command"
	KindPlainText    Kind = "plain_text"
	KindPrivateMedia Kind = "private_media"
	KindMedia        Kind = "media"
	KindCallback     Kind = "inline_callback"
	KindReaction     Kind = "reaction"
	KindForumEvent   Kind = "forum_event"
	KindForward      Kind = "forward"
	KindIgnored      Kind = "ignored"
)

// Classify определяет вид обновления.
func Classify(u *telegram.Update) Kind {
	switch {
	case u.CallbackQuery != nil:
		if u.CallbackQuery.From == nil {
			return KindIgnored
		}
		return KindCallback
	case u.MessageReaction != nil:
		if u.MessageReaction.User == nil || u.MessageReaction.Chat == nil {
			return KindIgnored
		}
		return KindReaction
	case u.Message == nil:
		// Правки сообщений не меняют уже принятые медиа.
		return KindIgnored
	}

	msg := u.Message
	if msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return KindIgnored
	}
	if msg.IsForumEvent() {
		return KindForumEvent
	}

	switch {
	case msg.IsPrivate():
		return classifyPrivate(msg)
	case msg.IsSupergroup():
		if msg.IsForwarded() {
			return KindForward
		}
		if cmd, _ := msg.Command(); cmd != "" {
			return KindIgnored
		}
		if _, ok := Extract(msg); ok {
			return KindMedia
		}
	}
	return KindIgnored
}

func classifyPrivate(msg *telegram.Message) Kind {
	if cmd, _ := msg.Command(); cmd != "" {
		switch strings.ToLower(cmd) {
		case "start":
			return KindStart
		case "cancel":
			return KindCancel
		default:
			return KindHelp
		}
	}
	if msg.Contact != nil || strings.TrimSpace(msg.Text) != "" {
		return KindPlainText
	}
	return KindPrivateMedia
}

// Extracted - вложение сообщения в виде, пригодном для приёма.
type Extracted struct {
	Kind         mediakind.Kind
	FileID       string
	FileUniqueID string
	ThumbFileID  string
	FileName     string
	MimeType     string
	FileSize     int64
	Duration     int
	Text         string
}

// Extract выделяет из сообщения медиа или текст. Для фото берётся
// наибольший размер. ok = false, если принимать нечего.
func Extract(msg *telegram.Message) (Extracted, bool) {
	ex := Extracted{Text: msg.Caption}
	switch {
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		ex.Kind = mediakind.Photo
		ex.FileID, ex.FileUniqueID, ex.FileSize = p.FileID, p.FileUniqueID, int64(p.FileSize)
		ex.MimeType = "image/jpeg"
	case msg.Video != nil:
		v := msg.Video
		ex.Kind = mediakind.Video
		ex.FileID, ex.FileUniqueID, ex.FileSize = v.FileID, v.FileUniqueID, int64(v.FileSize)
		ex.FileName, ex.MimeType, ex.Duration = v.FileName, v.MimeType, v.Duration
		if th := v.Thumb(); th != nil {
			ex.ThumbFileID = th.FileID
		}
	case msg.Voice != nil:
		v := msg.Voice
		ex.Kind = mediakind.Voice
		ex.FileID, ex.FileUniqueID, ex.FileSize = v.FileID, v.FileUniqueID, int64(v.FileSize)
		ex.MimeType, ex.Duration = v.MimeType, v.Duration
	case msg.Audio != nil:
		a := msg.Audio
		ex.Kind = mediakind.Audio
		ex.FileID, ex.FileUniqueID, ex.FileSize = a.FileID, a.FileUniqueID, int64(a.FileSize)
		ex.FileName, ex.MimeType, ex.Duration = a.FileName, a.MimeType, a.Duration
	case msg.Document != nil:
		d := msg.Document
		ex.Kind = mediakind.Document
		ex.FileID, ex.FileUniqueID, ex.FileSize = d.FileID, d.FileUniqueID, int64(d.FileSize)
		ex.FileName, ex.MimeType = d.FileName, d.MimeType
	case strings.TrimSpace(msg.Text) != "":
		ex.Kind = mediakind.Text
		ex.Text = msg.Text
	default:
		return Extracted{}, false
	}
	return ex, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}
