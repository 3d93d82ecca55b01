package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Типы обновлений Bot API, которых нет в tgbotapi v5.5.1: темы форума,
// реакции, message_thread_id. Вложенные сущности (User, Chat, PhotoSize,
// Voice, Document, Contact) берутся из tgbotapi.

// Update - входящее обновление.
type Update struct {
	UpdateID        int                     `json:"update_id"`
	Message         *Message                `json:"message,omitempty"`
	EditedMessage   *Message                `json:"edited_message,omitempty"`
	CallbackQuery   *CallbackQuery          `json:"callback_query,omitempty"`
	MessageReaction *MessageReactionUpdated `json:"message_reaction,omitempty"`
}

// ChatID возвращает чат, к которому относится обновление (0, если неизвестен).
func (u *Update) ChatID() int64 {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	case u.EditedMessage != nil && u.EditedMessage.Chat != nil:
		return u.EditedMessage.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.MessageReaction != nil && u.MessageReaction.Chat != nil:
		return u.MessageReaction.Chat.ID
	}
	return 0
}

// Message - сообщение с полями тем форума.
type Message struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool   `json:"is_topic_message,omitempty"`
	Date            int64  `json:"date"`
	MediaGroupID    string `json:"media_group_id,omitempty"`

	From *tgbotapi.User `json:"from,omitempty"`
	Chat *tgbotapi.Chat `json:"chat"`

	ForwardDate   int64           `json:"forward_date,omitempty"`
	ForwardFrom   *tgbotapi.User  `json:"forward_from,omitempty"`
	ForwardOrigin *ForwardOrigin  `json:"forward_origin,omitempty"`
	ReplyTo       *ReplyToMessage `json:"reply_to_message,omitempty"`

	Text     string                   `json:"text,omitempty"`
	Caption  string                   `json:"caption,omitempty"`
	Entities []tgbotapi.MessageEntity `json:"entities,omitempty"`

	Photo    []tgbotapi.PhotoSize `json:"photo,omitempty"`
	Video    *Video               `json:"video,omitempty"`
	Voice    *tgbotapi.Voice      `json:"voice,omitempty"`
	Audio    *Audio               `json:"audio,omitempty"`
	Document *tgbotapi.Document   `json:"document,omitempty"`
	Contact  *tgbotapi.Contact    `json:"contact,omitempty"`

	ForumTopicCreated  *ForumTopic `json:"forum_topic_created,omitempty"`
	ForumTopicEdited   *ForumTopic `json:"forum_topic_edited,omitempty"`
	ForumTopicClosed   *struct{}   `json:"forum_topic_closed,omitempty"`
	ForumTopicReopened *struct{}   `json:"forum_topic_reopened,omitempty"`
}

// ReplyToMessage - минимальная проекция сообщения, на которое ответили.
type ReplyToMessage struct {
	MessageID int64 `json:"message_id"`
}

// ForwardOrigin - источник пересылки (Bot API 7+).
type ForwardOrigin struct {
	Type string `json:"type"`
	Date int64  `json:"date"`
}

// ForumTopic - служебное событие темы форума.
type ForumTopic struct {
	Name string `json:"name"`
}

// Video - видео; превью приходит в "thumbnail" (новые версии) или "thumb".
type Video struct {
	tgbotapi.Video
	ThumbnailNew *tgbotapi.PhotoSize `json:"thumbnail,omitempty"`
}

// Thumb возвращает превью видео.
func (v *Video) Thumb() *tgbotapi.PhotoSize {
	if v.ThumbnailNew != nil {
		return v.ThumbnailNew
	}
	return v.Thumbnail
}

// Audio - аудиофайл с превью обложки.
type Audio struct {
	tgbotapi.Audio
	ThumbnailNew *tgbotapi.PhotoSize `json:"thumbnail,omitempty"`
}

// IsForwarded сообщает, что сообщение переслано из другого чата.
func (m *Message) IsForwarded() bool {
	return m.ForwardDate != 0 || m.ForwardFrom != nil || m.ForwardOrigin != nil
}

// IsPrivate сообщает, что сообщение пришло в личный чат с ботом.
func (m *Message) IsPrivate() bool {
	return m.Chat != nil && m.Chat.Type == "private"
}

// IsSupergroup сообщает, что сообщение пришло в супергруппу.
func (m *Message) IsSupergroup() bool {
	return m.Chat != nil && m.Chat.Type == "supergroup"
}

// IsForumEvent сообщает, что сообщение является служебным событием темы.
func (m *Message) IsForumEvent() bool {
	return m.ForumTopicCreated != nil || m.ForumTopicEdited != nil ||
		m.ForumTopicClosed != nil || m.ForumTopicReopened != nil
}

// Command возвращает команду без "/" и суффикса @bot и её аргумент.
func (m *Message) Command() (cmd, arg string) {
	if !strings.HasPrefix(m.Text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(m.Text[1:], " ")
	cmd, _, _ = strings.Cut(head, "@")
	return cmd, strings.TrimSpace(rest)
}

// CallbackQuery - нажатие inline-кнопки.
type CallbackQuery struct {
	ID      string         `json:"id"`
	From    *tgbotapi.User `json:"from"`
	Message *Message       `json:"message,omitempty"`
	Data    string         `json:"data,omitempty"`
}

// MessageReactionUpdated - изменение реакций пользователя на сообщение.
type MessageReactionUpdated struct {
	Chat        *tgbotapi.Chat `json:"chat"`
	MessageID   int64          `json:"message_id"`
	User        *tgbotapi.User `json:"user,omitempty"`
	Date        int64          `json:"date"`
	OldReaction []ReactionType `json:"old_reaction"`
	NewReaction []ReactionType `json:"new_reaction"`
}

// ReactionType - реакция эмодзи (пользовательские эмодзи игнорируются).
type ReactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji,omitempty"`
}

// File - результат getFile.
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}
