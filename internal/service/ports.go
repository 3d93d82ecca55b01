package service

import (
	"context"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/stt"
	"github.com/bigkaa/worklog/internal/telegram"
)

// Messenger - используемая часть Telegram Bot API (*telegram.Client).
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
	CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error)
	EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error
	CloseForumTopic(ctx context.Context, chatID, threadID int64) error
	CreateChatInviteLink(ctx context.Context, chatID int64, name string) (string, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
}

// Transcriber - сервис распознавания речи (*stt.Client).
type Transcriber interface {
	Enabled() bool
	Transcribe(ctx context.Context, audio []byte, filename string, lang model.Language) (*stt.Result, error)
}

// Enqueuer - очередь задач конвейера (*pipeline.Pool).
type Enqueuer interface {
	Enqueue(ctx context.Context, t pipeline.Task) error
	TryEnqueue(t pipeline.Task) bool
}
