package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/pipeline"
	"github.com/bigkaa/worklog/internal/stt"
	"github.com/bigkaa/worklog/internal/telegram"
	"github.com/bigkaa/worklog/internal/upstream"
)

// sentMessage - сообщение, отправленное через fakeMessenger.
type sentMessage struct {
	ChatID int64
	Text   string
	Opts   telegram.SendOptions
}

// fakeMessenger записывает вызовы Bot API.
type fakeMessenger struct {
	mu sync.Mutex

	// files: file_id -> содержимое; путь файла совпадает с file_id.
	files map[string][]byte
	// reactionsDenied - реакции в чате запрещены.
	reactionsDenied bool

	sent      []sentMessage
	edited    map[int64]string
	reactions map[int64]string
	callbacks map[string]string
	topics    map[int64]string
	closed    []int64
	nextID    int64
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		files:     make(map[string][]byte),
		edited:    make(map[int64]string),
		reactions: make(map[int64]string),
		callbacks: make(map[string]string),
		topics:    make(map[int64]string),
		nextID:    1000,
	}
}

func (f *fakeMessenger) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return f.id(), nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, _, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited[messageID] = text
	return nil
}

func (f *fakeMessenger) DeleteMessage(context.Context, int64, int64) error { return nil }

func (f *fakeMessenger) SetMessageReaction(_ context.Context, _, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionsDenied {
		return upstream.FromStatus("telegram", 400, fmt.Errorf("REACTION_INVALID"))
	}
	f.reactions[messageID] = emoji
	return nil
}

func (f *fakeMessenger) CreateForumTopic(_ context.Context, _ int64, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.topics[id] = name
	return id, nil
}

func (f *fakeMessenger) EditForumTopic(context.Context, int64, int64, string) error { return nil }

func (f *fakeMessenger) CloseForumTopic(_ context.Context, _, threadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, threadID)
	return nil
}

func (f *fakeMessenger) CreateChatInviteLink(_ context.Context, chatID int64, _ string) (string, error) {
	return fmt.Sprintf("https://t.me/+invite%d", -chatID), nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[callbackID] = text
	return nil
}

func (f *fakeMessenger) GetFile(_ context.Context, fileID string) (*telegram.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[fileID]
	if !ok {
		return nil, upstream.FromStatus("telegram", 400, fmt.Errorf("file %s not found", fileID))
	}
	return &telegram.File{FileID: fileID, FileSize: int64(len(data)), FilePath: fileID}, nil
}

func (f *fakeMessenger) Download(_ context.Context, filePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[filePath]
	if !ok {
		return nil, upstream.FromStatus("telegram", 404, fmt.Errorf("path %s not found", filePath))
	}
	return data, nil
}

func (f *fakeMessenger) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

// fakeQueue копит задачи; тест исполняет их явно через drain.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []pipeline.Task
}

func (q *fakeQueue) Enqueue(_ context.Context, t pipeline.Task) error {
	q.TryEnqueue(t)
	return nil
}

func (q *fakeQueue) TryEnqueue(t pipeline.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return true
}

// take забирает накопленные задачи.
func (q *fakeQueue) take() []pipeline.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// kinds возвращает виды накопленных задач без изъятия.
func (q *fakeQueue) kinds() []pipeline.Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pipeline.Kind, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Kind
	}
	return out
}

// fakeTranscriber возвращает заранее заданный текст.
type fakeTranscriber struct {
	text  string
	calls int
}

func (t *fakeTranscriber) Enabled() bool { return true }

func (t *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string, lang model.Language) (*stt.Result, error) {
	t.calls++
	return &stt.Result{Text: t.text, LanguageCode: stt.LanguageCode(lang)}, nil
}
