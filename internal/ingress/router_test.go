package ingress

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/mediakind"
	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/registration"
	"github.com/bigkaa/worklog/internal/service"
	"github.com/bigkaa/worklog/internal/telegram"
)

const (
	chatID   int64 = -1001234567890
	workerTG int64 = 42
)

type sent struct {
	chatID int64
	text   string
	markup any
}

type fakeBot struct {
	mu        sync.Mutex
	sent      []sent
	deleted   []int64
	callbacks map[string]string
}

func (b *fakeBot) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{chatID: chatID, text: text, markup: opts.ReplyMarkup})
	return int64(len(b.sent)), nil
}

func (b *fakeBot) DeleteMessage(_ context.Context, _, messageID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)
	return nil
}

func (b *fakeBot) AnswerCallbackQuery(_ context.Context, id, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callbacks == nil {
		b.callbacks = make(map[string]string)
	}
	b.callbacks[id] = text
	return nil
}

func (b *fakeBot) last() sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return sent{}
	}
	return b.sent[len(b.sent)-1]
}

type fakeIdentity struct {
	invites  map[string]error
	consumed []service.ConsumeParams
	started  []int64
}

func (f *fakeIdentity) CheckInvite(_ context.Context, code string) (*model.InviteToken, error) {
	err, ok := f.invites[code]
	if !ok {
		return nil, service.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.InviteToken{Code: code}, nil
}

func (f *fakeIdentity) ConsumeInvite(_ context.Context, p service.ConsumeParams) (*model.Worker, bool, error) {
	f.consumed = append(f.consumed, p)
	return &model.Worker{ID: uuid.New(), Name: p.Name, TelegramID: p.TelegramID, Language: p.Language}, true, nil
}

func (f *fakeIdentity) InviteLinks(context.Context, uuid.UUID) ([]string, error) {
	return []string{"https://t.me/+abc"}, nil
}

func (f *fakeIdentity) MarkBotStarted(_ context.Context, tgID int64) error {
	f.started = append(f.started, tgID)
	return nil
}

type fakeResolver struct {
	workers    map[int64]*model.Worker
	supergroup *model.Supergroup
	team       *model.Team
	reason     service.RejectReason
}

func (f *fakeResolver) Resolve(_ context.Context, chat, _, sender int64) (*service.Resolution, service.RejectReason, error) {
	if f.reason != "" {
		return nil, f.reason, nil
	}
	return &service.Resolution{Supergroup: f.supergroup, Team: f.team, Worker: f.workers[sender]}, "", nil
}

func (f *fakeResolver) Supergroup(_ context.Context, chat int64) (*model.Supergroup, error) {
	if f.supergroup == nil || f.supergroup.TelegramGroupID != chat {
		return nil, service.ErrNotFound
	}
	return f.supergroup, nil
}

func (f *fakeResolver) Worker(_ context.Context, tgID int64) (*model.Worker, error) {
	if w, ok := f.workers[tgID]; ok {
		return w, nil
	}
	return nil, service.ErrNotFound
}

type fakeMedia struct {
	ingested []service.IngestParams
	tagged   []string
}

func (f *fakeMedia) Ingest(_ context.Context, p service.IngestParams) (*model.Media, bool, error) {
	f.ingested = append(f.ingested, p)
	return &model.Media{ID: uuid.New()}, true, nil
}

func (f *fakeMedia) TagByReaction(_ context.Context, _ *model.Supergroup, _ *model.Worker, _ int64, emoji string) (bool, error) {
	if emoji != "🛒" {
		return false, nil
	}
	f.tagged = append(f.tagged, emoji)
	return true, nil
}

type fakeQuestions struct{ answered []string }

func (f *fakeQuestions) AnswerCallback(_ context.Context, _, data string, _ *model.Worker) error {
	f.answered = append(f.answered, data)
	return nil
}

type fixture struct {
	router    *Router
	bot       *fakeBot
	identity  *fakeIdentity
	resolver  *fakeResolver
	media     *fakeMedia
	questions *fakeQuestions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bot:      &fakeBot{},
		identity: &fakeIdentity{invites: map[string]error{"good": nil, "old": service.ErrInviteExpired}},
		resolver: &fakeResolver{
			workers:    map[int64]*model.Worker{},
			supergroup: &model.Supergroup{ID: uuid.New(), TelegramGroupID: chatID},
			team:       &model.Team{ID: uuid.New()},
		},
		media:     &fakeMedia{},
		questions: &fakeQuestions{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fsm := registration.New(registration.NewMemoryStore(100, time.Hour))
	f.router = New(f.bot, f.identity, f.resolver, f.media, f.questions, fsm,
		Options{MiniAppURL: "https://app.example.com"}, logger)
	return f
}

func privateMsg(text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: workerTG, LanguageCode: "uz"},
		Chat:      &tgbotapi.Chat{ID: workerTG, Type: "private"},
		Text:      text,
	}}
}

func privatePhoto() telegram.Update {
	u := privateMsg("")
	u.Message.Photo = []tgbotapi.PhotoSize{{FileID: "p", Width: 90, Height: 90}}
	return u
}

func groupMsg(thread int64) *telegram.Message {
	return &telegram.Message{
		MessageID:       501,
		MessageThreadID: thread,
		IsTopicMessage:  thread != 0,
		From:            &tgbotapi.User{ID: workerTG},
		Chat:            &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
	}
}

func TestClassify(t *testing.T) {
	photo := groupMsg(7)
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "a", Width: 90, Height: 90}}
	forwarded := groupMsg(7)
	forwarded.Text = "привет"
	forwarded.ForwardDate = 1700000000
	command := groupMsg(7)
	command.Text = "/start"
	bot := groupMsg(7)
	bot.Text = "текст"
	bot.From.IsBot = true
	event := groupMsg(7)
	event.ForumTopicCreated = &telegram.ForumTopic{Name: "Иван · 07.03"}
	sticker := groupMsg(7)

	tests := []struct {
		name string
		u    telegram.Update
		want Kind
	}{
		{"/start с кодом", privateMsg("/start inv_good"), KindStart},
		{"/help", privateMsg("/help"), KindHelp},
		{"/cancel", privateMsg("/cancel"), KindCancel},
		{"неизвестная команда", privateMsg("/foo"), KindHelp},
		{"текст в личке", privateMsg("Иван Петров"), KindPlainText},
		{"фото в личке", privatePhoto(), KindPrivateMedia},
		{"фото в теме", telegram.Update{Message: photo}, KindMedia},
		{"пересылка", telegram.Update{Message: forwarded}, KindForward},
		{"команда в группе", telegram.Update{Message: command}, KindIgnored},
		{"сообщение бота", telegram.Update{Message: bot}, KindIgnored},
		{"событие темы", telegram.Update{Message: event}, KindForumEvent},
		{"пустое сообщение", telegram.Update{Message: sticker}, KindIgnored},
		{"кнопка", telegram.Update{CallbackQuery: &telegram.CallbackQuery{ID: "1", From: &tgbotapi.User{ID: 1}}}, KindCallback},
		{"реакция", telegram.Update{MessageReaction: &telegram.MessageReactionUpdated{
			Chat: &tgbotapi.Chat{ID: chatID}, User: &tgbotapi.User{ID: 1},
		}}, KindReaction},
		{"правка", telegram.Update{EditedMessage: photo}, KindIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(&tt.u); got != tt.want {
				t.Errorf("Classify() = %q, ожидается %q", got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	photo := groupMsg(7)
	photo.Caption = "#проблема трещина"
	photo.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", FileUniqueID: "u1", Width: 90, Height: 90, FileSize: 1000},
		{FileID: "big", FileUniqueID: "u3", Width: 1280, Height: 960, FileSize: 90000},
		{FileID: "mid", FileUniqueID: "u2", Width: 320, Height: 240, FileSize: 9000},
	}
	ex, ok := Extract(photo)
	if !ok || ex.Kind != mediakind.Photo {
		t.Fatalf("Extract(photo) = %+v, %v; ожидается фото", ex, ok)
	}
	if ex.FileID != "big" || ex.FileSize != 90000 {
		t.Errorf("выбран размер %q (%d), ожидается наибольший", ex.FileID, ex.FileSize)
	}
	if ex.Text != "#проблема трещина" {
		t.Errorf("подпись = %q", ex.Text)
	}

	video := groupMsg(7)
	video.Video = &telegram.Video{Video: tgbotapi.Video{FileID: "v", FileUniqueID: "vu", Duration: 12}}
	video.Video.ThumbnailNew = &tgbotapi.PhotoSize{FileID: "thumb"}
	ex, ok = Extract(video)
	if !ok || ex.Kind != mediakind.Video || ex.ThumbFileID != "thumb" || ex.Duration != 12 {
		t.Errorf("Extract(video) = %+v, %v", ex, ok)
	}

	text := groupMsg(7)
	text.Text = "залили фундамент"
	ex, ok = Extract(text)
	if !ok || ex.Kind != mediakind.Text || ex.Text != "залили фундамент" {
		t.Errorf("Extract(text) = %+v, %v", ex, ok)
	}

	if _, ok := Extract(groupMsg(7)); ok {
		t.Error("пустое сообщение не должно приниматься")
	}
}

func TestRouter_TopicMedia(t *testing.T) {
	f := newFixture(t)
	f.resolver.workers[workerTG] = &model.Worker{ID: uuid.New(), Name: "Иван"}

	msg := groupMsg(77)
	msg.Voice = &tgbotapi.Voice{FileID: "voice", FileUniqueID: "vu", Duration: 5, MimeType: "audio/ogg"}
	f.router.Handle(t.Context(), telegram.Update{Message: msg})

	if len(f.media.ingested) != 1 {
		t.Fatalf("принято %d медиа, ожидается 1", len(f.media.ingested))
	}
	p := f.media.ingested[0]
	if p.Kind != mediakind.Voice || p.ThreadID != 77 || p.MessageID != 501 || p.ChatID != chatID {
		t.Errorf("параметры приёма = %+v", p)
	}
	if p.Team != f.resolver.team || p.Author == nil {
		t.Error("команда и автор должны браться из сопоставления")
	}

	// Не-тема: thread_id без is_topic_message не используется.
	general := groupMsg(0)
	general.MessageThreadID = 99
	general.Text = "текст"
	f.router.Handle(t.Context(), telegram.Update{Message: general})
	if got := f.media.ingested[1].ThreadID; got != 0 {
		t.Errorf("ThreadID = %d, ожидается 0 для общей темы", got)
	}

	f.resolver.reason = service.RejectUnknownTopic
	f.router.Handle(t.Context(), telegram.Update{Message: msg})
	if len(f.media.ingested) != 2 {
		t.Error("отклонённое сообщение не должно приниматься")
	}
}

func TestRouter_ForwardDeleted(t *testing.T) {
	f := newFixture(t)
	msg := groupMsg(7)
	msg.Text = "переслано"
	msg.ForwardOrigin = &telegram.ForwardOrigin{Type: "user"}
	f.router.Handle(t.Context(), telegram.Update{Message: msg})

	if len(f.bot.deleted) != 1 || f.bot.deleted[0] != 501 {
		t.Errorf("удалены %v, ожидается [501]", f.bot.deleted)
	}
	if len(f.media.ingested) != 0 {
		t.Error("пересланное сообщение не должно приниматься")
	}

	// Чужая группа: ничего не удаляем.
	other := groupMsg(7)
	other.Chat.ID = -100999
	other.Text = "переслано"
	other.ForwardDate = 1
	f.router.Handle(t.Context(), telegram.Update{Message: other})
	if len(f.bot.deleted) != 1 {
		t.Error("в неизвестной группе пересылки не удаляются")
	}
}

func TestRouter_RegistrationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.router.Handle(ctx, privateMsg("/start inv_good"))
	if got := f.bot.last().text; got != service.MsgAskName {
		t.Fatalf("ответ на /start = %q, ожидается запрос имени", got)
	}
	if len(f.identity.started) != 1 {
		t.Error("запуск бота должен отмечаться")
	}

	f.router.Handle(ctx, privateMsg("И"))
	if got := f.bot.last().text; !strings.Contains(got, service.MsgAskName) {
		t.Errorf("короткое имя: ответ %q, ожидается повторный запрос", got)
	}

	f.router.Handle(ctx, privateMsg("  Иван   Петров "))
	last := f.bot.last()
	if last.text != service.MsgAskPhone {
		t.Fatalf("ответ на имя = %q, ожидается запрос телефона", last.text)
	}
	if _, ok := last.markup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Errorf("запрос телефона без клавиатуры контакта: %T", last.markup)
	}

	contact := privateMsg("")
	contact.Message.Contact = &tgbotapi.Contact{PhoneNumber: "998 90 123 45 67", UserID: workerTG}
	f.router.Handle(ctx, contact)

	if len(f.identity.consumed) != 1 {
		t.Fatalf("регистраций %d, ожидается 1", len(f.identity.consumed))
	}
	p := f.identity.consumed[0]
	if p.Code != "good" || p.Name != "Иван Петров" || p.Phone != "+998901234567" || p.Language != model.LangUZ {
		t.Errorf("параметры регистрации = %+v", p)
	}
	if got := f.bot.last().text; got != service.MsgOpenApp {
		t.Errorf("последнее сообщение = %q, ожидается кнопка Mini App", got)
	}

	// После завершения автомат пуст: текст без регистрации.
	f.router.Handle(ctx, privateMsg("ещё текст"))
	if got := f.bot.last().text; got != service.MsgNotRegistered {
		t.Errorf("ответ вне регистрации = %q", got)
	}
}

func TestRouter_PrivateMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("незарегистрированный", func(t *testing.T) {
		f := newFixture(t)
		f.router.Handle(ctx, privatePhoto())
		if got := f.bot.last().text; got != service.MsgNotRegistered {
			t.Errorf("ответ = %q, ожидается сообщение о регистрации", got)
		}
		if len(f.media.ingested) != 0 {
			t.Errorf("медиа из лички не должно приниматься: %d", len(f.media.ingested))
		}
	})

	t.Run("в процессе регистрации", func(t *testing.T) {
		f := newFixture(t)
		f.router.Handle(ctx, privateMsg("/start inv_good"))
		f.router.Handle(ctx, privatePhoto())
		if got := f.bot.last().text; got != service.MsgAskName {
			t.Errorf("ответ = %q, ожидается повтор вопроса об имени", got)
		}
	})

	t.Run("зарегистрированный", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.workers[workerTG] = &model.Worker{ID: uuid.New(), TelegramID: workerTG, Name: "Иван"}
		f.router.Handle(ctx, privatePhoto())
		if got := f.bot.last().text; got != service.MsgHelp {
			t.Errorf("ответ = %q, ожидается справка", got)
		}
	})
}

func TestRouter_StartErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"без кода", "/start", service.MsgNotRegistered},
		{"неизвестный код", "/start inv_nope", service.MsgInviteNotFound},
		{"истёкший код", "/start inv_old", service.MsgInviteExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.router.Handle(t.Context(), privateMsg(tt.text))
			if got := f.bot.last().text; got != tt.want {
				t.Errorf("ответ = %q, ожидается %q", got, tt.want)
			}
		})
	}

	t.Run("уже зарегистрирован", func(t *testing.T) {
		f := newFixture(t)
		f.resolver.workers[workerTG] = &model.Worker{Name: "Иван"}
		f.router.Handle(t.Context(), privateMsg("/start inv_good"))
		if got := f.bot.last().text; !strings.Contains(got, "С возвращением") {
			t.Errorf("ответ = %q", got)
		}
	})
}

func TestRouter_Cancel(t *testing.T) {
	f := newFixture(t)
	f.router.Handle(t.Context(), privateMsg("/start inv_good"))
	f.router.Handle(t.Context(), privateMsg("/cancel"))
	if got := f.bot.last().text; got != service.MsgCancelled {
		t.Errorf("ответ на /cancel = %q", got)
	}
	f.router.Handle(t.Context(), privateMsg("Иван Петров"))
	if len(f.identity.consumed) != 0 || f.bot.last().text != service.MsgNotRegistered {
		t.Error("после /cancel ввод не должен продолжать регистрацию")
	}
}

func TestRouter_CallbackAndReaction(t *testing.T) {
	f := newFixture(t)
	cb := telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID: "cb1", From: &tgbotapi.User{ID: workerTG}, Data: service.CallbackPrefix + "x:0",
	}}
	f.router.Handle(t.Context(), cb)
	if got := f.bot.callbacks["cb1"]; got != service.MsgNotRegistered {
		t.Errorf("незарегистрированному: %q", got)
	}

	f.resolver.workers[workerTG] = &model.Worker{ID: uuid.New()}
	f.router.Handle(t.Context(), cb)
	if len(f.questions.answered) != 1 {
		t.Errorf("ответов %d, ожидается 1", len(f.questions.answered))
	}

	f.router.Handle(t.Context(), telegram.Update{MessageReaction: &telegram.MessageReactionUpdated{
		Chat:      &tgbotapi.Chat{ID: chatID},
		User:      &tgbotapi.User{ID: workerTG},
		MessageID: 501,
		NewReaction: []telegram.ReactionType{
			{Type: "emoji", Emoji: "👍"},
			{Type: "emoji", Emoji: "🛒"},
		},
	}})
	if len(f.media.tagged) != 1 {
		t.Errorf("пометок %d, ожидается 1", len(f.media.tagged))
	}
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	h := f.router.Webhook("s3cret")

	tests := []struct {
		name   string
		secret string
		body   string
		want   int
		queued int
	}{
		{"неверный секрет", "wrong", `{"update_id":1}`, http.StatusUnauthorized, 0},
		{"некорректный JSON", "s3cret", `{`, http.StatusOK, 0},
		{"обновление", "s3cret", `{"update_id":2,"message":{"message_id":1,"chat":{"id":1,"type":"private"}}}`, http.StatusOK, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(tt.body))
			req.Header.Set(SecretHeader, tt.secret)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
			if got := len(f.router.updates); got != tt.queued {
				t.Errorf("в очереди %d, ожидается %d", got, tt.queued)
			}
		})
	}
}

type fakeUpdater struct {
	mu      sync.Mutex
	offsets []int
	cancel  context.CancelFunc
}

func (u *fakeUpdater) DeleteWebhook(context.Context) error { return nil }

func (u *fakeUpdater) GetUpdates(_ context.Context, offset int, _ time.Duration) ([]telegram.Update, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.offsets = append(u.offsets, offset)
	if len(u.offsets) == 2 {
		u.cancel()
		return nil, nil
	}
	return []telegram.Update{{UpdateID: 10}, {UpdateID: 11}}, nil
}

func TestPoll_AdvancesOffset(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	src := &fakeUpdater{cancel: cancel}

	if err := f.router.Poll(ctx, src); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(src.offsets) != 2 || src.offsets[0] != 0 || src.offsets[1] != 12 {
		t.Errorf("offset = %v, ожидается [0 12]", src.offsets)
	}
	if got := len(f.router.updates); got != 2 {
		t.Errorf("в очереди %d, ожидается 2", got)
	}
}
