// Пакет ingress - приём обновлений Telegram и их разбор: команды и
// регистрация в личном чате, медиа в темах супергрупп, ответы кнопками
// и реакции-пометки.
//
// Обновления обрабатывает одна горутина Run в порядке поступления,
// поэтому порядок сообщений внутри чата сохраняется.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/registration"
	"github.com/bigkaa/worklog/internal/service"
	"github.com/bigkaa/worklog/internal/telegram"
)

var updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wl_ingress_updates_total",
	Help: "Обработанные обновления Telegram по виду.",
}, []string{"kind"})

// Identity - регистрация и поиск работников.
type Identity interface {
	CheckInvite(ctx context.Context, code string) (*model.InviteToken, error)
	ConsumeInvite(ctx context.Context, p service.ConsumeParams) (*model.Worker, bool, error)
	InviteLinks(ctx context.Context, contractorID uuid.UUID) ([]string, error)
	MarkBotStarted(ctx context.Context, telegramID int64) error
}

// Resolver - сопоставление чатов, тем и отправителей.
type Resolver interface {
	Resolve(ctx context.Context, chatID, threadID, senderID int64) (*service.Resolution, service.RejectReason, error)
	Supergroup(ctx context.Context, chatID int64) (*model.Supergroup, error)
	Worker(ctx context.Context, telegramID int64) (*model.Worker, error)
}

// Media - приём медиа и пометки.
type Media interface {
	Ingest(ctx context.Context, p service.IngestParams) (*model.Media, bool, error)
	TagByReaction(ctx context.Context, sg *model.Supergroup, w *model.Worker, messageID int64, emoji string) (bool, error)
}

// Questions - ответы на вопросы кнопками.
type Questions interface {
	AnswerCallback(ctx context.Context, callbackID, data string, w *model.Worker) error
}

// Bot - используемые методы Bot API.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Options - параметры маршрутизатора.
type Options struct {
	// Buffer - ёмкость очереди обновлений.
	Buffer int
	// MiniAppURL - ссылка на Mini App в приветствии (пусто - без кнопки).
	MiniAppURL string
}

// Router - разбор и обработка обновлений.
type Router struct {
	bot        Bot
	identity   Identity
	resolver   Resolver
	media      Media
	questions  Questions
	fsm        *registration.Machine
	miniAppURL string
	updates    chan telegram.Update
	logger     *slog.Logger
}

// New создаёт маршрутизатор.
func New(bot Bot, identity Identity, resolver Resolver, media Media, questions Questions, fsm *registration.Machine, opts Options, logger *slog.Logger) *Router {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return &Router{
		bot:        bot,
		identity:   identity,
		resolver:   resolver,
		media:      media,
		questions:  questions,
		fsm:        fsm,
		miniAppURL: opts.MiniAppURL,
		updates:    make(chan telegram.Update, opts.Buffer),
		logger:     logger.With(slog.String("component", "ingress")),
	}
}

// Enqueue ставит обновление в очередь; при заполненной очереди ждёт до отмены ctx.
func (r *Router) Enqueue(ctx context.Context, u telegram.Update) error {
	select {
	case r.updates <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run обрабатывает обновления до отмены ctx.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("Обработка обновлений запущена")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Обработка обновлений остановлена")
			return nil
		case u := <-r.updates:
			r.Handle(ctx, u)
		}
	}
}

// Handle обрабатывает одно обновление. Ошибки логируются и не прерывают цикл.
func (r *Router) Handle(ctx context.Context, u telegram.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Паника при обработке обновления",
				slog.Int("update_id", u.UpdateID), slog.String("panic", fmt.Sprint(p)))
		}
	}()

	kind := Classify(&u)
	updatesTotal.WithLabelValues(string(kind)).Inc()

	var err error
	switch kind {
	case KindStart:
		err = r.onStart(ctx, u.Message)
	case KindHelp:
		err = r.reply(ctx, u.Message, service.MsgHelp, nil)
	case KindCancel:
		err = r.onCancel(ctx, u.Message)
	case KindPlainText:
		err = r.onPrivateText(ctx, u.Message)
	case KindPrivateMedia:
		err = r.onPrivateMedia(ctx, u.Message)
	case KindMedia:
		err = r.onTopicMessage(ctx, u.Message)
	case KindForward:
		err = r.onForward(ctx, u.Message)
	case KindCallback:
		err = r.onCallback(ctx, u.CallbackQuery)
	case KindReaction:
		err = r.onReaction(ctx, u.MessageReaction)
	case KindForumEvent, KindIgnored:
	}
	if err != nil {
		r.logger.Error("Ошибка обработки обновления",
			slog.Int("update_id", u.UpdateID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// reply отвечает в тот же чат.
func (r *Router) reply(ctx context.Context, msg *telegram.Message, text string, markup any) error {
	_, err := r.bot.SendMessage(ctx, msg.Chat.ID, text, telegram.SendOptions{ReplyMarkup: markup})
	return err
}

// --- Личный чат: регистрация ---

func (r *Router) onStart(ctx context.Context, msg *telegram.Message) error {
	tgID := msg.From.ID
	if err := r.identity.MarkBotStarted(ctx, tgID); err != nil {
		r.logger.Warn("Не удалось отметить запуск бота", slog.String("error", err.Error()))
	}

	w, err := r.resolver.Worker(ctx, tgID)
	switch {
	case err == nil:
		return r.reply(ctx, msg, service.WelcomeBack(w), r.appButton())
	case !errors.Is(err, service.ErrNotFound):
		return err
	}

	_, arg := msg.Command()
	code, ok := strings.CutPrefix(arg, service.InvitePrefix)
	if !ok || code == "" {
		return r.reply(ctx, msg, service.MsgNotRegistered, nil)
	}
	if _, err := r.identity.CheckInvite(ctx, code); err != nil {
		if text, ok := inviteErrorText(err); ok {
			return r.reply(ctx, msg, text, nil)
		}
		return err
	}
	if _, err := r.fsm.Begin(ctx, tgID, code, msg.From.LanguageCode); err != nil {
		return err
	}
	return r.reply(ctx, msg, service.MsgAskName, tgbotapi.NewRemoveKeyboard(true))
}

func (r *Router) onCancel(ctx context.Context, msg *telegram.Message) error {
	cancelled, err := r.fsm.Cancel(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if !cancelled {
		return r.reply(ctx, msg, service.MsgHelp, nil)
	}
	return r.reply(ctx, msg, service.MsgCancelled, tgbotapi.NewRemoveKeyboard(true))
}

func (r *Router) onPrivateText(ctx context.Context, msg *telegram.Message) error {
	tgID := msg.From.ID
	text := msg.Text
	if msg.Contact != nil {
		// Чужой контакт не принимается за номер отправителя.
		if msg.Contact.UserID != 0 && msg.Contact.UserID != tgID {
			return r.reply(ctx, msg, service.MsgAskPhone, phoneKeyboard())
		}
		text = msg.Contact.PhoneNumber
	}

	st, err := r.fsm.Input(ctx, tgID, text)
	switch {
	case errors.Is(err, registration.ErrInvalidName):
		return r.reply(ctx, msg, err.Error()+"\n"+service.MsgAskName, nil)
	case errors.Is(err, registration.ErrInvalidPhone):
		return r.reply(ctx, msg, err.Error()+"\n"+service.MsgAskPhone, phoneKeyboard())
	case err != nil:
		return err
	}

	if st == nil {
		if _, err := r.resolver.Worker(ctx, tgID); errors.Is(err, service.ErrNotFound) {
			return r.reply(ctx, msg, service.MsgNotRegistered, nil)
		}
		return r.reply(ctx, msg, service.MsgHelp, nil)
	}

	switch st.Step {
	case registration.StepWaitingPhone:
		return r.reply(ctx, msg, service.MsgAskPhone, phoneKeyboard())
	case registration.StepDone:
		return r.finishRegistration(ctx, msg, st)
	}
	return nil
}

// onPrivateMedia: медиа в личке не принимается. Отвечаем по состоянию
// отправителя, чтобы незарегистрированный не остался без ответа.
func (r *Router) onPrivateMedia(ctx context.Context, msg *telegram.Message) error {
	st, err := r.fsm.Current(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if st != nil {
		if st.Step == registration.StepWaitingPhone {
			return r.reply(ctx, msg, service.MsgAskPhone, phoneKeyboard())
		}
		return r.reply(ctx, msg, service.MsgAskName, nil)
	}
	if _, err := r.resolver.Worker(ctx, msg.From.ID); errors.Is(err, service.ErrNotFound) {
		return r.reply(ctx, msg, service.MsgNotRegistered, nil)
	} else if err != nil {
		return err
	}
	return r.reply(ctx, msg, service.MsgHelp, nil)
}

func (r *Router) finishRegistration(ctx context.Context, msg *telegram.Message, st *registration.State) error {
	w, _, err := r.identity.ConsumeInvite(ctx, service.ConsumeParams{
		Code:       st.InviteCode,
		TelegramID: msg.From.ID,
		Name:       st.Name,
		Phone:      st.Phone,
		Language:   languageOf(st.Language),
	})
	if err != nil {
		if text, ok := inviteErrorText(err); ok {
			return r.reply(ctx, msg, text, tgbotapi.NewRemoveKeyboard(true))
		}
		return err
	}

	links, err := r.identity.InviteLinks(ctx, w.ContractorID)
	if err != nil {
		r.logger.Warn("Не удалось получить ссылки на супергруппы",
			slog.String("worker_id", w.ID.String()), slog.String("error", err.Error()))
	}
	if err := r.reply(ctx, msg, service.Greeting(w, links), tgbotapi.NewRemoveKeyboard(true)); err != nil {
		return err
	}
	if button := r.appButton(); button != nil {
		return r.reply(ctx, msg, service.MsgOpenApp, button)
	}
	return nil
}

// appButton - кнопка Mini App или nil, если ссылка не настроена.
func (r *Router) appButton() any {
	if r.miniAppURL == "" {
		return nil
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL(service.MsgOpenApp, r.miniAppURL),
	))
}

func phoneKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonContact(service.MsgSharePhoneButton),
	))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

// inviteErrorText - ответ пользователю на ошибку инвайт-кода.
func inviteErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, service.ErrInviteNotFound):
		return service.MsgInviteNotFound, true
	case errors.Is(err, service.ErrInviteExpired):
		return service.MsgInviteExpired, true
	case errors.Is(err, service.ErrInviteUsed):
		return service.MsgInviteUsed, true
	}
	return "", false
}

// languageOf переводит language_code Telegram ("uz", "ru-RU") в язык работника.
func languageOf(code string) model.Language {
	if len(code) >= 2 {
		if lang := model.Language(strings.ToLower(code[:2])); lang.Valid() {
			return lang
		}
	}
	return model.LangRU
}

// --- Супергруппы: медиа, пересылки, реакции ---

// topicThread возвращает тему сообщения; 0 - общая тема.
func topicThread(msg *telegram.Message) int64 {
	if msg.IsTopicMessage {
		return msg.MessageThreadID
	}
	return 0
}

func (r *Router) onTopicMessage(ctx context.Context, msg *telegram.Message) error {
	ex, ok := Extract(msg)
	if !ok {
		return nil
	}
	thread := topicThread(msg)
	res, reason, err := r.resolver.Resolve(ctx, msg.Chat.ID, thread, msg.From.ID)
	if err != nil {
		return err
	}
	if reason != "" {
		service.CountReject(reason)
		r.logger.Debug("Сообщение отклонено",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int64("thread_id", thread),
			slog.String("reason", string(reason)),
		)
		return nil
	}

	_, _, err = r.media.Ingest(ctx, service.IngestParams{
		Team:         res.Team,
		Author:       res.Worker,
		ChatID:       msg.Chat.ID,
		ThreadID:     thread,
		MessageID:    msg.MessageID,
		Kind:         ex.Kind,
		FileID:       ex.FileID,
		FileUniqueID: ex.FileUniqueID,
		ThumbFileID:  ex.ThumbFileID,
		FileName:     ex.FileName,
		MimeType:     ex.MimeType,
		FileSize:     ex.FileSize,
		Duration:     ex.Duration,
		Text:         ex.Text,
	})
	return err
}

// onForward удаляет пересланное сообщение в супергруппе объекта.
func (r *Router) onForward(ctx context.Context, msg *telegram.Message) error {
	if _, err := r.resolver.Supergroup(ctx, msg.Chat.ID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil
		}
		return err
	}
	service.CountReject(service.RejectForwarded)
	if err := r.bot.DeleteMessage(ctx, msg.Chat.ID, msg.MessageID); err != nil {
		r.logger.Warn("Не удалось удалить пересланное сообщение",
			slog.Int64("chat_id", msg.Chat.ID),
			slog.Int64("message_id", msg.MessageID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (r *Router) onCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	if !strings.HasPrefix(cq.Data, service.CallbackPrefix) {
		return r.bot.AnswerCallbackQuery(ctx, cq.ID, "")
	}
	w, err := r.resolver.Worker(ctx, cq.From.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return r.bot.AnswerCallbackQuery(ctx, cq.ID, service.MsgNotRegistered)
		}
		return err
	}
	err = r.questions.AnswerCallback(ctx, cq.ID, cq.Data, w)
	if errors.Is(err, service.ErrConflict) || errors.Is(err, service.ErrValidation) || errors.Is(err, service.ErrNotFound) {
		r.logger.Debug("Ответ кнопкой не принят", slog.String("error", err.Error()))
		return nil
	}
	return err
}

func (r *Router) onReaction(ctx context.Context, mr *telegram.MessageReactionUpdated) error {
	sg, err := r.resolver.Supergroup(ctx, mr.Chat.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil
		}
		return err
	}
	w, err := r.resolver.Worker(ctx, mr.User.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, rt := range mr.NewReaction {
		if rt.Type != "emoji" {
			continue
		}
		tagged, err := r.media.TagByReaction(ctx, sg, w, mr.MessageID, rt.Emoji)
		if err != nil {
			return err
		}
		if tagged {
			return nil
		}
	}
	return nil
}
