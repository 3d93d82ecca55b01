// Пакет telegram - клиент Telegram Bot API поверх go-telegram-bot-api:
// глобальный лимит запросов, повторы с экспоненциальной паузой,
// методы тем форума и реакций, которых нет в tgbotapi v5.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/bigkaa/worklog/internal/upstream"
)

const service = "telegram"

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wl_telegram_requests_total",
		Help: "Запросы к Telegram Bot API по методу и результату.",
	},
	[]string{"method", "result"},
)

// Options - параметры клиента.
type Options struct {
	Token string
	// APIEndpoint - шаблон ".../bot%s/%s".
	APIEndpoint string
	// FileEndpoint - шаблон ".../file/bot%s/%s".
	FileEndpoint string
	// RPS - глобальный лимит запросов в секунду.
	RPS float64
	// MaxRetries - число повторов при 5xx/429/сетевой ошибке.
	MaxRetries int
	// RetryInitial - пауза перед первым повтором (по умолчанию 1 с).
	RetryInitial time.Duration
	// MaxDownloadBytes - лимит размера скачиваемого файла.
	MaxDownloadBytes int64
	// HTTPClient - HTTP-клиент (по умолчанию с таймаутом 60 с, больше long-poll).
	HTTPClient *http.Client
}

// Client - клиент Bot API.
type Client struct {
	bot          *tgbotapi.BotAPI
	httpClient   *http.Client
	limiter      *rate.Limiter
	policy       upstream.Policy
	token        string
	apiEndpoint  string
	fileEndpoint string
	maxDownload  int64
	logger       *slog.Logger
}

// New создаёт клиент и проверяет токен вызовом getMe.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.FileEndpoint == "" {
		opts.FileEndpoint = tgbotapi.FileEndpoint
	}
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("инициализация бота: %w", classify(err))
	}

	c := &Client{
		bot:          bot,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(rate.Limit(opts.RPS), 1),
		token:        opts.Token,
		apiEndpoint:  opts.APIEndpoint,
		fileEndpoint: opts.FileEndpoint,
		maxDownload:  opts.MaxDownloadBytes,
		logger:       logger.With(slog.String("component", "telegram")),
	}
	c.policy = upstream.Policy{
		Initial:    opts.RetryInitial,
		Multiplier: 2,
		MaxRetries: uint64(max(opts.MaxRetries, 0)), //nolint:gosec // неотрицательно
		Notify: func(err error, wait time.Duration) {
			c.logger.Warn("Повтор запроса к Bot API",
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
	}

	c.logger.Info("Бот авторизован", slog.String("username", bot.Self.UserName))
	return c, nil
}

// Username возвращает имя бота (для deep-link).
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// call выполняет метод с лимитом и повторами и возвращает поле result.
func (c *Client) call(ctx context.Context, method string, params tgbotapi.Params) (json.RawMessage, error) {
	var result json.RawMessage
	err := upstream.Retry(ctx, c.policy, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := c.request(ctx, method, params)
		if err != nil {
			requestsTotal.WithLabelValues(method, upstream.KindOf(err).String()).Inc()
			return err
		}
		requestsTotal.WithLabelValues(method, "ok").Inc()
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}

// request - один POST к Bot API с отменой по ctx. tgbotapi.MakeRequest
// контекст не принимает, поэтому запрос собирается здесь, а ответ
// разбирается в tgbotapi.APIResponse.
func (c *Client) request(ctx context.Context, method string, params tgbotapi.Params) (json.RawMessage, error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf(c.apiEndpoint, c.token, method), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, upstream.Permanentf(service, "создание запроса: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstream.Wrap(service, err)
	}
	defer resp.Body.Close()

	var apiResp tgbotapi.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Не JSON: ответил прокси или балансировщик.
		return nil, upstream.FromStatus(service, resp.StatusCode, fmt.Errorf("разбор ответа: %w", err))
	}
	if !apiResp.Ok {
		apiErr := &tgbotapi.Error{Code: apiResp.ErrorCode, Message: apiResp.Description}
		if apiResp.Parameters != nil {
			apiErr.ResponseParameters = *apiResp.Parameters
		}
		return nil, classify(apiErr)
	}
	return apiResp.Result, nil
}

// classify переводит ошибки tgbotapi в upstream.Error.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		ue := upstream.FromStatus(service, apiErr.Code, errors.New(apiErr.Message))
		if apiErr.RetryAfter > 0 {
			ue.RetryAfter = time.Duration(apiErr.RetryAfter) * time.Second
		}
		return ue
	}
	return upstream.Wrap(service, err)
}

// GetFile запрашивает путь файла на стороне Bot API.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	params := tgbotapi.Params{"file_id": fileID}
	raw, err := c.call(ctx, "getFile", params)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("getFile: разбор ответа: %w", err)
	}
	if f.FilePath == "" {
		return nil, upstream.Permanentf(service, "getFile: file_path пуст (файл больше лимита Bot API)")
	}
	return &f, nil
}

// Download скачивает файл по file_path. Файл больше MaxDownloadBytes
// даёт постоянную ошибку.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	var data []byte
	err := upstream.Retry(ctx, c.policy, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.fileEndpoint, c.token, filePath), nil)
		if err != nil {
			return upstream.Permanentf(service, "создание запроса: %v", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues("download", "transient").Inc()
			return upstream.Wrap(service, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			ue := upstream.FromStatus(service, resp.StatusCode, fmt.Errorf("скачивание файла: %s", body))
			requestsTotal.WithLabelValues("download", ue.Kind.String()).Inc()
			return ue
		}

		reader := io.Reader(resp.Body)
		if c.maxDownload > 0 {
			reader = io.LimitReader(resp.Body, c.maxDownload+1)
		}
		data, err = io.ReadAll(reader)
		if err != nil {
			return upstream.Wrap(service, err)
		}
		if c.maxDownload > 0 && int64(len(data)) > c.maxDownload {
			return upstream.Permanentf(service, "файл больше %d байт", c.maxDownload)
		}
		requestsTotal.WithLabelValues("download", "ok").Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// messageResult - проекция отправленного сообщения.
type messageResult struct {
	MessageID int64 `json:"message_id"`
}

// SendOptions - необязательные параметры отправки.
type SendOptions struct {
	ThreadID    int64
	ReplyTo     int64
	ReplyMarkup any
	ParseMode   string
}

// SendMessage отправляет текст (в тему форума, если ThreadID != 0).
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["text"] = text
	params.AddNonZero64("message_thread_id", opts.ThreadID)
	params.AddNonZero64("reply_to_message_id", opts.ReplyTo)
	params.AddNonEmpty("parse_mode", opts.ParseMode)
	if opts.ReplyMarkup != nil {
		if err := params.AddInterface("reply_markup", opts.ReplyMarkup); err != nil {
			return 0, fmt.Errorf("sendMessage: reply_markup: %w", err)
		}
	}
	raw, err := c.call(ctx, "sendMessage", params)
	if err != nil {
		return 0, err
	}
	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("sendMessage: разбор ответа: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText заменяет текст сообщения; клавиатура снимается.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_id", messageID)
	params["text"] = text
	_, err := c.call(ctx, "editMessageText", params)
	return err
}

// DeleteMessage удаляет сообщение.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_id", messageID)
	_, err := c.call(ctx, "deleteMessage", params)
	return err
}

// SetMessageReaction ставит реакцию-эмодзи на сообщение.
func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_id", messageID)
	if err := params.AddInterface("reaction", []ReactionType{{Type: "emoji", Emoji: emoji}}); err != nil {
		return err
	}
	_, err := c.call(ctx, "setMessageReaction", params)
	return err
}

// CreateForumTopic создаёт тему и возвращает её message_thread_id.
func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["name"] = name
	raw, err := c.call(ctx, "createForumTopic", params)
	if err != nil {
		return 0, err
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(raw, &topic); err != nil {
		return 0, fmt.Errorf("createForumTopic: разбор ответа: %w", err)
	}
	return topic.MessageThreadID, nil
}

// EditForumTopic переименовывает тему.
func (c *Client) EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", threadID)
	params["name"] = name
	_, err := c.call(ctx, "editForumTopic", params)
	return err
}

// CloseForumTopic закрывает тему.
func (c *Client) CloseForumTopic(ctx context.Context, chatID, threadID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("message_thread_id", threadID)
	_, err := c.call(ctx, "closeForumTopic", params)
	return err
}

// CreateChatInviteLink создаёт ссылку-приглашение в супергруппу.
func (c *Client) CreateChatInviteLink(ctx context.Context, chatID int64, name string) (string, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("name", name)
	raw, err := c.call(ctx, "createChatInviteLink", params)
	if err != nil {
		return "", err
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(raw, &link); err != nil {
		return "", fmt.Errorf("createChatInviteLink: разбор ответа: %w", err)
	}
	return link.InviteLink, nil
}

// AnswerCallbackQuery подтверждает нажатие кнопки.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := tgbotapi.Params{"callback_query_id": callbackID}
	params.AddNonEmpty("text", text)
	_, err := c.call(ctx, "answerCallbackQuery", params)
	return err
}

// AllowedUpdates - типы обновлений, которые получает бот.
var AllowedUpdates = []string{"message", "callback_query", "message_reaction"}

// SetWebhook регистрирует webhook с секретом заголовка.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", AllowedUpdates); err != nil {
		return err
	}
	_, err := c.call(ctx, "setWebhook", params)
	return err
}

// DeleteWebhook снимает webhook (нужно перед long-poll).
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.call(ctx, "deleteWebhook", tgbotapi.Params{})
	return err
}

// GetUpdates выполняет один long-poll запрос. Не проходит через лимитер и
// повторы: цикл опроса сам решает, когда повторить.
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params["timeout"] = strconv.Itoa(int(timeout.Seconds()))
	if err := params.AddInterface("allowed_updates", AllowedUpdates); err != nil {
		return nil, err
	}
	raw, err := c.request(ctx, "getUpdates", params)
	if err != nil {
		requestsTotal.WithLabelValues("getUpdates", "error").Inc()
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("getUpdates: разбор ответа: %w", err)
	}
	return updates, nil
}
