// Пакет stt - HTTP-клиент сервиса распознавания речи.
// Запрос: multipart/form-data (file, model_id, language_code), ответ: JSON
// с полями text и language_code.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bigkaa/worklog/internal/domain/model"
	"github.com/bigkaa/worklog/internal/upstream"
)

const service = "stt"

// DefaultModel - модель распознавания по умолчанию.
const DefaultModel = "scribe_v1"

// languageCodes - подсказка языка по языку работника (ISO 639-3).
var languageCodes = map[model.Language]string{
	model.LangRU: "rus",
	model.LangUZ: "uzb",
	model.LangTG: "tgk",
	model.LangKY: "kir",
}

// LanguageCode возвращает код языка для сервиса; для неизвестного языка - пустую строку.
func LanguageCode(lang model.Language) string {
	return languageCodes[lang]
}

// Result - результат распознавания.
type Result struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Client - клиент STT.
type Client struct {
	url        string
	apiKey     string
	modelID    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. timeout <= 0 означает 60 с.
func New(url, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		modelID:    DefaultModel,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "stt_client")),
	}
}

// Enabled сообщает, настроен ли сервис.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// URL возвращает адрес сервиса (для мониторинга зависимостей).
func (c *Client) URL() string {
	return c.url
}

// Transcribe отправляет аудио и возвращает распознанный текст.
// Ошибки классифицированы для драйвера повторов (upstream.Error).
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string, lang model.Language) (*Result, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("формирование запроса STT: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("формирование запроса STT: %w", err)
	}
	_ = mw.WriteField("model_id", c.modelID)
	if code := LanguageCode(lang); code != "" {
		_ = mw.WriteField("language_code", code)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("формирование запроса STT: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса STT: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("xi-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream.Wrap(service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, upstream.FromStatus(service, resp.StatusCode, fmt.Errorf("ответ STT: %s", msg))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, upstream.Permanentf(service, "декодирование ответа STT: %v", err)
	}

	c.logger.Debug("Аудио распознано",
		slog.Int("bytes", len(audio)),
		slog.String("language", res.LanguageCode),
		slog.Duration("duration", time.Since(start)),
	)
	return &res, nil
}
