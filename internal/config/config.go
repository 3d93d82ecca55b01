// Пакет config - загрузка и валидация конфигурации Worklog
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы получения обновлений Telegram.
const (
	UpdatesModeWebhook = "webhook"
	UpdatesModePolling = "polling"
)

// Config содержит все параметры конфигурации Worklog.
type Config struct {
	// --- Сервер ---

	// Хост HTTP-сервера (webhook + внутренний API)
	Host string
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Часовой пояс, в котором заданы date/start_time/end_time смен
	Location *time.Location

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Telegram ---

	// Токен бота
	BotToken string
	// Имя бота для deep-link (если пусто - берётся из getMe)
	BotUsername string
	// Шаблон URL Bot API (формат tgbotapi: ".../bot%s/%s")
	BotAPIEndpoint string
	// Шаблон URL скачивания файлов (".../file/bot%s/%s")
	BotFileEndpoint string
	// Режим получения обновлений: webhook или polling
	UpdatesMode string
	// Публичный URL webhook (без пути)
	WebhookURL string
	// Путь webhook на нашем сервере
	WebhookPath string
	// Секрет заголовка X-Telegram-Bot-Api-Secret-Token
	WebhookSecret string
	// Глобальный лимит запросов к Bot API в секунду
	TelegramRPS float64
	// Количество повторов запроса к Bot API при 503/429
	TelegramMaxRetries int
	// Лимит размера файла, который Bot API отдаёт боту
	MaxDownloadBytes int64
	// URL Mini App (кнопка в приветствии)
	MiniAppURL string

	// --- Object store (S3) ---

	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreRegion    string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool
	// Путь health-check для topologymetrics
	ObjectStoreHealthPath string
	// TTL presigned GET URL
	PresignGetTTL time.Duration
	// TTL presigned PUT URL
	PresignPutTTL time.Duration

	// --- Speech-to-text ---

	// URL сервиса распознавания речи (пусто - транскрипция отключена)
	STTURL string
	// API-ключ STT
	STTAPIKey string
	// Таймаут запроса к STT
	STTTimeout time.Duration

	// --- Redis (состояние регистрации) ---

	// URL Redis; пусто - состояние хранится в памяти процесса
	RedisURL string
	// TTL незавершённой регистрации
	RegistrationTTL time.Duration

	// --- JWT ---

	// PEM публичного ключа ERP (RS256)
	JWTPublicKey string
	// URL JWKS ERP (альтернатива JWTPublicKey)
	JWTJWKSURL  string
	JWTIssuer   string
	JWTAudience string
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration
	// Секрет HS256 для коротких токенов Mini App
	SessionSecret string
	// Время жизни токена Mini App
	SessionTTL time.Duration
	// Токен доверенных внутренних сервисов (заголовок X-Service-Token)
	ServiceToken string

	// --- Конвейер медиа ---

	// Количество воркеров пула задач
	PipelineWorkers int
	// Размер очереди задач
	PipelineQueueSize int
	// Максимум попыток одной задачи
	PipelineMaxAttempts int

	// --- Планировщик ---

	ActivateInterval   time.Duration
	CloseInterval      time.Duration
	WarningInterval    time.Duration
	QuestionInterval   time.Duration
	RecoverInterval    time.Duration
	LateCommitInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop,funlen // линейная загрузка переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// WEBAPP_HOST - хост HTTP-сервера (по умолчанию 0.0.0.0)
	cfg.Host = getEnvDefault("WEBAPP_HOST", "0.0.0.0")

	// WEBAPP_PORT - порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("WEBAPP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("WEBAPP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("WEBAPP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TIMEZONE - часовой пояс объектов (по умолчанию Europe/Moscow)
	tz := getEnvDefault("TIMEZONE", "Europe/Moscow")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: неизвестный часовой пояс %q", tz)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Telegram ---

	cfg.BotToken, err = getEnvRequired("BOT_TOKEN")
	if err != nil {
		return nil, err
	}
	cfg.BotUsername = strings.TrimPrefix(getEnvDefault("BOT_USERNAME", ""), "@")
	cfg.BotAPIEndpoint = getEnvDefault("BOT_API_ENDPOINT", "https://api.telegram.org/bot%s/%s")
	cfg.BotFileEndpoint = getEnvDefault("BOT_FILE_ENDPOINT", "https://api.telegram.org/file/bot%s/%s")

	cfg.WebhookURL = strings.TrimRight(getEnvDefault("WEBHOOK_URL", ""), "/")
	cfg.WebhookPath = getEnvDefault("WEBHOOK_PATH", "/telegram/webhook")
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		return nil, fmt.Errorf("WEBHOOK_PATH: путь должен начинаться с /: %q", cfg.WebhookPath)
	}
	cfg.WebhookSecret = getEnvDefault("WEBHOOK_SECRET", "")

	// TELEGRAM_MODE - по умолчанию webhook, если задан WEBHOOK_URL
	defaultMode := UpdatesModePolling
	if cfg.WebhookURL != "" {
		defaultMode = UpdatesModeWebhook
	}
	cfg.UpdatesMode = getEnvDefault("TELEGRAM_MODE", defaultMode)
	switch cfg.UpdatesMode {
	case UpdatesModePolling:
	case UpdatesModeWebhook:
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("TELEGRAM_MODE=webhook требует WEBHOOK_URL")
		}
		if _, err := url.ParseRequestURI(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("WEBHOOK_URL: некорректный URL %q", cfg.WebhookURL)
		}
	default:
		return nil, fmt.Errorf("TELEGRAM_MODE: недопустимое значение %q, допустимые: webhook, polling", cfg.UpdatesMode)
	}

	cfg.TelegramRPS, err = getEnvFloat("TELEGRAM_RPS", 2)
	if err != nil {
		return nil, fmt.Errorf("TELEGRAM_RPS: %w", err)
	}
	if cfg.TelegramRPS <= 0 {
		return nil, fmt.Errorf("TELEGRAM_RPS: значение должно быть положительным")
	}
	cfg.TelegramMaxRetries, err = getEnvInt("TELEGRAM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("TELEGRAM_MAX_RETRIES: %w", err)
	}
	maxDownload, err := getEnvInt("MAX_DOWNLOAD_BYTES", 20*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("MAX_DOWNLOAD_BYTES: %w", err)
	}
	cfg.MaxDownloadBytes = int64(maxDownload)
	cfg.MiniAppURL = getEnvDefault("MINI_APP_URL", "")

	// --- Object store ---

	cfg.ObjectStoreEndpoint, err = getEnvRequired("OBJECT_STORE_ENDPOINT")
	if err != nil {
		return nil, err
	}
	cfg.ObjectStoreAccessKey, err = getEnvRequired("OBJECT_STORE_ACCESS_KEY")
	if err != nil {
		return nil, err
	}
	cfg.ObjectStoreSecretKey, err = getEnvRequired("OBJECT_STORE_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	cfg.ObjectStoreRegion = getEnvDefault("OBJECT_STORE_REGION", "us-east-1")
	cfg.ObjectStoreBucket, err = getEnvRequired("OBJECT_STORE_BUCKET")
	if err != nil {
		return nil, err
	}
	cfg.ObjectStoreUseSSL, err = getEnvBool("OBJECT_STORE_USE_SSL", true)
	if err != nil {
		return nil, fmt.Errorf("OBJECT_STORE_USE_SSL: %w", err)
	}
	cfg.ObjectStoreHealthPath = getEnvDefault("OBJECT_STORE_HEALTH_PATH", "/minio/health/live")
	cfg.PresignGetTTL, err = getEnvDuration("PRESIGN_GET_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PRESIGN_GET_TTL: %w", err)
	}
	cfg.PresignPutTTL, err = getEnvDuration("PRESIGN_PUT_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PRESIGN_PUT_TTL: %w", err)
	}

	// --- STT ---

	cfg.STTURL = strings.TrimRight(getEnvDefault("STT_URL", ""), "/")
	cfg.STTAPIKey = getEnvDefault("STT_API_KEY", "")
	cfg.STTTimeout, err = getEnvDuration("STT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("STT_TIMEOUT: %w", err)
	}

	// --- Redis ---

	cfg.RedisURL = getEnvDefault("REDIS_URL", "")
	cfg.RegistrationTTL, err = getEnvDuration("REGISTRATION_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("REGISTRATION_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTPublicKey = getEnvDefault("JWT_PUBLIC_KEY", "")
	cfg.JWTJWKSURL = getEnvDefault("JWT_JWKS_URL", "")
	if cfg.JWTPublicKey == "" && cfg.JWTJWKSURL == "" {
		return nil, fmt.Errorf("JWT_PUBLIC_KEY или JWT_JWKS_URL: должен быть задан хотя бы один источник ключа")
	}
	cfg.JWTIssuer = getEnvDefault("JWT_ISSUER", "")
	cfg.JWTAudience = getEnvDefault("JWT_AUDIENCE", "")
	cfg.JWTLeeway, err = getEnvDuration("JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("JWT_LEEWAY: %w", err)
	}
	cfg.SessionSecret = getEnvDefault("SESSION_SECRET", "")
	if cfg.SessionSecret != "" && len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET: минимальная длина 32 байта")
	}
	cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	cfg.ServiceToken = getEnvDefault("SERVICE_TOKEN", "")

	// --- Конвейер ---

	cfg.PipelineWorkers, err = getEnvInt("PIPELINE_WORKERS", 8)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_WORKERS: %w", err)
	}
	if cfg.PipelineWorkers < 1 || cfg.PipelineWorkers > 256 {
		return nil, fmt.Errorf("PIPELINE_WORKERS: значение %d вне допустимого диапазона 1-256", cfg.PipelineWorkers)
	}
	cfg.PipelineQueueSize, err = getEnvInt("PIPELINE_QUEUE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_QUEUE_SIZE: %w", err)
	}
	cfg.PipelineMaxAttempts, err = getEnvInt("PIPELINE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_MAX_ATTEMPTS: %w", err)
	}
	if cfg.PipelineMaxAttempts < 1 {
		return nil, fmt.Errorf("PIPELINE_MAX_ATTEMPTS: значение должно быть не меньше 1")
	}

	// --- Планировщик ---

	intervals := []struct {
		key  string
		dst  *time.Duration
		dflt time.Duration
	}{
		{"SCHEDULER_ACTIVATE_INTERVAL", &cfg.ActivateInterval, 5 * time.Minute},
		{"SCHEDULER_CLOSE_INTERVAL", &cfg.CloseInterval, 15 * time.Minute},
		{"SCHEDULER_WARNING_INTERVAL", &cfg.WarningInterval, 10 * time.Minute},
		{"SCHEDULER_QUESTION_INTERVAL", &cfg.QuestionInterval, 15 * time.Minute},
		{"SCHEDULER_RECOVER_INTERVAL", &cfg.RecoverInterval, 5 * time.Minute},
		{"SCHEDULER_LATE_COMMIT_INTERVAL", &cfg.LateCommitInterval, 5 * time.Minute},
	}
	for _, iv := range intervals {
		*iv.dst, err = getEnvDuration(iv.key, iv.dflt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", iv.key, err)
		}
		if *iv.dst <= 0 {
			return nil, fmt.Errorf("%s: интервал должен быть положительным", iv.key)
		}
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DEPHEALTH_GROUP", "worklog")
	cfg.DephealthCheckInterval, err = getEnvDuration("DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// ObjectStoreURL возвращает базовый URL object store.
func (c *Config) ObjectStoreURL() string {
	scheme := "http"
	if c.ObjectStoreUseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.ObjectStoreEndpoint
}

// ListenAddr возвращает адрес для http.Server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
