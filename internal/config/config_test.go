package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"DB_HOST":                 "localhost",
		"DB_NAME":                 "worklog",
		"DB_USER":                 "worklog",
		"DB_PASSWORD":             "secret",
		"BOT_TOKEN":               "123:abc",
		"OBJECT_STORE_ENDPOINT":   "s3.local:9000",
		"OBJECT_STORE_ACCESS_KEY": "ak",
		"OBJECT_STORE_SECRET_KEY": "sk",
		"OBJECT_STORE_BUCKET":     "worklog",
		"JWT_JWKS_URL":            "https://erp.local/.well-known/jwks.json",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.UpdatesMode != UpdatesModePolling {
		t.Errorf("UpdatesMode = %q, ожидается polling без WEBHOOK_URL", cfg.UpdatesMode)
	}
	if cfg.TelegramRPS != 2 {
		t.Errorf("TelegramRPS = %v, ожидается 2", cfg.TelegramRPS)
	}
	if cfg.MaxDownloadBytes != 20*1024*1024 {
		t.Errorf("MaxDownloadBytes = %d, ожидается 20 MiB", cfg.MaxDownloadBytes)
	}
	if cfg.PresignGetTTL != 10*time.Minute || cfg.PresignPutTTL != 10*time.Minute {
		t.Errorf("TTL presigned = %v/%v, ожидается 10m/10m", cfg.PresignGetTTL, cfg.PresignPutTTL)
	}
	if cfg.ActivateInterval != 5*time.Minute {
		t.Errorf("ActivateInterval = %v, ожидается 5m", cfg.ActivateInterval)
	}
	if cfg.CloseInterval != 15*time.Minute {
		t.Errorf("CloseInterval = %v, ожидается 15m", cfg.CloseInterval)
	}
	if cfg.WarningInterval != 10*time.Minute {
		t.Errorf("WarningInterval = %v, ожидается 10m", cfg.WarningInterval)
	}
	if cfg.Location.String() != "Europe/Moscow" {
		t.Errorf("Location = %s, ожидается Europe/Moscow", cfg.Location)
	}
	if cfg.PipelineMaxAttempts != 3 {
		t.Errorf("PipelineMaxAttempts = %d, ожидается 3", cfg.PipelineMaxAttempts)
	}
}

func TestLoad_WebhookModeByURL(t *testing.T) {
	envs := minimalEnvs()
	envs["WEBHOOK_URL"] = "https://bot.example.com/"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.UpdatesMode != UpdatesModeWebhook {
		t.Errorf("UpdatesMode = %q, ожидается webhook", cfg.UpdatesMode)
	}
	if cfg.WebhookURL != "https://bot.example.com" {
		t.Errorf("WebhookURL = %q, trailing slash должен быть удалён", cfg.WebhookURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{
			name:    "нет BOT_TOKEN",
			mutate:  func(m map[string]string) { delete(m, "BOT_TOKEN") },
			wantErr: "BOT_TOKEN",
		},
		{
			name: "нет источника ключа JWT",
			mutate: func(m map[string]string) {
				delete(m, "JWT_JWKS_URL")
			},
			wantErr: "JWT_PUBLIC_KEY",
		},
		{
			name:    "webhook без URL",
			mutate:  func(m map[string]string) { m["TELEGRAM_MODE"] = "webhook" },
			wantErr: "WEBHOOK_URL",
		},
		{
			name:    "неизвестный режим",
			mutate:  func(m map[string]string) { m["TELEGRAM_MODE"] = "mtproto" },
			wantErr: "TELEGRAM_MODE",
		},
		{
			name:    "короткий SESSION_SECRET",
			mutate:  func(m map[string]string) { m["SESSION_SECRET"] = "short" },
			wantErr: "SESSION_SECRET",
		},
		{
			name:    "некорректный часовой пояс",
			mutate:  func(m map[string]string) { m["TIMEZONE"] = "Mars/Olympus" },
			wantErr: "TIMEZONE",
		},
		{
			name:    "нулевой RPS",
			mutate:  func(m map[string]string) { m["TELEGRAM_RPS"] = "0" },
			wantErr: "TELEGRAM_RPS",
		},
		{
			name:    "отрицательный интервал планировщика",
			mutate:  func(m map[string]string) { m["SCHEDULER_CLOSE_INTERVAL"] = "-1m" },
			wantErr: "SCHEDULER_CLOSE_INTERVAL",
		},
		{
			name:    "некорректный SSL mode",
			mutate:  func(m map[string]string) { m["DB_SSL_MODE"] = "maybe" },
			wantErr: "DB_SSL_MODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			tt.mutate(envs)
			setEnvs(t, envs)
			// Удалённые ключи могут остаться от окружения процесса
			for _, k := range []string{"BOT_TOKEN", "JWT_JWKS_URL"} {
				if _, ok := envs[k]; !ok {
					t.Setenv(k, "")
				}
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка с %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ошибка %q не содержит %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestObjectStoreURL(t *testing.T) {
	c := &Config{ObjectStoreEndpoint: "s3.local:9000", ObjectStoreUseSSL: false}
	if got := c.ObjectStoreURL(); got != "http://s3.local:9000" {
		t.Errorf("ObjectStoreURL() = %q", got)
	}
	c.ObjectStoreUseSSL = true
	if got := c.ObjectStoreURL(); got != "https://s3.local:9000" {
		t.Errorf("ObjectStoreURL() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.in, got, tt.want)
		}
	}
}
