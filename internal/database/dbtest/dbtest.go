// Пакет dbtest - PostgreSQL в Docker-контейнере для интеграционных тестов.
// Тесты запускаются только при установленной TEST_INTEGRATION.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/worklog/internal/config"
	"github.com/bigkaa/worklog/internal/database"
)

// Config запускает PostgreSQL контейнер и возвращает конфигурацию,
// указывающую на него. Остальные обязательные переменные заполняются заглушками.
func Config(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("worklog_test"),
		postgres.WithUsername("worklog"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DB_HOST", host)
	t.Setenv("DB_PORT", port.Port())
	t.Setenv("DB_NAME", "worklog_test")
	t.Setenv("DB_USER", "worklog")
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("DB_SSL_MODE", "disable")
	t.Setenv("BOT_TOKEN", "123:test")
	t.Setenv("OBJECT_STORE_ENDPOINT", "localhost:9000")
	t.Setenv("OBJECT_STORE_ACCESS_KEY", "test")
	t.Setenv("OBJECT_STORE_SECRET_KEY", "test")
	t.Setenv("OBJECT_STORE_BUCKET", "worklog")
	t.Setenv("JWT_JWKS_URL", "http://localhost/jwks")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// Pool запускает контейнер, применяет миграции и возвращает пул соединений.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := Config(t)
	logger := Logger()

	if err := database.Migrate(context.Background(), cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// Logger возвращает "тихий" логгер для тестов.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
